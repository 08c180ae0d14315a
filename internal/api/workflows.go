package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"riskflow/backend/internal/apperr"
	"riskflow/backend/internal/auth"
	"riskflow/backend/internal/engine"
	"riskflow/backend/internal/graph"
	"riskflow/backend/pkg/models"
)

// Engine runs workflow executions.
type Engine interface {
	Submit(ctx context.Context, req engine.SubmitRequest) (*models.Execution, error)
	Get(ctx context.Context, id string) (*models.ExecutionDetail, error)
	Cancel(ctx context.Context, id string) (*models.Execution, error)
	Replay(ctx context.Context, id string) (*models.Execution, error)
}

// Server implements ServerInterface on top of the engine.
type Server struct {
	Engine Engine
}

// NewServer creates a new Server.
func NewServer(eng Engine) *Server {
	return &Server{Engine: eng}
}

var _ ServerInterface = (*Server)(nil)

// ExecuteRequest is the body of POST /workflows/execute. OrgID is only read
// when the request is not authenticated.
type ExecuteRequest struct {
	WorkflowID string         `json:"workflow_id"`
	OrgID      string         `json:"org_id,omitempty"`
	Context    map[string]any `json:"context"`
}

// ExecuteResponse acknowledges a submitted execution.
type ExecuteResponse struct {
	ExecutionID string                 `json:"execution_id"`
	Status      models.ExecutionStatus `json:"status"`
	StepsCount  int                    `json:"steps_count"`
}

// ValidateResponse is the result of a definition dry run.
type ValidateResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
	// Executable is set when the graph is a straight line the engine can run.
	Executable bool              `json:"executable"`
	Steps      []models.StepSpec `json:"steps,omitempty"`
}

// ExecuteWorkflow submits a new execution. Its first step has run by the
// time the response is written.
// (POST /workflows/execute)
func (s *Server) ExecuteWorkflow(c echo.Context) error {
	var req ExecuteRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validationf("invalid request body: %v", err)
	}

	orgID, ok := auth.OrgID(c.Request().Context())
	if !ok {
		orgID = req.OrgID
	}
	if orgID == "" {
		return apperr.Validationf("org_id is required")
	}

	exec, err := s.Engine.Submit(c.Request().Context(), engine.SubmitRequest{
		WorkflowID: req.WorkflowID,
		OrgID:      orgID,
		Context:    req.Context,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, ExecuteResponse{
		ExecutionID: exec.ID,
		Status:      exec.Status,
		StepsCount:  exec.StepsCount,
	})
}

// GetExecution returns an execution with its log.
// (GET /workflows/executions/{id})
func (s *Server) GetExecution(c echo.Context, id string) error {
	detail, err := s.visible(c, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, detail)
}

// CancelExecution cancels a pending or running execution.
// (POST /workflows/executions/{id}/cancel)
func (s *Server) CancelExecution(c echo.Context, id string) error {
	if _, err := s.visible(c, id); err != nil {
		return err
	}
	exec, err := s.Engine.Cancel(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, exec)
}

// ReplayExecution starts a new execution from a failed or cancelled one.
// (POST /workflows/executions/{id}/replay)
func (s *Server) ReplayExecution(c echo.Context, id string) error {
	if _, err := s.visible(c, id); err != nil {
		return err
	}
	exec, err := s.Engine.Replay(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, ExecuteResponse{
		ExecutionID: exec.ID,
		Status:      exec.Status,
		StepsCount:  exec.StepsCount,
	})
}

// ValidateDefinition checks a workflow graph without storing it. A valid
// straight-line graph is answered with its step sequence.
// (POST /workflows/definitions/validate)
func (s *Server) ValidateDefinition(c echo.Context) error {
	var def models.WorkflowDefinition
	if err := c.Bind(&def); err != nil {
		return apperr.Validationf("invalid request body: %v", err)
	}

	if err := graph.Validate(&def); err != nil {
		return validationResult(c, err, ValidateResponse{})
	}

	resp := ValidateResponse{Valid: true}
	steps, err := graph.Linearize(&def)
	if err != nil {
		return validationResult(c, err, resp)
	}
	resp.Executable = true
	resp.Steps = steps
	return c.JSON(http.StatusOK, resp)
}

// validationResult answers a failed check with its reason.
func validationResult(c echo.Context, err error, resp ValidateResponse) error {
	var validation *apperr.ValidationError
	if !errors.As(err, &validation) {
		return err
	}
	resp.Reason = validation.Reason
	return c.JSON(http.StatusOK, resp)
}

// visible loads an execution, hiding those of other organizations.
func (s *Server) visible(c echo.Context, id string) (*models.ExecutionDetail, error) {
	detail, err := s.Engine.Get(c.Request().Context(), id)
	if err != nil {
		return nil, err
	}
	if orgID, ok := auth.OrgID(c.Request().Context()); ok && detail.OrgID != orgID {
		return nil, apperr.ErrNotFound
	}
	return detail, nil
}
