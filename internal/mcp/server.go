// Package mcp exposes workflow executions as MCP tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"riskflow/backend/internal/apperr"
	"riskflow/backend/internal/auth"
	"riskflow/backend/internal/engine"
	"riskflow/backend/pkg/models"
)

// Engine runs workflow executions.
type Engine interface {
	Submit(ctx context.Context, req engine.SubmitRequest) (*models.Execution, error)
	Get(ctx context.Context, id string) (*models.ExecutionDetail, error)
	Cancel(ctx context.Context, id string) (*models.Execution, error)
	Replay(ctx context.Context, id string) (*models.Execution, error)
}

type Server struct {
	mcpServer *server.MCPServer
	engine    Engine
}

func NewServer(eng Engine, version string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Riskflow Workflows",
			version,
			server.WithToolCapabilities(true),
		),
		engine: eng,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"execute_workflow",
			mcp.WithDescription("Start a risk or compliance workflow. The first step runs immediately; the rest follow their SLA schedule."),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow category, e.g. incident_response, policy_review, kri_breach")),
			mcp.WithObject("context", mcp.Description("Business context passed to every step, e.g. severity and incident details")),
			mcp.WithString("org_id", mcp.Description("Organization, when the session is not authenticated")),
		),
		s.handleExecute,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_execution",
			mcp.WithDescription("Get an execution's status and step log"),
			mcp.WithString("execution_id", mcp.Required(), mcp.Description("The ID of the execution")),
		),
		s.handleGet,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"cancel_execution",
			mcp.WithDescription("Cancel a pending or running execution"),
			mcp.WithString("execution_id", mcp.Required(), mcp.Description("The ID of the execution")),
		),
		s.handleCancel,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"replay_execution",
			mcp.WithDescription("Start a new execution from a failed or cancelled one"),
			mcp.WithString("execution_id", mcp.Required(), mcp.Description("The ID of the execution to replay")),
		),
		s.handleReplay,
	)
}

func (s *Server) handleExecute(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	workflowID, ok := args["workflow_id"].(string)
	if !ok || workflowID == "" {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}

	var execCtx map[string]any
	if raw, present := args["context"]; present && raw != nil {
		execCtx, ok = raw.(map[string]interface{})
		if !ok {
			return mcp.NewToolResultError("Parameter context must be an object"), nil
		}
	}

	orgID, ok := auth.OrgID(ctx)
	if !ok {
		orgID, _ = args["org_id"].(string)
	}
	if orgID == "" {
		return mcp.NewToolResultError("Missing required parameter: org_id"), nil
	}

	exec, err := s.engine.Submit(ctx, engine.SubmitRequest{
		WorkflowID: workflowID,
		OrgID:      orgID,
		Context:    execCtx,
	})
	if err != nil {
		return toolError("Failed to execute workflow", err)
	}

	return jsonResult(map[string]any{
		"execution_id": exec.ID,
		"status":       exec.Status,
		"steps_count":  exec.StepsCount,
	})
}

func (s *Server) handleGet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := executionID(request)
	if errResult != nil {
		return errResult, nil
	}

	detail, err := s.visible(ctx, id)
	if err != nil {
		return toolError("Failed to get execution", err)
	}
	return jsonResult(detail)
}

func (s *Server) handleCancel(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := executionID(request)
	if errResult != nil {
		return errResult, nil
	}

	if _, err := s.visible(ctx, id); err != nil {
		return toolError("Failed to cancel execution", err)
	}
	exec, err := s.engine.Cancel(ctx, id)
	if err != nil {
		return toolError("Failed to cancel execution", err)
	}
	return jsonResult(exec)
}

func (s *Server) handleReplay(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := executionID(request)
	if errResult != nil {
		return errResult, nil
	}

	if _, err := s.visible(ctx, id); err != nil {
		return toolError("Failed to replay execution", err)
	}
	exec, err := s.engine.Replay(ctx, id)
	if err != nil {
		return toolError("Failed to replay execution", err)
	}
	return jsonResult(map[string]any{
		"execution_id": exec.ID,
		"status":       exec.Status,
		"steps_count":  exec.StepsCount,
		"replay_of":    exec.ReplayOf,
	})
}

// visible loads an execution, hiding those of other organizations.
func (s *Server) visible(ctx context.Context, id string) (*models.ExecutionDetail, error) {
	detail, err := s.engine.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if orgID, ok := auth.OrgID(ctx); ok && detail.OrgID != orgID {
		return nil, fmt.Errorf("execution %s: %w", id, apperr.ErrNotFound)
	}
	return detail, nil
}

func executionID(request mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return "", mcp.NewToolResultError("Invalid arguments type")
	}
	id, ok := args["execution_id"].(string)
	if !ok || id == "" {
		return "", mcp.NewToolResultError("Missing required parameter: execution_id")
	}
	return id, nil
}

// toolError reports caller mistakes as tool results and everything else as a
// protocol error.
func toolError(prefix string, err error) (*mcp.CallToolResult, error) {
	var (
		validation *apperr.ValidationError
		invalid    *apperr.InvalidStateError
	)
	if errors.As(err, &validation) || errors.As(err, &invalid) || errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err)), nil
	}
	return nil, fmt.Errorf("%s: %w", prefix, err)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// MountHTTPHandlers serves the MCP server over SSE below /mcp. The
// organization resolved by the auth middleware is carried into tool calls.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer,
		server.WithStaticBasePath("/mcp"),
		server.WithSSEContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if orgID, ok := auth.OrgID(r.Context()); ok {
				return auth.WithOrgID(ctx, orgID)
			}
			return ctx
		}),
	)

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
