package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/oapi-codegen/runtime"
)

// ServerInterface represents all server handlers of openapi.yaml.
type ServerInterface interface {
	// (POST /workflows/execute)
	ExecuteWorkflow(ctx echo.Context) error
	// (GET /workflows/executions/{id})
	GetExecution(ctx echo.Context, id string) error
	// (POST /workflows/executions/{id}/cancel)
	CancelExecution(ctx echo.Context, id string) error
	// (POST /workflows/executions/{id}/replay)
	ReplayExecution(ctx echo.Context, id string) error
	// (POST /workflows/definitions/validate)
	ValidateDefinition(ctx echo.Context) error
}

// ServerInterfaceWrapper converts echo contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler ServerInterface
}

func (w *ServerInterfaceWrapper) ExecuteWorkflow(ctx echo.Context) error {
	return w.Handler.ExecuteWorkflow(ctx)
}

func (w *ServerInterfaceWrapper) GetExecution(ctx echo.Context) error {
	id, err := bindID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.GetExecution(ctx, id)
}

func (w *ServerInterfaceWrapper) CancelExecution(ctx echo.Context) error {
	id, err := bindID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.CancelExecution(ctx, id)
}

func (w *ServerInterfaceWrapper) ReplayExecution(ctx echo.Context) error {
	id, err := bindID(ctx)
	if err != nil {
		return err
	}
	return w.Handler.ReplayExecution(ctx, id)
}

func (w *ServerInterfaceWrapper) ValidateDefinition(ctx echo.Context) error {
	return w.Handler.ValidateDefinition(ctx)
}

// bindID reads the "id" path parameter.
func bindID(ctx echo.Context) (string, error) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", ctx.Param("id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter id: %s", err))
	}
	if id == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "Missing parameter id")
	}
	return id, nil
}

// EchoRouter is implemented by both echo.Echo and echo.Group.
type EchoRouter interface {
	GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}

// RegisterHandlers adds each server route below /workflows to the router.
func RegisterHandlers(router EchoRouter, si ServerInterface) {
	RegisterHandlersWithBaseURL(router, si, "/workflows")
}

// RegisterHandlersWithBaseURL adds each server route below baseURL. Pass ""
// for a router that is already a /workflows group.
func RegisterHandlersWithBaseURL(router EchoRouter, si ServerInterface, baseURL string) {
	wrapper := ServerInterfaceWrapper{Handler: si}

	router.POST(baseURL+"/execute", wrapper.ExecuteWorkflow)
	router.GET(baseURL+"/executions/:id", wrapper.GetExecution)
	router.POST(baseURL+"/executions/:id/cancel", wrapper.CancelExecution)
	router.POST(baseURL+"/executions/:id/replay", wrapper.ReplayExecution)
	router.POST(baseURL+"/definitions/validate", wrapper.ValidateDefinition)
}
