// Package api contains the HTTP handlers of the workflow service
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/labstack/echo/v4"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Pinger checks a backing dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains the service-level HTTP handlers
type Handler struct {
	db    Pinger
	clock clock.Clock
}

// NewHandler creates a new Handler. db may be nil.
func NewHandler(db Pinger, clk clock.Clock) *Handler {
	if clk == nil {
		clk = clock.New()
	}
	return &Handler{db: db, clock: clk}
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Database  string    `json:"database,omitempty"`
}

// HandleHealth reports the service status. It returns 503 when the database
// does not answer.
// (GET /health)
func (h *Handler) HandleHealth(c echo.Context) error {
	status := HealthStatus{
		Status:    "ok",
		Timestamp: h.clock.Now().UTC(),
		Service:   "riskflow",
		Version:   Version,
	}
	code := http.StatusOK

	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			status.Status = "degraded"
			status.Database = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			status.Database = "ok"
		}
	}
	return c.JSON(code, status)
}
