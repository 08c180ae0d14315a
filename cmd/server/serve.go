package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"riskflow/backend/internal/api"
	"riskflow/backend/internal/auth"
	"riskflow/backend/internal/config"
	"riskflow/backend/internal/logging"
	"riskflow/backend/internal/mcp"
	"riskflow/backend/internal/services"
	"riskflow/backend/internal/telemetry"
	"riskflow/backend/internal/tls"
)

func runServe(ctx context.Context, configPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.NewLogger(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	logger.Info("Configuration loaded",
		"environment", cfg.Environment,
		"db_driver", cfg.DB.Driver,
		"scheduler_driver", cfg.Scheduler.Driver,
		"okta_domain", cfg.Auth.OktaDomain,
		"swagger_client_id", cfg.Auth.SwaggerClientID,
	)
	if cfg.Auth.SwaggerClientID != "" && cfg.Auth.SwaggerClientID == cfg.Auth.ClientID {
		logger.Warn("Swagger client ID matches the backend client ID; PKCE login from /docs will fail if the backend is a web app")
	}

	tp, shutdownTracing, err := telemetry.Setup(ctx, telemetry.Options{
		Enabled:     cfg.Telemetry.Enabled,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     api.Version,
	})
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Error("flushing traces", "error", err)
		}
	}()

	rt, err := services.New(ctx, cfg, logger, tp)
	if err != nil {
		return fmt.Errorf("failed to initialize runtime: %w", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Error("closing runtime", "error", err)
		}
	}()

	authz, err := auth.New(ctx, cfg, rt.Store, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize auth: %w", err)
	}

	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("failed to start runtime: %w", err)
	}

	e := newEcho(cfg, logger, rt, authz)
	e.Use(otelecho.Middleware(cfg.Telemetry.ServiceName, otelecho.WithTracerProvider(tp)))

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      e,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", server.Addr, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable {
			created, err := tls.EnsureSelfSignedCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames)
			if err != nil {
				serverErrors <- fmt.Errorf("preparing TLS certificate: %w", err)
				return
			}
			if created {
				logger.Warn("generated self-signed certificate", "cert", cfg.TLS.CertFile, "hosts", cfg.TLS.Hostnames)
			}
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
			return
		}
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")

		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(sctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error", "error", err)
			}
		}
		logger.Info("Server stopped gracefully")
	}
	return nil
}

// newEcho mounts the REST API, the MCP server, auth and docs routes.
func newEcho(cfg *config.Config, logger *logging.Logger, rt *services.Runtime, authz *auth.Auth) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = api.ErrorHandler(logger)

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			args := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				args = append(args, "error", v.Error)
			}
			logger.InfoContext(c.Request().Context(), "request", args...)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	requireAuth := echo.WrapMiddleware(authz.RequireAuth)

	e.GET("/health", api.NewHandler(rt.Store, nil).HandleHealth)

	// Register auth handlers
	e.GET("/login", echo.WrapHandler(http.HandlerFunc(authz.LoginHandler)))
	e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(authz.CallbackHandler)))
	e.GET("/logout", echo.WrapHandler(http.HandlerFunc(authz.LogoutHandler)))

	// Mount REST API handlers
	apiGroup := e.Group("/workflows", requireAuth)
	api.RegisterHandlersWithBaseURL(apiGroup, api.NewServer(rt.Engine), "")

	// Mount MCP protocol handlers
	mcpServer := mcp.NewServer(rt.Engine, api.Version)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp", echo.WrapHandler(mcpHandlers), requireAuth)
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers), requireAuth)

	// expose OpenAPI spec (with runtime substitution) and Swagger UI
	e.GET("/openapi.yaml", echo.WrapHandler(api.SpecHandler(cfg.Auth.OktaDomain)))
	e.GET("/docs", echo.WrapHandler(api.SwaggerHandler(cfg.Auth.OktaDomain, cfg.Auth.SwaggerClientID)))
	e.GET("/docs/oauth2-redirect.html", echo.WrapHandler(http.HandlerFunc(api.OAuthRedirectHandler)))

	return e
}
