package http

import (
	"fmt"
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"sessiongate/internal/config"
	apierrors "sessiongate/internal/errors"
	"sessiongate/internal/infrastructure"
	"sessiongate/internal/middleware"
	"sessiongate/internal/services"
	ws "sessiongate/internal/websocket"
)

// RouterDeps are the components exposed over HTTP
type RouterDeps struct {
	Config     *config.Config
	Providers  *infrastructure.OTelProviders
	Hub        *ws.Hub
	Dispatcher ws.Dispatcher
	Sessions   SessionQuerier
	Health     *services.HealthService
	Logger     *slog.Logger
}

// NewRouter assembles the gateway endpoint, the REST API and /metrics.
// Middleware order: RequestID → RealIP → Recovery → OTel → SecureHeaders →
// CORS → RateLimit → ErrorMiddleware → Timeout.
func NewRouter(deps RouterDeps) (*chi.Mux, error) {
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	errorHandler := apierrors.NewErrorHandler(logger, false)
	validator := middleware.NewValidator()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apierrors.RecoveryMiddleware(errorHandler))

	r.NotFound(errorHandler.NotFound)
	r.MethodNotAllowed(errorHandler.MethodNotAllowed)

	// The gateway route must not wrap the ResponseWriter beyond what
	// hijacking allows, so it sits outside the API group
	wsHandler := NewWebSocketHandler(deps.Hub, deps.Dispatcher, WebSocketConfig{
		AllowedOrigins:  cfg.Security.AllowedOrigins,
		ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: cfg.WebSocket.WriteBufferSize,
	}, logger)
	r.With(
		middleware.WebSocketTraceMiddleware(logger),
		middleware.StructuredLogger(logger),
	).Get(config.WebSocketEndpoint, wsHandler.ServeHTTP)

	var groupErr error
	r.Group(func(r chi.Router) {
		if deps.Providers != nil {
			otelMiddleware, err := middleware.NewOTelMiddleware(deps.Providers)
			if err != nil {
				groupErr = fmt.Errorf("failed to create otel middleware: %w", err)
				return
			}
			r.Use(otelMiddleware.Handler)
		}

		r.Use(middleware.DefaultSecureHeaders().Handler)
		if cfg.Security.EnableCORS {
			r.Use(middleware.CORS(middleware.CORSConfig{
				AllowedOrigins: cfg.Security.AllowedOrigins,
				Logger:         logger,
			}))
		}
		if cfg.Security.RateLimit.Enabled {
			r.Use(middleware.NewRateLimiter(
				cfg.Security.RateLimit.RPS,
				cfg.Security.RateLimit.Burst,
				errorHandler,
				logger,
			).Handler)
		}

		r.Route(config.APIBasePath, func(r chi.Router) {
			r.Use(render.SetContentType(render.ContentTypeJSON))
			r.Use(apierrors.NewErrorMiddleware(errorHandler, logger).Handler)
			r.Use(middleware.Timeout(cfg.Server.RequestTimeout, logger))

			healthHandler := NewHealthHandler(deps.Health, logger)
			r.Get("/health", healthHandler.HealthCheck)
			r.Get("/health/ready", healthHandler.ReadinessCheck)
			r.Get("/health/live", healthHandler.LivenessCheck)
			r.Get("/health/detailed", healthHandler.DetailedHealth)
			r.Get("/version", healthHandler.Version)

			r.Mount("/metrics", NewMetricsHandler(deps.Health, deps.Hub, errorHandler).Routes())

			sessionHandler := NewSessionHandler(deps.Sessions, validator, errorHandler, logger)
			r.Route("/sessions", func(r chi.Router) {
				r.Use(middleware.APIKeyAuth(logger, errorHandler, cfg.Security.APIKeys))
				r.Use(middleware.ContentTypeValidator(errorHandler, "application/json"))
				r.Mount("/", sessionHandler.Routes())
			})
		})
	})
	if groupErr != nil {
		return nil, groupErr
	}

	if deps.Providers != nil && deps.Providers.PrometheusHTTP != nil {
		r.Handle(config.MetricsEndpoint, deps.Providers.PrometheusHTTP)
	}

	return r, nil
}
