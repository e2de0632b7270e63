package http

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "sessiongate/internal/errors"
	"sessiongate/internal/services"
)

// StatsSource reports runtime statistics of the service
type StatsSource interface {
	SystemStats(ctx context.Context) (services.SystemStats, error)
}

// HubStats reports gateway counters
type HubStats interface {
	GetHubMetrics() map[string]interface{}
}

// MetricsHandler serves JSON statistics next to the Prometheus endpoint
type MetricsHandler struct {
	stats  StatsSource
	hub    HubStats
	errors *apierrors.ErrorHandler
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(stats StatsSource, hub HubStats, errorHandler *apierrors.ErrorHandler) *MetricsHandler {
	return &MetricsHandler{
		stats:  stats,
		hub:    hub,
		errors: errorHandler,
	}
}

// Routes sets up the metrics routes
func (h *MetricsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/stats", h.GetStats)
	r.Get("/gateway", h.GetGateway)
	return r
}

// GetStats handles GET /api/metrics/stats
func (h *MetricsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.SystemStats(r.Context())
	if err != nil {
		h.errors.HandleError(w, r, fmt.Errorf("system stats: %w", err))
		return
	}
	render.JSON(w, r, stats)
}

// GetGateway handles GET /api/metrics/gateway
func (h *MetricsHandler) GetGateway(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.hub.GetHubMetrics())
}
