package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"sessiongate/internal/config"
	apierrors "sessiongate/internal/errors"
	"sessiongate/internal/license"
	"sessiongate/internal/middleware"
	"sessiongate/internal/session"
	"sessiongate/pkg/contracts/events"
)

// SessionQuerier is the read side of the session service used over REST
type SessionQuerier interface {
	Validate(ctx context.Context, licenseKey, handle string) events.ValidateResponse
	Lookup(ctx context.Context, licenseKey string) (session.Record, bool, error)
}

// SessionHandler serves the session REST API
type SessionHandler struct {
	sessions  SessionQuerier
	validator *middleware.Validator
	errors    *apierrors.ErrorHandler
	logger    *slog.Logger
}

// ValidateRequest is the body of POST /api/sessions/validate. The key format
// is left to the session manager so malformed keys get the same envelope
// as on the push channel.
type ValidateRequest struct {
	LicenseKey       string `json:"licenseKey" validate:"required"`
	ConnectionHandle string `json:"connectionHandle" validate:"required"`
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions SessionQuerier, validator *middleware.Validator, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions:  sessions,
		validator: validator,
		errors:    errorHandler,
		logger:    logger.With(slog.String("handler", "session")),
	}
}

// Routes returns a chi router for session endpoints
func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/validate", h.Validate)
	r.Get(fmt.Sprintf("/{%s}", config.LicenseKeyParam), h.GetSession)
	return r
}

// GetSession handles GET /api/sessions/{licenseKey}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	licenseKey := chi.URLParam(r, config.LicenseKeyParam)

	if err := h.validator.Var(config.LicenseKeyParam, licenseKey, "required,"+license.KeyTag); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	record, found, err := h.sessions.Lookup(ctx, licenseKey)
	if err != nil {
		h.errors.HandleError(w, r, fmt.Errorf("lookup session: %w", err))
		return
	}
	if !found {
		h.errors.HandleError(w, r, apierrors.ErrSessionNotFound)
		return
	}

	h.logger.DebugContext(ctx, "session lookup",
		slog.String("license", license.Fingerprint(licenseKey)),
		slog.String("connection_handle", record.ConnectionHandle))

	render.JSON(w, r, record)
}

// Validate handles POST /api/sessions/validate. Internal failures are
// reported inside the envelope, never as an HTTP error.
func (h *SessionHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := h.validator.DecodeJSON(w, r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, h.sessions.Validate(r.Context(), req.LicenseKey, req.ConnectionHandle))
}
