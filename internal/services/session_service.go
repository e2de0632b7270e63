package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"sessiongate/internal/license"
	"sessiongate/internal/session"
	"sessiongate/pkg/contracts/events"
)

// SessionControl is the subset of session.Manager the service drives
type SessionControl interface {
	Connect(ctx context.Context, licenseKey, handle string) events.SessionResult
	Disconnect(ctx context.Context, handle string) events.SessionResult
	Release(ctx context.Context, licenseKey, handle string) events.SessionResult
	Validate(ctx context.Context, licenseKey, handle string) events.ValidateResponse
	Lookup(ctx context.Context, licenseKey string) (session.Record, bool, error)
	ActiveSessions(ctx context.Context) (int, error)
}

// SessionService translates gateway frames into session transitions and
// encodes the replies. It implements websocket.Dispatcher.
type SessionService struct {
	sessions SessionControl
	logger   *slog.Logger
}

// NewSessionService creates the session dispatcher
func NewSessionService(sessions SessionControl, logger *slog.Logger) *SessionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionService{
		sessions: sessions,
		logger:   logger.With(slog.String("service", "session")),
	}
}

// Connect binds the license presented at upgrade time. A rejected connect
// asks the gateway to close after the reply.
func (s *SessionService) Connect(ctx context.Context, handle, licenseKey string) ([]byte, bool) {
	result := s.sessions.Connect(ctx, licenseKey, handle)
	return s.encode(ctx, events.ActionMessage{Action: events.ActionConnectResponse, Data: result}), result.Status
}

// HandleMessage routes one inbound frame
func (s *SessionService) HandleMessage(ctx context.Context, handle string, message []byte) ([]byte, bool) {
	var msg events.InboundMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		s.logger.DebugContext(ctx, "malformed frame",
			slog.String("connection_handle", handle),
			slog.String("error", err.Error()))
		return s.errorFrame(ctx, events.MessageMalformedMessage), true
	}

	switch msg.Action {
	case events.ActionValidate:
		return s.encode(ctx, s.sessions.Validate(ctx, msg.Data.LicenseKey, handle)), true

	case events.ActionCloseSession:
		result := s.sessions.Release(ctx, msg.Data.LicenseKey, handle)
		return s.encode(ctx, events.ActionMessage{Action: events.ActionCloseSessionResponse, Data: result}), false

	case events.ActionPing:
		return s.encode(ctx, events.ActionMessage{Action: events.ActionPong}), true

	default:
		s.logger.DebugContext(ctx, "unknown action",
			slog.String("connection_handle", handle),
			slog.String("action", msg.Action),
			slog.String("license", license.Fingerprint(msg.Data.LicenseKey)))
		return s.errorFrame(ctx, events.MessageUnknownAction), true
	}
}

// Disconnect releases the session bound to handle
func (s *SessionService) Disconnect(ctx context.Context, handle string) {
	result := s.sessions.Disconnect(ctx, handle)
	if result.StatusCode != http.StatusOK {
		s.logger.WarnContext(ctx, "disconnect not applied",
			slog.String("connection_handle", handle),
			slog.Int("status_code", result.StatusCode),
			slog.String("message", result.Message))
	}
}

// Validate answers the REST validate endpoint with the same envelope as the
// push channel.
func (s *SessionService) Validate(ctx context.Context, licenseKey, handle string) events.ValidateResponse {
	return s.sessions.Validate(ctx, licenseKey, handle)
}

// Lookup returns the record bound to licenseKey
func (s *SessionService) Lookup(ctx context.Context, licenseKey string) (session.Record, bool, error) {
	return s.sessions.Lookup(ctx, licenseKey)
}

// ActiveSessions returns the number of bound licenses
func (s *SessionService) ActiveSessions(ctx context.Context) (int, error) {
	return s.sessions.ActiveSessions(ctx)
}

func (s *SessionService) errorFrame(ctx context.Context, message string) []byte {
	return s.encode(ctx, events.ActionMessage{
		Action: events.ActionError,
		Data: events.SessionResult{
			Status:     false,
			StatusCode: http.StatusBadRequest,
			Message:    message,
		},
	})
}

func (s *SessionService) encode(ctx context.Context, v interface{}) []byte {
	payload, err := json.Marshal(v)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to encode frame", slog.String("error", err.Error()))
		return nil
	}
	return payload
}
