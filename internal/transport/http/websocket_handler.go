package http

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"sessiongate/internal/config"
	apierrors "sessiongate/internal/errors"
	"sessiongate/internal/infrastructure"
	"sessiongate/internal/license"
	"sessiongate/internal/middleware"
	ws "sessiongate/internal/websocket"
)

// WebSocketConfig holds the upgrade settings of the gateway endpoint
type WebSocketConfig struct {
	AllowedOrigins  []string
	ReadBufferSize  int
	WriteBufferSize int
}

// WebSocketHandler upgrades /ws requests and hands the connection to the hub
type WebSocketHandler struct {
	hub        *ws.Hub
	dispatcher ws.Dispatcher
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

// NewWebSocketHandler creates the gateway upgrade handler
func NewWebSocketHandler(hub *ws.Hub, dispatcher ws.Dispatcher, cfg WebSocketConfig, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	h := &WebSocketHandler{
		hub:        hub,
		dispatcher: dispatcher,
		logger:     logger.With(slog.String("handler", "websocket")),
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			// Non-browser clients send no Origin
			if origin == "" {
				return true
			}
			if middleware.OriginAllowed(cfg.AllowedOrigins, origin) {
				return true
			}
			h.logger.WarnContext(r.Context(), "websocket origin rejected",
				slog.String("origin", origin),
				slog.Any("allowed_origins", cfg.AllowedOrigins))
			return false
		},
		Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
			h.logger.WarnContext(r.Context(), "websocket upgrade error",
				slog.Int("status", status),
				slog.String("reason", reason.Error()))
			apierrors.WriteError(w, apierrors.UpgradeError(status, reason))
		},
	}

	return h
}

// ServeHTTP handles GET /ws?licenseKey=<key>. The key is checked by the
// session manager after the upgrade so a rejected client still receives a
// connect_response frame.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := infrastructure.EnsureTraceID(r.Context())
	licenseKey := r.URL.Query().Get(config.LicenseKeyParam)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the error response
		h.logger.DebugContext(ctx, "websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	client, err := ws.ServeWS(h.hub, h.dispatcher, ws.NewConnectionWrapper(conn), licenseKey,
		infrastructure.GetTraceID(ctx), h.logger)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to register websocket client",
			slog.String("error", err.Error()),
			slog.String("license", license.Fingerprint(licenseKey)))
		return
	}

	h.logger.InfoContext(ctx, "websocket client connected",
		slog.String("connection_handle", client.Handle()),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("license", license.Fingerprint(licenseKey)))
}
