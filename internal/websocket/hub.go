package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apierrors "sessiongate/internal/errors"
	"sessiongate/internal/infrastructure"
)

// HubConfig tunes per-connection buffers and keepalive timing
type HubConfig struct {
	SendBufferSize int
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
}

func (c *HubConfig) applyDefaults() {
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = 64
	}
	if c.WriteWait <= 0 {
		c.WriteWait = writeWait
	}
	if c.PongWait <= 0 {
		c.PongWait = pongWait
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = (c.PongWait * 9) / 10
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = maxMessageSize
	}
}

// Hub tracks live clients by connection handle and pushes frames to them.
// Registration is synchronous so a handle is addressable as soon as
// Register returns.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client

	config  HubConfig
	logger  *slog.Logger
	metrics *OTelMetrics

	totalConnections int64
	messagesSent     int64
	messagesReceived int64
	deliveryFailures int64

	quit    chan struct{}
	running bool
}

// NewHub creates a new Hub. metrics may be nil.
func NewHub(cfg HubConfig, metrics *OTelMetrics, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	cfg.applyDefaults()

	return &Hub{
		clients: make(map[string]*Client),
		config:  cfg,
		logger:  infrastructure.WithComponent(logger, "websocket.hub"),
		metrics: metrics,
		quit:    make(chan struct{}),
	}
}

// Start starts the metrics reporter
func (h *Hub) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.reportMetrics()
}

// Stop shuts down every client and the metrics reporter
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	close(h.quit)

	clients := make([]*Client, 0, len(h.clients))
	for handle, client := range h.clients {
		clients = append(clients, client)
		delete(h.clients, handle)
	}
	h.mu.Unlock()

	for _, client := range clients {
		client.shutdown()
	}
	h.logger.Info("hub stopped", slog.Int("clients_closed", len(clients)))
}

// Register makes client addressable by its handle
func (h *Hub) Register(client *Client) error {
	h.mu.Lock()
	if _, exists := h.clients[client.handle]; exists {
		h.mu.Unlock()
		return fmt.Errorf("connection handle %s already registered", client.handle)
	}
	h.clients[client.handle] = client
	h.totalConnections++
	count := len(h.clients)
	h.mu.Unlock()

	ctx := client.context()
	h.logger.InfoContext(ctx, "client registered",
		slog.Int("total_clients", count),
		slog.String("connection_handle", client.handle),
		slog.String("remote_addr", client.remoteAddr))

	h.metrics.RecordConnection(ctx)
	return nil
}

// Unregister removes client and stops its write pump. Unregistering a
// client twice, or one that was replaced, is a no-op.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	current, ok := h.clients[client.handle]
	if !ok || current != client {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.handle)
	count := len(h.clients)
	h.mu.Unlock()

	client.shutdown()

	ctx := client.context()
	duration := time.Since(client.connectedAt)
	h.logger.InfoContext(ctx, "client unregistered",
		slog.Int("total_clients", count),
		slog.String("connection_handle", client.handle),
		slog.Duration("connection_duration", duration))

	h.metrics.RecordDisconnection(ctx, duration)
}

// Send pushes payload to the connection identified by handle. It waits for
// buffer space until ctx is done. Failures are *errors.DeliveryError.
func (h *Hub) Send(ctx context.Context, handle string, payload []byte) error {
	h.mu.RLock()
	client, ok := h.clients[handle]
	h.mu.RUnlock()

	if !ok {
		return h.deliveryFailed(ctx, handle, apierrors.ErrConnectionNotFound)
	}
	if err := client.enqueue(ctx, payload); err != nil {
		return h.deliveryFailed(ctx, handle, err)
	}

	h.mu.Lock()
	h.messagesSent++
	h.mu.Unlock()
	h.metrics.RecordDelivery(ctx, deliveryDelivered, int64(len(payload)))
	return nil
}

func (h *Hub) deliveryFailed(ctx context.Context, handle string, cause error) error {
	h.mu.Lock()
	h.deliveryFailures++
	h.mu.Unlock()

	result := deliveryNotFound
	if !errors.Is(cause, apierrors.ErrConnectionNotFound) {
		result = deliveryBufferFull
	}
	h.metrics.RecordDelivery(ctx, result, 0)

	return apierrors.NewDeliveryError(handle, cause)
}

// Close closes the connection identified by handle once its queued frames
// are flushed. It reports whether the handle was connected.
func (h *Hub) Close(handle string, code int, reason string) bool {
	h.mu.RLock()
	client, ok := h.clients[handle]
	h.mu.RUnlock()
	if ok {
		client.closeAfterFlush(code, reason)
	}
	return ok
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetHubMetrics returns current hub counters
func (h *Hub) GetHubMetrics() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]interface{}{
		"active_clients":    len(h.clients),
		"total_connections": h.totalConnections,
		"messages_sent":     h.messagesSent,
		"messages_received": h.messagesReceived,
		"delivery_failures": h.deliveryFailures,
	}
}

func (h *Hub) recordReceived() {
	h.mu.Lock()
	h.messagesReceived++
	h.mu.Unlock()
}

func (h *Hub) reportMetrics() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-h.quit:
			return
		case <-ticker.C:
			stats := h.GetHubMetrics()
			h.logger.Info("websocket hub metrics",
				slog.Any("active_clients", stats["active_clients"]),
				slog.Any("total_connections", stats["total_connections"]),
				slog.Any("messages_sent", stats["messages_sent"]),
				slog.Any("messages_received", stats["messages_received"]),
				slog.Any("delivery_failures", stats["delivery_failures"]))
		}
	}
}
