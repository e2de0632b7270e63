package websocket

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	apierrors "sessiongate/internal/errors"
	"sessiongate/internal/infrastructure"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

// Client is a middleman between one websocket connection and the hub
type Client struct {
	hub        *Hub
	dispatcher Dispatcher
	conn       Connection

	// Buffered channel of outbound frames. Never closed; done and closing
	// stop the write pump instead.
	send chan []byte

	done     chan struct{}
	doneOnce sync.Once

	closing     chan struct{}
	closingOnce sync.Once
	closeCode   int
	closeReason string

	handle      string
	traceID     string
	remoteAddr  string
	connectedAt time.Time

	logger *slog.Logger

	messagesSent     int64
	messagesReceived int64
	bytesSent        int64
	bytesReceived    int64
}

// NewClient creates a client with a fresh connection handle
func NewClient(hub *Hub, dispatcher Dispatcher, conn Connection, traceID string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	handle := uuid.NewString()
	logger = logger.With(
		slog.String("component", "websocket.client"),
		slog.String("connection_handle", handle),
	)
	if traceID != "" {
		logger = logger.With(slog.String("trace_id", traceID))
	}

	return &Client{
		hub:         hub,
		dispatcher:  dispatcher,
		conn:        conn,
		send:        make(chan []byte, hub.config.SendBufferSize),
		done:        make(chan struct{}),
		closing:     make(chan struct{}),
		handle:      handle,
		traceID:     traceID,
		remoteAddr:  conn.RemoteAddr(),
		connectedAt: time.Now(),
		logger:      logger,
	}
}

// Handle returns the connection handle assigned to this client
func (c *Client) Handle() string {
	return c.handle
}

func (c *Client) context() context.Context {
	ctx := context.Background()
	if c.traceID != "" {
		ctx = infrastructure.WithTraceID(ctx, c.traceID)
	}
	return ctx
}

// enqueue hands payload to the write pump, waiting for buffer space until
// ctx is done.
func (c *Client) enqueue(ctx context.Context, payload []byte) error {
	select {
	case <-c.done:
		return apierrors.ErrConnectionNotFound
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return apierrors.ErrConnectionNotFound
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", apierrors.ErrSendBufferFull, ctx.Err())
	}
}

func (c *Client) shutdown() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Client) closeAfterFlush(code int, reason string) {
	c.closingOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.closing)
	})
}

func (c *Client) isClosing() bool {
	select {
	case <-c.closing:
		return true
	case <-c.done:
		return true
	default:
		return false
	}
}

// reply queues a dispatcher reply and, when keepOpen is false, schedules
// the close that follows it.
func (c *Client) reply(ctx context.Context, payload []byte, keepOpen bool, closeCode int) {
	if payload != nil {
		sendCtx, cancel := context.WithTimeout(ctx, c.hub.config.WriteWait)
		err := c.enqueue(sendCtx, payload)
		cancel()
		if err != nil {
			c.logger.WarnContext(ctx, "failed to queue reply", slog.String("error", err.Error()))
		}
	}
	if !keepOpen {
		c.closeAfterFlush(closeCode, "")
	}
}

// ReadPump reads frames from the connection and hands them to the
// dispatcher. When it returns the client is unregistered and the dispatcher
// sees exactly one Disconnect.
func (c *Client) ReadPump() {
	ctx := c.context()
	defer func() {
		c.hub.Unregister(c)
		c.disconnect(ctx)
		c.conn.Close()

		c.logger.InfoContext(ctx, "websocket client disconnected",
			slog.Duration("connection_duration", time.Since(c.connectedAt)),
			slog.Int64("messages_received", c.messagesReceived),
			slog.Int64("bytes_received", c.bytesReceived))
	}()

	cfg := c.hub.config
	c.conn.SetReadLimit(cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.WarnContext(ctx, "unexpected websocket close", slog.String("error", err.Error()))
			}
			return
		}
		message = bytes.TrimSpace(message)

		c.messagesReceived++
		c.bytesReceived += int64(len(message))
		c.hub.recordReceived()
		c.hub.metrics.RecordMessageReceived(ctx, int64(len(message)))

		if c.isClosing() {
			continue
		}

		reply, keepOpen := c.dispatcher.HandleMessage(ctx, c.handle, message)
		c.reply(ctx, reply, keepOpen, websocket.CloseNormalClosure)
	}
}

// connect runs the dispatcher's Connect. A panic is reported as a failed
// connect so the caller still closes and unregisters the client.
func (c *Client) connect(ctx context.Context, licenseKey string) (reply []byte, keepOpen, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.ErrorContext(ctx, "dispatcher connect panicked", slog.Any("panic", r))
			reply, keepOpen, ok = nil, false, false
		}
	}()
	reply, keepOpen = c.dispatcher.Connect(ctx, c.handle, licenseKey)
	return reply, keepOpen, true
}

// disconnect runs the dispatcher's Disconnect on the read pump goroutine,
// where an escaped panic would take the process down.
func (c *Client) disconnect(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.ErrorContext(ctx, "dispatcher disconnect panicked", slog.Any("panic", r))
		}
	}()
	c.dispatcher.Disconnect(ctx, c.handle)
}

// WritePump writes queued frames and keepalive pings to the connection
func (c *Client) WritePump() {
	ctx := c.context()
	cfg := c.hub.config
	ticker := time.NewTicker(cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()

		c.logger.DebugContext(ctx, "websocket write pump stopped",
			slog.Int64("messages_sent", c.messagesSent),
			slog.Int64("bytes_sent", c.bytesSent))
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.write(ctx, message); err != nil {
				return
			}

		case <-c.closing:
			if err := c.flush(ctx); err != nil {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			c.conn.CloseWithReason(c.closeCode, c.closeReason)
			return

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			c.conn.CloseWithReason(websocket.CloseGoingAway, "")
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.DebugContext(ctx, "failed to send ping", slog.String("error", err.Error()))
				return
			}
		}
	}
}

// flush writes whatever was queued before the close was requested
func (c *Client) flush(ctx context.Context) error {
	for {
		select {
		case message := <-c.send:
			if err := c.write(ctx, message); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (c *Client) write(ctx context.Context, message []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		c.logger.WarnContext(ctx, "error writing message to websocket", slog.String("error", err.Error()))
		return err
	}
	c.messagesSent++
	c.bytesSent += int64(len(message))
	c.hub.metrics.RecordMessageSent(ctx, int64(len(message)))
	return nil
}

// ServeWS registers a new client for conn, runs the dispatcher's Connect and
// starts the pumps. A rejected Connect gets its reply frame and is then
// closed with a policy-violation close code.
func ServeWS(hub *Hub, dispatcher Dispatcher, conn Connection, licenseKey, traceID string, logger *slog.Logger) (*Client, error) {
	client := NewClient(hub, dispatcher, conn, traceID, logger)
	if err := hub.Register(client); err != nil {
		conn.Close()
		return nil, err
	}

	go client.WritePump()

	ctx := client.context()
	reply, keepOpen, ok := client.connect(ctx, licenseKey)
	if !ok {
		// The read pump still runs so the client is unregistered and
		// Disconnect undoes whatever the failed connect bound.
		client.closeAfterFlush(websocket.CloseInternalServerErr, "")
	} else {
		client.reply(ctx, reply, keepOpen, websocket.ClosePolicyViolation)
	}

	go client.ReadPump()
	return client, nil
}
