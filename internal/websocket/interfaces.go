package websocket

import (
	"context"
	"time"
)

// Connection defines the interface for WebSocket connections
// This allows for proper mocking in tests
type Connection interface {
	// WriteMessage writes a message with the given message type and payload
	WriteMessage(messageType int, data []byte) error

	// ReadMessage reads a message from the connection
	ReadMessage() (messageType int, p []byte, err error)

	// CloseWithReason sends a close frame carrying code and reason, then
	// closes the underlying connection
	CloseWithReason(code int, reason string) error

	// Close closes the connection without a close frame
	Close() error

	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(string) error)

	// RemoteAddr returns the remote network address
	RemoteAddr() string
}

// Dispatcher receives the session events of one gateway connection.
// Replies are already-encoded frames; keepOpen=false asks the gateway to
// close the connection once the reply has been written.
type Dispatcher interface {
	// Connect is called once, after the client is registered and before any
	// inbound frame is read.
	Connect(ctx context.Context, handle, licenseKey string) (reply []byte, keepOpen bool)

	// HandleMessage is called for every inbound frame, in arrival order.
	HandleMessage(ctx context.Context, handle string, message []byte) (reply []byte, keepOpen bool)

	// Disconnect is called exactly once when the connection is gone.
	Disconnect(ctx context.Context, handle string)
}
