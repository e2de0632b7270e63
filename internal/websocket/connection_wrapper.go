package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

// ConnectionWrapper adapts a gorilla/websocket connection to Connection
type ConnectionWrapper struct {
	conn *websocket.Conn
}

// NewConnectionWrapper creates a new connection wrapper
func NewConnectionWrapper(conn *websocket.Conn) Connection {
	return &ConnectionWrapper{conn: conn}
}

// WriteMessage writes a data frame
func (c *ConnectionWrapper) WriteMessage(messageType int, data []byte) error {
	return c.conn.WriteMessage(messageType, data)
}

// ReadMessage reads the next data frame
func (c *ConnectionWrapper) ReadMessage() (int, []byte, error) {
	return c.conn.ReadMessage()
}

// CloseWithReason writes a close control frame and closes the connection.
// The control frame is best effort: the socket is closed either way.
func (c *ConnectionWrapper) CloseWithReason(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	return c.conn.Close()
}

// Close closes the connection
func (c *ConnectionWrapper) Close() error {
	return c.conn.Close()
}

func (c *ConnectionWrapper) SetReadDeadline(t time.Time) error  { return c.conn.SetReadDeadline(t) }
func (c *ConnectionWrapper) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }
func (c *ConnectionWrapper) SetReadLimit(limit int64)           { c.conn.SetReadLimit(limit) }
func (c *ConnectionWrapper) SetPongHandler(h func(string) error) { c.conn.SetPongHandler(h) }

// RemoteAddr returns the remote network address
func (c *ConnectionWrapper) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
