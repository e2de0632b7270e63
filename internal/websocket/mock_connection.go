package websocket

import (
	"errors"
	"sync"
	"time"
)

// ErrMockClosed is returned by MockConnection after Close
var ErrMockClosed = errors.New("connection closed")

// MockConnection is an in-memory Connection for tests. ReadMessage blocks
// until a frame is pushed with Deliver or the connection is closed.
type MockConnection struct {
	mu sync.Mutex

	WriteMessageFunc func(messageType int, data []byte) error
	WrittenMessages  []MockMessage

	inbound chan MockMessage
	closed  chan struct{}
	once    sync.Once

	CloseCode   int
	CloseReason string

	ReadDeadline  time.Time
	WriteDeadline time.Time
	PongHandler   func(string) error
	ReadLimit     int64

	RemoteAddress string
}

// MockMessage represents a frame for mocking
type MockMessage struct {
	Type int
	Data []byte
	Err  error
}

// NewMockConnection creates a new mock connection
func NewMockConnection() *MockConnection {
	return &MockConnection{
		WrittenMessages: make([]MockMessage, 0),
		inbound:         make(chan MockMessage, 16),
		closed:          make(chan struct{}),
		RemoteAddress:   "127.0.0.1:8080",
	}
}

// Deliver queues an inbound frame for ReadMessage
func (m *MockConnection) Deliver(messageType int, data []byte) {
	select {
	case m.inbound <- MockMessage{Type: messageType, Data: data}:
	case <-m.closed:
	}
}

// Fail makes the next ReadMessage return err, as a dropped peer would
func (m *MockConnection) Fail(err error) {
	select {
	case m.inbound <- MockMessage{Err: err}:
	case <-m.closed:
	}
}

// WriteMessage implements Connection
func (m *MockConnection) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isClosed() {
		return ErrMockClosed
	}
	if m.WriteMessageFunc != nil {
		return m.WriteMessageFunc(messageType, data)
	}

	m.WrittenMessages = append(m.WrittenMessages, MockMessage{Type: messageType, Data: data})
	return nil
}

// ReadMessage implements Connection
func (m *MockConnection) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-m.inbound:
		return msg.Type, msg.Data, msg.Err
	case <-m.closed:
		return 0, nil, ErrMockClosed
	}
}

// CloseWithReason implements Connection
func (m *MockConnection) CloseWithReason(code int, reason string) error {
	m.mu.Lock()
	if !m.isClosed() {
		m.CloseCode = code
		m.CloseReason = reason
	}
	m.mu.Unlock()
	return m.Close()
}

// Close implements Connection
func (m *MockConnection) Close() error {
	m.once.Do(func() { close(m.closed) })
	return nil
}

// Closed is closed once the connection is
func (m *MockConnection) Closed() <-chan struct{} {
	return m.closed
}

func (m *MockConnection) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

// SetReadDeadline implements Connection
func (m *MockConnection) SetReadDeadline(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadDeadline = t
	return nil
}

// SetWriteDeadline implements Connection
func (m *MockConnection) SetWriteDeadline(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WriteDeadline = t
	return nil
}

// SetReadLimit implements Connection
func (m *MockConnection) SetReadLimit(limit int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadLimit = limit
}

// SetPongHandler implements Connection
func (m *MockConnection) SetPongHandler(h func(string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PongHandler = h
}

// RemoteAddr implements Connection
func (m *MockConnection) RemoteAddr() string {
	return m.RemoteAddress
}

// GetWrittenMessages returns all frames written to the connection
func (m *MockConnection) GetWrittenMessages() []MockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]MockMessage, len(m.WrittenMessages))
	copy(result, m.WrittenMessages)
	return result
}

// GetCloseCode returns the close code passed to CloseWithReason
func (m *MockConnection) GetCloseCode() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CloseCode
}
