package websocket

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	hub := NewHub(HubConfig{SendBufferSize: 8}, nil, testLogger())
	conn := NewMockConnection()

	a := NewClient(hub, newStubDispatcher(), conn, "trace-1", testLogger())
	b := NewClient(hub, newStubDispatcher(), conn, "", nil)

	assert.NotEmpty(t, a.Handle())
	assert.NotEqual(t, a.Handle(), b.Handle(), "every client gets a fresh handle")
	assert.Equal(t, 8, cap(a.send))
	assert.Equal(t, "127.0.0.1:8080", a.remoteAddr)
	assert.Equal(t, "trace-1", a.traceID)
}

func TestClientConstants(t *testing.T) {
	assert.Equal(t, 10*time.Second, writeWait)
	assert.Equal(t, 60*time.Second, pongWait)
	assert.Equal(t, 4096, maxMessageSize)
}

func TestServeWSAccepted(t *testing.T) {
	hub := NewHub(HubConfig{}, nil, testLogger())
	dispatcher := newStubDispatcher()
	conn := NewMockConnection()

	client, err := ServeWS(hub, dispatcher, conn, "abc", "trace-1", testLogger())
	require.NoError(t, err)
	require.NotNil(t, client)

	written := waitForWrites(t, conn, 1)
	assert.JSONEq(t, `{"action":"connect_response"}`, string(written[0].Data))
	assert.Equal(t, 1, hub.ClientCount())

	dispatcher.mu.Lock()
	assert.Equal(t, []string{client.Handle() + "|abc"}, dispatcher.connects)
	dispatcher.mu.Unlock()

	// Read limits and deadlines are applied by the read pump
	require.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return conn.ReadLimit == int64(maxMessageSize) && conn.PongHandler != nil
	}, time.Second, 5*time.Millisecond)

	conn.Deliver(websocket.TextMessage, []byte(`  {"action":"ping"}  `))
	written = waitForWrites(t, conn, 2)
	assert.Equal(t, `{"action":"ping"}`, string(written[1].Data), "frames are trimmed before dispatch")

	conn.Close()
	select {
	case handle := <-dispatcher.disconnected:
		assert.Equal(t, client.Handle(), handle)
	case <-time.After(time.Second):
		t.Fatal("disconnect was not dispatched")
	}
	assert.Equal(t, 0, hub.ClientCount())
}

func TestServeWSRejected(t *testing.T) {
	hub := NewHub(HubConfig{}, nil, testLogger())
	dispatcher := newStubDispatcher()
	dispatcher.connectReply = []byte(`{"action":"connect_response","data":{"status":false}}`)
	dispatcher.connectKeepOpen = false
	conn := NewMockConnection()

	client, err := ServeWS(hub, dispatcher, conn, "unknown", "", testLogger())
	require.NoError(t, err)

	waitClosed(t, conn)

	written := textFrames(conn.GetWrittenMessages())
	require.Len(t, written, 1, "the rejection is written before the close")
	assert.JSONEq(t, `{"action":"connect_response","data":{"status":false}}`, string(written[0].Data))
	assert.Equal(t, websocket.ClosePolicyViolation, conn.GetCloseCode())

	select {
	case handle := <-dispatcher.disconnected:
		assert.Equal(t, client.Handle(), handle)
	case <-time.After(time.Second):
		t.Fatal("disconnect was not dispatched")
	}
	assert.Equal(t, 0, hub.ClientCount())
}

func TestClientCloseAfterReply(t *testing.T) {
	hub := NewHub(HubConfig{}, nil, testLogger())
	dispatcher := newStubDispatcher()
	dispatcher.messageReply = func(message []byte) ([]byte, bool) {
		return []byte(`{"action":"close_session_response"}`), false
	}
	conn := NewMockConnection()

	_, err := ServeWS(hub, dispatcher, conn, "abc", "", testLogger())
	require.NoError(t, err)
	waitForWrites(t, conn, 1)

	conn.Deliver(websocket.TextMessage, []byte(`{"action":"close_session"}`))
	waitClosed(t, conn)

	written := textFrames(conn.GetWrittenMessages())
	require.Len(t, written, 2)
	assert.JSONEq(t, `{"action":"close_session_response"}`, string(written[1].Data))
	assert.Equal(t, websocket.CloseNormalClosure, conn.GetCloseCode())
}

func TestClientDisconnectExactlyOnce(t *testing.T) {
	hub := NewHub(HubConfig{}, nil, testLogger())
	hub.Start()
	dispatcher := newStubDispatcher()
	conn := NewMockConnection()

	client, err := ServeWS(hub, dispatcher, conn, "abc", "", testLogger())
	require.NoError(t, err)
	waitForWrites(t, conn, 1)

	// Peer drop, then a hub shutdown racing the read pump's cleanup
	conn.Fail(io.ErrUnexpectedEOF)
	hub.Stop()
	hub.Unregister(client)

	select {
	case <-dispatcher.disconnected:
	case <-time.After(time.Second):
		t.Fatal("disconnect was not dispatched")
	}

	// Give any stray duplicate a chance to show up
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, dispatcher.disconnectCount())
}

func TestClientIgnoresFramesWhileClosing(t *testing.T) {
	hub := NewHub(HubConfig{}, nil, testLogger())
	dispatcher := newStubDispatcher()
	conn := NewMockConnection()

	client := NewClient(hub, dispatcher, conn, "", testLogger())
	require.NoError(t, hub.Register(client))
	client.closeAfterFlush(websocket.CloseNormalClosure, "")
	assert.True(t, client.isClosing())

	go client.ReadPump()
	conn.Deliver(websocket.TextMessage, []byte(`{"action":"validate"}`))
	conn.Fail(errors.New("peer gone"))

	select {
	case <-dispatcher.disconnected:
	case <-time.After(time.Second):
		t.Fatal("disconnect was not dispatched")
	}

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	assert.Empty(t, dispatcher.messages)
}

func TestClientWriteFailureStopsPump(t *testing.T) {
	hub := NewHub(HubConfig{}, nil, testLogger())
	conn := NewMockConnection()
	conn.WriteMessageFunc = func(int, []byte) error {
		return errors.New("broken pipe")
	}
	client := NewClient(hub, newStubDispatcher(), conn, "", testLogger())
	require.NoError(t, hub.Register(client))

	stopped := make(chan struct{})
	go func() {
		client.WritePump()
		close(stopped)
	}()

	require.NoError(t, client.enqueue(t.Context(), []byte("frame")))

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("write pump should stop on a write error")
	}
	waitClosed(t, conn)
}

func TestServeWSConnectPanicClosesClient(t *testing.T) {
	hub := NewHub(HubConfig{}, nil, testLogger())
	dispatcher := newStubDispatcher()
	dispatcher.connectPanic = "checker exploded"
	conn := NewMockConnection()

	var client *Client
	require.NotPanics(t, func() {
		var err error
		client, err = ServeWS(hub, dispatcher, conn, "abc", "", testLogger())
		require.NoError(t, err)
	})

	waitClosed(t, conn)
	assert.Empty(t, textFrames(conn.GetWrittenMessages()), "no connect reply follows a panic")
	assert.Equal(t, websocket.CloseInternalServerErr, conn.GetCloseCode())

	select {
	case handle := <-dispatcher.disconnected:
		assert.Equal(t, client.Handle(), handle)
	case <-time.After(time.Second):
		t.Fatal("disconnect was not dispatched")
	}
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, dispatcher.disconnectCount())
}

func TestClientDisconnectPanicIsContained(t *testing.T) {
	hub := NewHub(HubConfig{}, nil, testLogger())
	dispatcher := newStubDispatcher()
	dispatcher.disconnectPanic = "directory exploded"
	conn := NewMockConnection()

	client, err := ServeWS(hub, dispatcher, conn, "abc", "", testLogger())
	require.NoError(t, err)
	waitForWrites(t, conn, 1)

	conn.Close()
	select {
	case handle := <-dispatcher.disconnected:
		assert.Equal(t, client.Handle(), handle)
	case <-time.After(time.Second):
		t.Fatal("disconnect was not dispatched")
	}

	// The read pump survives the panic and finishes its cleanup
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, dispatcher.disconnectCount())
}
