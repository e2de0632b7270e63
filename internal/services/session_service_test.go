package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sessiongate/internal/license"
	"sessiongate/internal/session"
	"sessiongate/pkg/contracts/events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type frame struct {
	Action string               `json:"action"`
	Data   events.SessionResult `json:"data"`
}

func decodeFrame(t *testing.T, payload []byte) frame {
	t.Helper()
	var f frame
	require.NoError(t, json.Unmarshal(payload, &f))
	return f
}

func TestSessionService_Connect(t *testing.T) {
	tests := []struct {
		name     string
		result   events.SessionResult
		keepOpen bool
	}{
		{
			name:     "accepted",
			result:   events.SessionResult{Status: true, StatusCode: 200, Message: events.MessageConnectionEstablished},
			keepOpen: true,
		},
		{
			name:     "invalid_license",
			result:   events.SessionResult{Status: false, StatusCode: 403, Message: events.MessageInvalidLicense},
			keepOpen: false,
		},
		{
			name:     "server_error",
			result:   events.SessionResult{Status: false, StatusCode: 500, Message: events.MessageServerError},
			keepOpen: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := new(MockSessionControl)
			sessions.On("Connect", mock.Anything, "abc", "conn1").Return(tt.result)

			svc := NewSessionService(sessions, testLogger())
			reply, keepOpen := svc.Connect(context.Background(), "conn1", "abc")

			assert.Equal(t, tt.keepOpen, keepOpen)
			f := decodeFrame(t, reply)
			assert.Equal(t, events.ActionConnectResponse, f.Action)
			assert.Equal(t, tt.result, f.Data)
			sessions.AssertExpectations(t)
		})
	}
}

func TestSessionService_HandleValidate(t *testing.T) {
	sessions := new(MockSessionControl)
	sessions.On("Validate", mock.Anything, "abc", "conn1").Return(events.NewValidateResponse(events.SessionResult{
		Status: true, StatusCode: 200, Message: events.MessageValid,
	}))

	svc := NewSessionService(sessions, testLogger())
	reply, keepOpen := svc.HandleMessage(context.Background(), "conn1",
		[]byte(`{"action":"validate","data":{"licenseKey":"abc"}}`))

	assert.True(t, keepOpen)
	assert.JSONEq(t, `{"action":"validate_response","data":{"status":true,"statusCode":200,"message":"valid"}}`, string(reply))
	sessions.AssertExpectations(t)
}

func TestSessionService_HandleCloseSession(t *testing.T) {
	sessions := new(MockSessionControl)
	sessions.On("Release", mock.Anything, "abc", "conn1").Return(events.SessionResult{
		Status: true, StatusCode: 200, Message: events.MessageConnectionClosed,
	})

	svc := NewSessionService(sessions, testLogger())
	reply, keepOpen := svc.HandleMessage(context.Background(), "conn1",
		[]byte(`{"action":"close_session","data":{"licenseKey":"abc"}}`))

	assert.False(t, keepOpen, "close_session ends the connection")
	f := decodeFrame(t, reply)
	assert.Equal(t, events.ActionCloseSessionResponse, f.Action)
	assert.Equal(t, events.MessageConnectionClosed, f.Data.Message)
	sessions.AssertExpectations(t)
}

func TestSessionService_HandlePing(t *testing.T) {
	sessions := new(MockSessionControl)
	svc := NewSessionService(sessions, testLogger())

	reply, keepOpen := svc.HandleMessage(context.Background(), "conn1", []byte(`{"action":"ping"}`))

	assert.True(t, keepOpen)
	assert.JSONEq(t, `{"action":"pong"}`, string(reply))
	sessions.AssertNotCalled(t, "Validate", mock.Anything, mock.Anything, mock.Anything)
}

func TestSessionService_HandleBadFrames(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    string
	}{
		{"not_json", `not json`, events.MessageMalformedMessage},
		{"wrong_shape", `{"action":42}`, events.MessageMalformedMessage},
		{"unknown_action", `{"action":"teleport","data":{"licenseKey":"abc"}}`, events.MessageUnknownAction},
		{"missing_action", `{}`, events.MessageUnknownAction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := new(MockSessionControl)
			svc := NewSessionService(sessions, testLogger())

			reply, keepOpen := svc.HandleMessage(context.Background(), "conn1", []byte(tt.message))

			assert.True(t, keepOpen, "bad frames do not close the connection")
			f := decodeFrame(t, reply)
			assert.Equal(t, events.ActionError, f.Action)
			assert.Equal(t, events.SessionResult{Status: false, StatusCode: 400, Message: tt.want}, f.Data)
			sessions.AssertExpectations(t)
		})
	}
}

func TestSessionService_Disconnect(t *testing.T) {
	sessions := new(MockSessionControl)
	sessions.On("Disconnect", mock.Anything, "conn1").Return(events.SessionResult{
		Status: true, StatusCode: 200, Message: events.MessageConnectionClosed,
	}).Once()
	sessions.On("Disconnect", mock.Anything, "conn2").Return(events.SessionResult{
		Status: false, StatusCode: 500, Message: events.MessageServerError,
	}).Once()

	svc := NewSessionService(sessions, testLogger())
	svc.Disconnect(context.Background(), "conn1")
	svc.Disconnect(context.Background(), "conn2")

	sessions.AssertExpectations(t)
}

func TestSessionService_Passthrough(t *testing.T) {
	sessions := new(MockSessionControl)
	rec := session.Record{LicenseKey: "abc", ConnectionHandle: "conn1"}
	sessions.On("Lookup", mock.Anything, "abc").Return(rec, true, nil)
	sessions.On("ActiveSessions", mock.Anything).Return(3, nil)
	sessions.On("Validate", mock.Anything, "abc", "conn2").Return(events.NewValidateResponse(events.SessionResult{
		Status: false, StatusCode: 403, Message: events.MessageNotFound,
	}))

	svc := NewSessionService(sessions, testLogger())
	ctx := context.Background()

	got, found, err := svc.Lookup(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, rec, got)

	n, err := svc.ActiveSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	resp := svc.Validate(ctx, "abc", "conn2")
	assert.Equal(t, events.MessageNotFound, resp.Data.Message)
	sessions.AssertExpectations(t)
}

// recordingNotifier captures displacement events synchronously
type recordingNotifier struct {
	displaced []session.Invalidation
}

func (n *recordingNotifier) NotifyDisplaced(_ context.Context, inv session.Invalidation) {
	n.displaced = append(n.displaced, inv)
}

// The service over a real manager reproduces the connect, displace,
// validate and close flow of two clients sharing a license.
func TestSessionService_WithManager(t *testing.T) {
	store := license.NewMemoryStore(license.License{Key: "abc", Status: license.StatusActive})
	checker := license.NewChecker(store, nil, nil, testLogger())
	notifier := &recordingNotifier{}
	manager := session.NewManager(session.NewMemoryDirectory(), checker, notifier, nil, testLogger())
	svc := NewSessionService(manager, testLogger())
	ctx := context.Background()

	reply, keepOpen := svc.Connect(ctx, "conn1", "abc")
	assert.True(t, keepOpen)
	assert.Equal(t, events.MessageConnectionEstablished, decodeFrame(t, reply).Data.Message)

	reply, keepOpen = svc.Connect(ctx, "conn2", "abc")
	assert.True(t, keepOpen)
	assert.True(t, decodeFrame(t, reply).Data.Status)
	require.Len(t, notifier.displaced, 1)
	assert.Equal(t, "conn1", notifier.displaced[0].Handle)

	validate := []byte(`{"action":"validate","data":{"licenseKey":"abc"}}`)

	reply, _ = svc.HandleMessage(ctx, "conn1", validate)
	assert.Equal(t, events.SessionResult{Status: false, StatusCode: 403, Message: events.MessageNotFound}, decodeFrame(t, reply).Data)

	reply, _ = svc.HandleMessage(ctx, "conn2", validate)
	assert.Equal(t, events.SessionResult{Status: true, StatusCode: 200, Message: events.MessageValid}, decodeFrame(t, reply).Data)

	// The displaced connection going away leaves conn2 bound
	svc.Disconnect(ctx, "conn1")
	rec, found, err := svc.Lookup(ctx, "abc")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "conn2", rec.ConnectionHandle)

	reply, keepOpen = svc.HandleMessage(ctx, "conn2", []byte(`{"action":"close_session","data":{"licenseKey":"abc"}}`))
	assert.False(t, keepOpen)
	assert.Equal(t, events.MessageConnectionClosed, decodeFrame(t, reply).Data.Message)

	_, found, err = svc.Lookup(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, found)

	reply, keepOpen = svc.Connect(ctx, "conn3", "unknown")
	assert.False(t, keepOpen)
	assert.Equal(t, events.MessageInvalidLicense, decodeFrame(t, reply).Data.Message)
}
