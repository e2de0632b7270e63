package services

import (
	"context"

	"github.com/stretchr/testify/mock"

	"sessiongate/internal/session"
	"sessiongate/pkg/contracts/events"
)

// MockSessionControl is a mock for the SessionControl interface
type MockSessionControl struct {
	mock.Mock
}

func (m *MockSessionControl) Connect(ctx context.Context, licenseKey, handle string) events.SessionResult {
	args := m.Called(ctx, licenseKey, handle)
	return args.Get(0).(events.SessionResult)
}

func (m *MockSessionControl) Disconnect(ctx context.Context, handle string) events.SessionResult {
	args := m.Called(ctx, handle)
	return args.Get(0).(events.SessionResult)
}

func (m *MockSessionControl) Release(ctx context.Context, licenseKey, handle string) events.SessionResult {
	args := m.Called(ctx, licenseKey, handle)
	return args.Get(0).(events.SessionResult)
}

func (m *MockSessionControl) Validate(ctx context.Context, licenseKey, handle string) events.ValidateResponse {
	args := m.Called(ctx, licenseKey, handle)
	return args.Get(0).(events.ValidateResponse)
}

func (m *MockSessionControl) Lookup(ctx context.Context, licenseKey string) (session.Record, bool, error) {
	args := m.Called(ctx, licenseKey)
	return args.Get(0).(session.Record), args.Bool(1), args.Error(2)
}

func (m *MockSessionControl) ActiveSessions(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// MockClientCounter is a mock for the ClientCounter interface
type MockClientCounter struct {
	mock.Mock
}

func (m *MockClientCounter) ClientCount() int {
	args := m.Called()
	return args.Int(0)
}

// MockPinger is a mock for the Pinger interface
type MockPinger struct {
	mock.Mock
}

func (m *MockPinger) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
