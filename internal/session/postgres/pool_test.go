package postgres

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolConfigDefaults(t *testing.T) {
	cfg := &PoolConfig{ConnString: "postgres://localhost/sessions"}
	cfg.ApplyDefaults()

	assert.Equal(t, int32(20), cfg.MaxConns)
	assert.Equal(t, int32(2), cfg.MinConns)
	assert.Equal(t, time.Hour, cfg.MaxConnLifetime)
	assert.Equal(t, 30*time.Minute, cfg.MaxConnIdleTime)
	assert.Equal(t, time.Minute, cfg.HealthCheckPeriod)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestPoolConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  PoolConfig
	}{
		{"missing conn string", PoolConfig{MaxConns: 1, MinConns: 1}},
		{"min above max", PoolConfig{ConnString: "postgres://x", MaxConns: 2, MinConns: 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.cfg.Validate())
		})
	}
}

func TestNewPoolRejectsBadConfig(t *testing.T) {
	_, err := NewPool(context.Background(), nil)
	assert.Error(t, err)

	_, err = NewPool(context.Background(), &PoolConfig{})
	assert.Error(t, err)

	_, err = NewPool(context.Background(), &PoolConfig{ConnString: "::not a dsn::"})
	assert.Error(t, err)
}

func TestMapPostgresError(t *testing.T) {
	assert.NoError(t, mapPostgresError(nil))

	plain := errors.New("plain")
	assert.Same(t, plain, mapPostgresError(plain))

	tests := []struct {
		code        string
		unavailable bool
	}{
		{pgerrcode.ConnectionFailure, true},
		{pgerrcode.AdminShutdown, true},
		{pgerrcode.TooManyConnections, true},
		{pgerrcode.UniqueViolation, false},
		{pgerrcode.SerializationFailure, false},
		{pgerrcode.UndefinedTable, false},
		{pgerrcode.SyntaxError, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			pgErr := &pgconn.PgError{Code: tt.code, Message: "boom"}
			err := mapPostgresError(pgErr)

			require.Error(t, err)
			assert.Equal(t, tt.unavailable, errors.Is(err, ErrUnavailable))

			var target *pgconn.PgError
			assert.True(t, errors.As(err, &target), "original error stays reachable")
		})
	}
}

func TestLoadMigrations(t *testing.T) {
	migrations, err := loadMigrations(testLogger())
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(migrations), 2)

	for i := 1; i < len(migrations); i++ {
		assert.Less(t, migrations[i-1].version, migrations[i].version)
	}
	assert.Contains(t, migrations[0].content, "license_sessions")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}
