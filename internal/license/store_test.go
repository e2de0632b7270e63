package license

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionActive(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		license License
		want    bool
	}{
		{"active without expiry", License{Status: StatusActive}, true},
		{"active before expiry", License{Status: StatusActive, ExpiresAt: now.Add(time.Hour)}, true},
		{"active at expiry", License{Status: StatusActive, ExpiresAt: now}, false},
		{"active after expiry", License{Status: StatusActive, ExpiresAt: now.Add(-time.Hour)}, false},
		{"suspended", License{Status: StatusSuspended}, false},
		{"expired status", License{Status: StatusExpired, ExpiresAt: now.Add(time.Hour)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.license.SubscriptionActive(now))
		})
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(License{Key: "abc", Status: StatusActive})

	l, found, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "abc", l.Key)

	_, found, err = store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	store.Put(License{Key: "def", Status: StatusSuspended})
	assert.Equal(t, 2, store.Len())

	store.Delete("abc")
	_, found, _ = store.Get(ctx, "abc")
	assert.False(t, found)
}

func TestParseSeed(t *testing.T) {
	data := []byte(`
licenses:
  - key: abc
    plan: pro
    status: active
    expires_at: "2027-01-01T00:00:00Z"
  - key: lapsed
    status: Suspended
  - key: forever
`)

	store, err := ParseSeed(data)
	require.NoError(t, err)
	assert.Equal(t, 3, store.Len())

	ctx := context.Background()

	abc, found, _ := store.Get(ctx, "abc")
	require.True(t, found)
	assert.Equal(t, "pro", abc.Plan)
	assert.Equal(t, StatusActive, abc.Status)
	assert.Equal(t, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), abc.ExpiresAt.UTC())

	lapsed, _, _ := store.Get(ctx, "lapsed")
	assert.Equal(t, StatusSuspended, lapsed.Status)

	forever, _, _ := store.Get(ctx, "forever")
	assert.Equal(t, StatusActive, forever.Status, "status defaults to active")
	assert.True(t, forever.ExpiresAt.IsZero())
}

func TestParseSeedErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"invalid yaml", "licenses: [unterminated"},
		{"malformed key", "licenses:\n  - key: \"bad key\"\n"},
		{"empty key", "licenses:\n  - plan: pro\n"},
		{"bad expiry", "licenses:\n  - key: abc\n    expires_at: \"tomorrow\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSeed([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "licenses.yaml")
	require.NoError(t, os.WriteFile(path, []byte("licenses:\n  - key: abc\n"), 0o600))

	store, err := LoadSeedFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())

	_, err = LoadSeedFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
