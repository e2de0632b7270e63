package license

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v2"
)

// Status is the lifecycle state of a license subscription
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusExpired   Status = "expired"
)

// License is the entitlement record behind a license key
type License struct {
	Key       string    `json:"license_key"`
	Plan      string    `json:"plan,omitempty"`
	Status    Status    `json:"status"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// SubscriptionActive reports whether the license may hold a session at now.
// A zero ExpiresAt never expires.
func (l License) SubscriptionActive(now time.Time) bool {
	if l.Status != StatusActive {
		return false
	}
	return l.ExpiresAt.IsZero() || now.Before(l.ExpiresAt)
}

// Store resolves license keys to license records
type Store interface {
	Get(ctx context.Context, key string) (License, bool, error)
}

// MemoryStore is a Store held in process memory, typically seeded from YAML
type MemoryStore struct {
	mu       sync.RWMutex
	licenses map[string]License
}

// NewMemoryStore creates a store holding the given licenses
func NewMemoryStore(licenses ...License) *MemoryStore {
	s := &MemoryStore{licenses: make(map[string]License, len(licenses))}
	for _, l := range licenses {
		s.licenses[l.Key] = l
	}
	return s
}

// Get implements Store
func (s *MemoryStore) Get(_ context.Context, key string) (License, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.licenses[key]
	return l, ok, nil
}

// Put adds or replaces a license
func (s *MemoryStore) Put(l License) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.licenses[l.Key] = l
}

// Delete removes a license
func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.licenses, key)
}

// All returns a snapshot of every license held
func (s *MemoryStore) All() []License {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]License, 0, len(s.licenses))
	for _, l := range s.licenses {
		out = append(out, l)
	}
	return out
}

// Len returns the number of licenses held
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.licenses)
}

type seedFile struct {
	Licenses []seedLicense `yaml:"licenses"`
}

type seedLicense struct {
	Key       string `yaml:"key"`
	Plan      string `yaml:"plan"`
	Status    string `yaml:"status"`
	ExpiresAt string `yaml:"expires_at"`
}

// LoadSeedFile reads a YAML license seed file into a new MemoryStore.
//
//	licenses:
//	  - key: abc
//	    plan: pro
//	    status: active
//	    expires_at: 2027-01-01T00:00:00Z
func LoadSeedFile(path string) (*MemoryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read license seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed parses YAML seed data into a new MemoryStore
func ParseSeed(data []byte) (*MemoryStore, error) {
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse license seed: %w", err)
	}

	store := NewMemoryStore()
	for i, s := range seed.Licenses {
		if err := ValidateKey(s.Key); err != nil {
			return nil, fmt.Errorf("license seed entry %d: %w", i, err)
		}

		l := License{
			Key:    s.Key,
			Plan:   s.Plan,
			Status: Status(strings.ToLower(strings.TrimSpace(s.Status))),
		}
		if l.Status == "" {
			l.Status = StatusActive
		}
		if s.ExpiresAt != "" {
			t, err := time.Parse(time.RFC3339, s.ExpiresAt)
			if err != nil {
				return nil, fmt.Errorf("license seed entry %d: expires_at: %w", i, err)
			}
			l.ExpiresAt = t
		}
		store.Put(l)
	}
	return store, nil
}
