package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// SeedLicense is one entry of a license seed file
type SeedLicense struct {
	Key       string
	Plan      string
	Status    string
	ExpiresAt time.Time
}

// Fixture licenses shared by gateway and service tests
var (
	ActiveLicense    = SeedLicense{Key: "abc", Plan: "pro", Status: "active"}
	SecondLicense    = SeedLicense{Key: "def", Plan: "basic", Status: "active"}
	SuspendedLicense = SeedLicense{Key: "suspended-1", Plan: "pro", Status: "suspended"}
)

// LapsedLicense returns an active license whose subscription ended a day ago
func LapsedLicense() SeedLicense {
	return SeedLicense{
		Key:       "lapsed-1",
		Plan:      "pro",
		Status:    "active",
		ExpiresAt: time.Now().Add(-24 * time.Hour).UTC().Truncate(time.Second),
	}
}

// DefaultSeed returns the standard fixture set
func DefaultSeed() []SeedLicense {
	return []SeedLicense{ActiveLicense, SecondLicense, SuspendedLicense, LapsedLicense()}
}

// SeedYAML renders licenses in the seed file format
func SeedYAML(licenses ...SeedLicense) string {
	var b strings.Builder
	b.WriteString("licenses:\n")
	for _, l := range licenses {
		fmt.Fprintf(&b, "  - key: %q\n", l.Key)
		if l.Plan != "" {
			fmt.Fprintf(&b, "    plan: %q\n", l.Plan)
		}
		if l.Status != "" {
			fmt.Fprintf(&b, "    status: %q\n", l.Status)
		}
		if !l.ExpiresAt.IsZero() {
			fmt.Fprintf(&b, "    expires_at: %q\n", l.ExpiresAt.Format(time.RFC3339))
		}
	}
	return b.String()
}

// WriteSeedFile writes licenses to a seed file under t.TempDir and returns its path
func WriteSeedFile(t *testing.T, licenses ...SeedLicense) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "licenses.yaml")
	if err := os.WriteFile(path, []byte(SeedYAML(licenses...)), 0o600); err != nil {
		t.Fatalf("write seed file: %v", err)
	}
	return path
}
