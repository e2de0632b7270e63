package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sessiongate/internal/license"
)

// LicenseStore is a license.Store backed by the licenses table
type LicenseStore struct {
	pool *pgxpool.Pool
}

var _ license.Store = (*LicenseStore)(nil)

// NewLicenseStore creates a license store on an open pool
func NewLicenseStore(pool *pgxpool.Pool) *LicenseStore {
	return &LicenseStore{pool: pool}
}

// Get implements license.Store
func (s *LicenseStore) Get(ctx context.Context, key string) (license.License, bool, error) {
	var (
		l         = license.License{Key: key}
		status    string
		expiresAt *time.Time
	)

	err := s.pool.QueryRow(ctx, `
		SELECT plan, status, expires_at
		FROM licenses
		WHERE license_key = $1
	`, key).Scan(&l.Plan, &status, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return license.License{}, false, nil
	}
	if err != nil {
		return license.License{}, false, mapPostgresError(err)
	}

	l.Status = license.Status(status)
	if expiresAt != nil {
		l.ExpiresAt = *expiresAt
	}
	return l, true, nil
}

// Upsert inserts or replaces a license
func (s *LicenseStore) Upsert(ctx context.Context, l license.License) error {
	var expiresAt *time.Time
	if !l.ExpiresAt.IsZero() {
		t := l.ExpiresAt.UTC()
		expiresAt = &t
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO licenses (license_key, plan, status, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (license_key) DO UPDATE
		SET plan       = EXCLUDED.plan,
		    status     = EXCLUDED.status,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = now()
	`, l.Key, l.Plan, string(l.Status), expiresAt)
	return mapPostgresError(err)
}

// Seed upserts every license in a single batch
func (s *LicenseStore) Seed(ctx context.Context, licenses []license.License) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, l := range licenses {
			var expiresAt *time.Time
			if !l.ExpiresAt.IsZero() {
				t := l.ExpiresAt.UTC()
				expiresAt = &t
			}
			batch.Queue(`
				INSERT INTO licenses (license_key, plan, status, expires_at)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (license_key) DO NOTHING
			`, l.Key, l.Plan, string(l.Status), expiresAt)
		}
		return mapPostgresError(tx.SendBatch(ctx, batch).Close())
	})
}
