package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sessiongate/internal/session"
)

// Directory is a session.Directory backed by the license_sessions table.
// The unique connection_handle column doubles as the reverse index.
type Directory struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ session.Directory = (*Directory)(nil)

// NewDirectory creates a Postgres directory on an open pool
func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool, now: time.Now}
}

// Put implements session.Directory. Writers for the same key serialise on a
// transaction-scoped advisory lock derived from the key.
func (d *Directory) Put(ctx context.Context, licenseKey, handle string) (session.Record, bool, error) {
	var (
		previous session.Record
		replaced bool
	)

	err := pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, licenseKey); err != nil {
			return fmt.Errorf("lock license: %w", err)
		}

		err := tx.QueryRow(ctx, `
			SELECT connection_handle, established_at
			FROM license_sessions
			WHERE license_key = $1
		`, licenseKey).Scan(&previous.ConnectionHandle, &previous.EstablishedAt)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return fmt.Errorf("load current session: %w", err)
		default:
			previous.LicenseKey = licenseKey
			replaced = true
		}

		// A handle owns at most one license.
		if _, err := tx.Exec(ctx, `
			DELETE FROM license_sessions
			WHERE connection_handle = $1 AND license_key <> $2
		`, handle, licenseKey); err != nil {
			return fmt.Errorf("release handle: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO license_sessions (license_key, connection_handle, established_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (license_key) DO UPDATE
			SET connection_handle = EXCLUDED.connection_handle,
			    established_at    = EXCLUDED.established_at
		`, licenseKey, handle, d.now().UTC()); err != nil {
			return fmt.Errorf("bind session: %w", err)
		}
		return nil
	})
	if err != nil {
		return session.Record{}, false, mapPostgresError(err)
	}
	return previous, replaced, nil
}

// Remove implements session.Directory
func (d *Directory) Remove(ctx context.Context, licenseKey, handle string) (bool, error) {
	tag, err := d.pool.Exec(ctx, `
		DELETE FROM license_sessions
		WHERE license_key = $1 AND connection_handle = $2
	`, licenseKey, handle)
	if err != nil {
		return false, mapPostgresError(err)
	}
	return tag.RowsAffected() == 1, nil
}

// Lookup implements session.Directory
func (d *Directory) Lookup(ctx context.Context, licenseKey string) (session.Record, bool, error) {
	rec := session.Record{LicenseKey: licenseKey}
	err := d.pool.QueryRow(ctx, `
		SELECT connection_handle, established_at
		FROM license_sessions
		WHERE license_key = $1
	`, licenseKey).Scan(&rec.ConnectionHandle, &rec.EstablishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return session.Record{}, false, nil
	}
	if err != nil {
		return session.Record{}, false, mapPostgresError(err)
	}
	return rec, true, nil
}

// LicenseFor implements session.Directory
func (d *Directory) LicenseFor(ctx context.Context, handle string) (string, bool, error) {
	var licenseKey string
	err := d.pool.QueryRow(ctx, `
		SELECT license_key FROM license_sessions WHERE connection_handle = $1
	`, handle).Scan(&licenseKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, mapPostgresError(err)
	}
	return licenseKey, true, nil
}

// Count implements session.Directory
func (d *Directory) Count(ctx context.Context) (int, error) {
	var n int64
	if err := d.pool.QueryRow(ctx, `SELECT count(*) FROM license_sessions`).Scan(&n); err != nil {
		return 0, mapPostgresError(err)
	}
	return int(n), nil
}

// Purge removes every session record. Bindings do not survive a gateway
// restart because the sockets they name are gone.
func (d *Directory) Purge(ctx context.Context) (int64, error) {
	tag, err := d.pool.Exec(ctx, `DELETE FROM license_sessions`)
	if err != nil {
		return 0, mapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
