package postgres

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type migration struct {
	version int
	name    string
	content string
}

// RunMigrations executes all pending migrations in version order.
// Applied versions are tracked in the schema_migrations table.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	logger := slog.Default().With(slog.String("component", "postgres.migrations"))

	migrations, err := loadMigrations(logger)
	if err != nil {
		return err
	}

	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", mapPostgresError(err))
	}

	logger.InfoContext(ctx, "running database migrations", slog.Int("count", len(migrations)))

	for _, m := range migrations {
		if err := executeMigration(ctx, pool, logger, m); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.name, err)
		}
	}

	logger.InfoContext(ctx, "all migrations completed")
	return nil
}

func loadMigrations(logger *slog.Logger) ([]migration, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		// "1_license_sessions.sql" -> 1
		parts := strings.SplitN(entry.Name(), "_", 2)
		if len(parts) < 2 {
			logger.Warn("skipping migration file with invalid name", slog.String("file", entry.Name()))
			continue
		}

		version, err := strconv.Atoi(parts[0])
		if err != nil {
			logger.Warn("skipping migration file with invalid version",
				slog.String("file", entry.Name()),
				slog.String("error", err.Error()))
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", entry.Name(), err)
		}

		migrations = append(migrations, migration{
			version: version,
			name:    entry.Name(),
			content: string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].version < migrations[j].version
	})
	return migrations, nil
}

// executeMigration applies a single migration and records it in one transaction.
func executeMigration(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger, m migration) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		// Serialise concurrent migrators.
		if _, err := tx.Exec(ctx, `LOCK TABLE schema_migrations IN EXCLUSIVE MODE`); err != nil {
			return fmt.Errorf("failed to lock schema_migrations: %w", mapPostgresError(err))
		}

		var applied bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, m.version,
		).Scan(&applied); err != nil {
			return fmt.Errorf("failed to check migration status: %w", mapPostgresError(err))
		}
		if applied {
			logger.DebugContext(ctx, "migration already applied",
				slog.Int("version", m.version), slog.String("name", m.name))
			return nil
		}

		logger.InfoContext(ctx, "applying migration",
			slog.Int("version", m.version), slog.String("name", m.name))

		if _, err := tx.Exec(ctx, m.content); err != nil {
			return fmt.Errorf("failed to execute migration SQL: %w", mapPostgresError(err))
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.version, m.name,
		); err != nil {
			return fmt.Errorf("failed to record migration: %w", mapPostgresError(err))
		}
		return nil
	})
}
