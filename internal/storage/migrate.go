package storage

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	"voice-recorder/pkg/utils"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// Migrate applies every pending migration for the store's dialect, each in
// its own transaction, in filename order.
func (s *SQLStore) Migrate(ctx context.Context) error {
	dir := "migrations/sqlite"
	createTracking := `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT (datetime('now'))
	)`
	if s.driver == utils.DriverPostgres {
		dir = "migrations/postgres"
		createTracking = `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ DEFAULT now()
	)`
	}

	if _, err := s.db.ExecContext(ctx, createTracking); err != nil {
		return wrap("migrate", fmt.Errorf("creating schema_migrations table: %w", err))
	}

	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return wrap("migrate", fmt.Errorf("reading migrations directory: %w", err))
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version := strings.TrimSuffix(entry.Name(), ".sql")

		var count int
		if err := s.db.GetContext(ctx, &count, s.db.Rebind(`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`), version); err != nil {
			return wrap("migrate", fmt.Errorf("checking migration %s: %w", version, err))
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile(path.Join(dir, entry.Name()))
		if err != nil {
			return wrap("migrate", fmt.Errorf("reading migration %s: %w", version, err))
		}

		err = utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sqlx.Tx) error {
			for _, stmt := range splitStatements(string(content)) {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("executing migration %s: %w", version, err)
				}
			}
			if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO schema_migrations (version) VALUES (?)`), version); err != nil {
				return fmt.Errorf("recording migration %s: %w", version, err)
			}
			return nil
		})
		if err != nil {
			return wrap("migrate", err)
		}

		slog.InfoContext(ctx, "applied migration", "version", version, "driver", s.driver)
	}
	return nil
}

// splitStatements breaks a migration file on statement-terminating semicolons.
// Migrations must not contain semicolons inside literals or bodies.
func splitStatements(content string) []string {
	var out []string
	for _, part := range strings.Split(content, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
