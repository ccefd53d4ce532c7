package persistence

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed migrations
var migrationFS embed.FS

// migrationFiles returns the SQL files for dialect in lexical order.
func migrationFiles(dialect string) ([]string, error) {
	dir := path.Join("migrations", dialect)
	entries, err := fs.ReadDir(migrationFS, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	filenames := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		filenames = append(filenames, path.Join(dir, entry.Name()))
	}
	sort.Strings(filenames)
	return filenames, nil
}

// RunPostgresMigrations applies the embedded PostgreSQL schema. Every file is
// idempotent, so it is safe to run on each start.
func RunPostgresMigrations(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	if pool == nil {
		logger.Warn("no postgres pool available; skipping migrations")
		return nil
	}

	files, err := migrationFiles("postgres")
	if err != nil {
		return err
	}
	for _, name := range files {
		content, err := migrationFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		logger.Info("applying migration", zap.String("file", name))
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}

	logger.Info("migrations applied", zap.Int("count", len(files)))
	return nil
}

// RunSQLMigrations applies the embedded schema for a database/sql dialect
// ("sqlite" or "mysql"), one statement at a time.
func RunSQLMigrations(ctx context.Context, db *sql.DB, dialect string, logger *zap.Logger) error {
	files, err := migrationFiles(dialect)
	if err != nil {
		return err
	}
	for _, name := range files {
		content, err := migrationFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		logger.Info("applying migration", zap.String("file", name))
		for _, stmt := range splitStatements(string(content)) {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s: %w", name, err)
			}
		}
	}

	logger.Info("migrations applied", zap.String("dialect", dialect), zap.Int("count", len(files)))
	return nil
}

// splitStatements breaks a migration on ';'. The schema files contain no
// literals or bodies with embedded semicolons.
func splitStatements(content string) []string {
	parts := strings.Split(content, ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
