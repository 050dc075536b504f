package db

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const migrationsLogPrefix = "db:migrations"

// Migration is one SQL migration file.
type Migration struct {
	Name string
	SQL  string
}

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	name       TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// LoadMigrationFiles reads the .sql files of dir in name order.
func LoadMigrationFiles(dir string) ([]Migration, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("%s - bad migration dir %s: %w", migrationsLogPrefix, dir, err)
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("%s - failed to read migration dir %s: %w", migrationsLogPrefix, dir, err)
	}
	sort.Strings(paths)

	out := make([]Migration, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to stat %s: %w", migrationsLogPrefix, path, err)
		}
		if info.IsDir() {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to read %s: %w", migrationsLogPrefix, path, err)
		}
		out = append(out, Migration{Name: filepath.Base(path), SQL: string(data)})
	}
	slog.Info(fmt.Sprintf("%s - Loaded %d migration files from %s", migrationsLogPrefix, len(out), dir))
	return out, nil
}

// pending returns the migrations whose name is not in applied, keeping their order.
func pending(all []Migration, applied map[string]bool) []Migration {
	var out []Migration
	for _, m := range all {
		if !applied[m.Name] {
			out = append(out, m)
		}
	}
	return out
}

func appliedMigrations(ctx context.Context, pool *pgxpool.Pool) (map[string]bool, error) {
	if _, err := pool.Exec(ctx, createMigrationsTable); err != nil {
		return nil, fmt.Errorf("%s - failed to create schema_migrations: %w", migrationsLogPrefix, err)
	}
	rows, err := pool.Query(ctx, `SELECT name FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to list applied migrations: %w", migrationsLogPrefix, err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("%s - failed to scan applied migrations: %w", migrationsLogPrefix, err)
	}
	applied := make(map[string]bool, len(names))
	for _, n := range names {
		applied[n] = true
	}
	return applied, nil
}

// RunMigrations applies every migration not yet recorded in schema_migrations. Each file runs in
// its own transaction together with its bookkeeping row.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, migrations []Migration) error {
	applied, err := appliedMigrations(ctx, pool)
	if err != nil {
		return err
	}
	todo := pending(migrations, applied)
	slog.Info(fmt.Sprintf("%s - %d of %d migrations pending", migrationsLogPrefix, len(todo), len(migrations)))

	for _, m := range todo {
		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, m.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%s - migration %s failed: %w", migrationsLogPrefix, m.Name, err)
		}
		slog.Info(fmt.Sprintf("%s - Applied %s", migrationsLogPrefix, m.Name))
	}
	return nil
}

// MigrationStatus reports, per migration file in migrationPath, whether it has been applied.
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool, migrationPath string) (string, error) {
	files, err := LoadMigrationFiles(migrationPath)
	if err != nil {
		return "", err
	}
	applied, err := appliedMigrations(ctx, pool)
	if err != nil {
		return "", err
	}
	return formatStatus(files, applied), nil
}

func formatStatus(files []Migration, applied map[string]bool) string {
	var sb strings.Builder
	for _, m := range files {
		state := "pending"
		if applied[m.Name] {
			state = "applied"
		}
		fmt.Fprintf(&sb, "%-8s %s\n", state, m.Name)
	}
	fmt.Fprintf(&sb, "%d pending of %d", len(pending(files, applied)), len(files))
	return sb.String()
}
