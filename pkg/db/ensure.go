package db

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
)

const ensureLogPrefix = "db:ensure"

var safeDBName = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// maintenanceURL returns the URL of the server's "postgres" database and the database named by
// databaseURL. The name is restricted to letters, digits and underscore.
func maintenanceURL(databaseURL string) (adminURL, name string, err error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", "", fmt.Errorf("%s - invalid database URL: %w", ensureLogPrefix, err)
	}
	name = strings.TrimSpace(strings.TrimPrefix(u.Path, "/"))
	if name == "" {
		return "", "", fmt.Errorf("%s - database name empty in URL", ensureLogPrefix)
	}
	if !safeDBName.MatchString(name) {
		return "", "", fmt.Errorf("%s - database name %q contains invalid characters", ensureLogPrefix, name)
	}
	admin := *u
	admin.Path = "/postgres"
	return admin.String(), name, nil
}

// EnsureDatabase creates the database named in databaseURL when it does not exist yet. Call it
// before NewPool.
func EnsureDatabase(ctx context.Context, databaseURL string) error {
	adminURL, name, err := maintenanceURL(databaseURL)
	if err != nil {
		return err
	}

	conn, err := pgx.Connect(ctx, adminURL)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to postgres: %w", ensureLogPrefix, err)
	}
	defer conn.Close(ctx)

	var exists bool
	if err := conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, name).Scan(&exists); err != nil {
		return fmt.Errorf("%s - failed to check database: %w", ensureLogPrefix, err)
	}
	if exists {
		slog.Debug(fmt.Sprintf("%s - Database %q already exists", ensureLogPrefix, name))
		return nil
	}

	slog.Info(fmt.Sprintf("%s - Creating database %q", ensureLogPrefix, name))
	if _, err := conn.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize()); err != nil {
		return fmt.Errorf("%s - CREATE DATABASE failed: %w", ensureLogPrefix, err)
	}
	return nil
}
