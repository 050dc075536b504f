// Package db stores per-request usage statistics in Postgres via pgx.
package db

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const logPrefix = "db:pool"

// Pool sizing for the usage sink. Writes are small and one per request.
const (
	DefaultMaxConns        = 10
	DefaultMinConns        = 1
	DefaultMaxConnIdleTime = 5 * time.Minute
	applicationName        = "workerbridge"
)

// PoolConfig parses databaseURL and applies the usage sink's pool settings. Settings given in the
// URL (pool_max_conns, application_name) take precedence.
func PoolConfig(databaseURL string) (*pgxpool.Config, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("%s - database URL is empty", logPrefix)
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to parse database URL: %w", logPrefix, err)
	}

	if !strings.Contains(databaseURL, "pool_max_conns=") {
		cfg.MaxConns = DefaultMaxConns
	}
	if cfg.MinConns == 0 {
		cfg.MinConns = DefaultMinConns
	}
	cfg.MaxConnIdleTime = DefaultMaxConnIdleTime
	if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		cfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	}
	return cfg, nil
}

// NewPool opens a pool and pings the server once.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := PoolConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	slog.Info(fmt.Sprintf("%s - Connecting to database %s on %s", logPrefix, cfg.ConnConfig.Database, cfg.ConnConfig.Host))

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create pool: %w", logPrefix, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s - failed to ping database: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Database connection established (max %d conns)", logPrefix, cfg.MaxConns))
	return pool, nil
}
