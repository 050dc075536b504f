package db

import (
	"context"
	"testing"
)

const poolTestPrefix = "db:pool_test"

func TestPoolConfig_Defaults(t *testing.T) {
	cfg, err := PoolConfig("postgres://wb:wb@db.internal:5432/workerbridge?sslmode=disable")
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", poolTestPrefix, err)
	}
	if cfg.MaxConns != DefaultMaxConns || cfg.MinConns != DefaultMinConns {
		t.Errorf("%s - conns = %d..%d, want %d..%d", poolTestPrefix, cfg.MinConns, cfg.MaxConns, DefaultMinConns, DefaultMaxConns)
	}
	if cfg.MaxConnIdleTime != DefaultMaxConnIdleTime {
		t.Errorf("%s - MaxConnIdleTime = %s", poolTestPrefix, cfg.MaxConnIdleTime)
	}
	if got := cfg.ConnConfig.RuntimeParams["application_name"]; got != "workerbridge" {
		t.Errorf("%s - application_name = %q", poolTestPrefix, got)
	}
	if cfg.ConnConfig.Database != "workerbridge" || cfg.ConnConfig.Host != "db.internal" {
		t.Errorf("%s - target = %s on %s", poolTestPrefix, cfg.ConnConfig.Database, cfg.ConnConfig.Host)
	}
}

func TestPoolConfig_URLSettingsWin(t *testing.T) {
	cfg, err := PoolConfig("postgres://localhost/wb?pool_max_conns=3&application_name=stats")
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", poolTestPrefix, err)
	}
	if cfg.MaxConns != 3 {
		t.Errorf("%s - MaxConns = %d, want 3", poolTestPrefix, cfg.MaxConns)
	}
	if got := cfg.ConnConfig.RuntimeParams["application_name"]; got != "stats" {
		t.Errorf("%s - application_name = %q, want stats", poolTestPrefix, got)
	}
}

func TestPoolConfig_Invalid(t *testing.T) {
	for _, url := range []string{"", "invalid://not-a-valid-database-url"} {
		if _, err := PoolConfig(url); err == nil {
			t.Errorf("%s - PoolConfig(%q): expected error", poolTestPrefix, url)
		}
	}
}

func TestNewPool_InvalidURLReturnsNoPool(t *testing.T) {
	pool, err := NewPool(context.Background(), "invalid://not-a-valid-database-url")
	if err == nil {
		pool.Close()
		t.Fatalf("%s - expected error", poolTestPrefix)
	}
	if pool != nil {
		t.Errorf("%s - expected nil pool on error", poolTestPrefix)
	}
}
