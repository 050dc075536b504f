// Package main is the entrypoint for the workerbridge gateway.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/workerbridge/internal/config"
	"github.com/morezero/workerbridge/internal/server"
	"github.com/morezero/workerbridge/pkg/db"
)

const usage = `Usage: gateway [command]
       gateway serve              Start the gateway (HTTP front end, dispatchers, broker callers).
       gateway migrate [up]       Run the usage statistics migrations.
       gateway migrate status     Show migration status.
       gateway ensure-db [name]   Create database if missing (default name: workerbridge_test). Uses DATABASE_URL host/user.
       gateway clear              Truncate the usage statistics; schema is preserved.
       gateway stats [service]    Print usage totals per service, application and status code.

Commands:
  serve           (default) Start the gateway.
  migrate up      Run database migrations only.
  migrate status  Show current migration status.
  ensure-db [name] Create database (e.g. workerbridge_test) on same host as DATABASE_URL.
  clear           Truncate usage data; schema preserved.
  stats [service] Show recorded usage totals, optionally for one service.

Environment: BROKER (amqp, nats or empty), AMQP_URL, COMMS_URL, BOOTSTRAP_FILE, USAGE_SINK,
DATABASE_URL, MIGRATION_PATH, HTTP_PORT (default 8080). See README.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "migrate":
		sub := "up"
		if len(args) > 1 {
			sub = args[1]
		}
		switch sub {
		case "up":
			if err := runMigrateUp(); err != nil {
				log.Fatalf("gateway migrate up: %v", err)
			}
		case "status":
			if err := runMigrateStatus(); err != nil {
				log.Fatalf("gateway migrate status: %v", err)
			}
		default:
			log.Fatalf("gateway migrate: unknown subcommand %q (use up, status)", sub)
		}
		return
	case "clear":
		if err := runClear(); err != nil {
			log.Fatalf("gateway clear: %v", err)
		}
		return
	case "stats":
		svc := ""
		if len(args) > 1 {
			svc = args[1]
		}
		if err := runStats(svc); err != nil {
			log.Fatalf("gateway stats: %v", err)
		}
		return
	case "ensure-db":
		dbName := "workerbridge_test"
		if len(args) > 1 && args[1] != "" {
			dbName = args[1]
		}
		if err := runEnsureDB(dbName); err != nil {
			log.Fatalf("gateway ensure-db: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("gateway: %v", err)
	}
}

// withPool loads the config, validates it for database commands and hands fn an open pool.
func withPool(fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func runMigrateUp() error {
	return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
		migrations, err := db.LoadMigrationFiles(cfg.MigrationPath)
		if err != nil {
			return fmt.Errorf("load migrations: %w", err)
		}
		if err := db.RunMigrations(ctx, pool, migrations); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		return nil
	})
}

func runMigrateStatus() error {
	return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
		status, err := db.MigrationStatus(ctx, pool, cfg.MigrationPath)
		if err != nil {
			return err
		}
		fmt.Println(status)
		return nil
	})
}

func runClear() error {
	return withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
		return db.NewUsageRepository(pool).Clear(ctx)
	})
}

func runStats(svc string) error {
	return withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
		totals, err := db.NewUsageRepository(pool).Totals(ctx, svc)
		if err != nil {
			return err
		}
		return writeTotals(os.Stdout, totals)
	})
}

// writeTotals prints totals as an aligned table with the mean duration per row.
func writeTotals(out io.Writer, totals []db.UsageTotal) error {
	if len(totals) == 0 {
		_, err := fmt.Fprintln(out, "No usage recorded.")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tAPPLICATION\tSTATUS\tREQUESTS\tMEAN MS")
	for _, t := range totals {
		var mean int64
		if t.Requests > 0 {
			mean = t.TotalDurationMs / t.Requests
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n", t.Service, t.Application, t.StatusCode, t.Requests, mean)
	}
	return w.Flush()
}

func runEnsureDB(dbName string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	targetURL, err := targetDatabaseURL(cfg.DatabaseURL, dbName)
	if err != nil {
		return err
	}
	if err := db.EnsureDatabase(context.Background(), targetURL); err != nil {
		return err
	}
	fmt.Printf("Database %q is ready.\n", dbName)
	return nil
}

// targetDatabaseURL replaces the database of databaseURL with dbName, keeping host, user and query.
func targetDatabaseURL(databaseURL, dbName string) (string, error) {
	if databaseURL == "" {
		return "", fmt.Errorf("DATABASE_URL is required")
	}
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	u.Path = "/" + dbName
	return u.String(), nil
}
