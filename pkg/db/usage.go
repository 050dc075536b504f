package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/workerbridge/pkg/events"
)

const usageLogPrefix = "db:usage"

// UsageRepository records usage events and reads the aggregated totals. It implements
// events.Publisher.
type UsageRepository struct {
	pool *pgxpool.Pool
}

// NewUsageRepository creates a new UsageRepository with the given connection pool.
func NewUsageRepository(pool *pgxpool.Pool) *UsageRepository {
	return &UsageRepository{pool: pool}
}

// UsageTotal is one row of usage_totals.
type UsageTotal struct {
	Service         string
	Application     string
	StatusCode      int
	Requests        int64
	TotalDurationMs int64
}

// PublishUsage appends the event to request_usage and bumps its total, in one transaction.
func (r *UsageRepository) PublishUsage(ctx context.Context, event *events.UsageEvent) error {
	created := time.Now().UTC()
	if ts, err := time.Parse(time.RFC3339, event.Timestamp); err == nil {
		created = ts
	}

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO request_usage
			   (service, token, worker, application, routing_key, local, status_code, duration_ms, created)
			 VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9)`,
			event.Service, event.Token, event.Worker, event.Application, event.RoutingKey,
			event.Local, event.StatusCode, event.DurationMs, created)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO usage_totals (service, application, status_code, requests, total_duration_ms)
			 VALUES ($1, $2, $3, 1, $4)
			 ON CONFLICT (service, application, status_code) DO UPDATE
			 SET requests = usage_totals.requests + 1,
			     total_duration_ms = usage_totals.total_duration_ms + EXCLUDED.total_duration_ms`,
			event.Service, event.ApplicationOrDefault(), event.StatusCode, event.DurationMs)
		return err
	})
	if err != nil {
		return fmt.Errorf("%s - failed to record usage for %s: %w", usageLogPrefix, event.Service, err)
	}
	return nil
}

// Totals returns the usage totals of service, or of every service when service is empty.
func (r *UsageRepository) Totals(ctx context.Context, service string) ([]UsageTotal, error) {
	slog.Debug(fmt.Sprintf("%s - Totals service=%q", usageLogPrefix, service))

	rows, err := r.pool.Query(ctx,
		`SELECT service, application, status_code, requests, total_duration_ms
		 FROM usage_totals
		 WHERE $1 = '' OR service = $1
		 ORDER BY service, application, status_code`, service)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to query totals: %w", usageLogPrefix, err)
	}

	totals, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (UsageTotal, error) {
		var t UsageTotal
		err := row.Scan(&t.Service, &t.Application, &t.StatusCode, &t.Requests, &t.TotalDurationMs)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to scan totals: %w", usageLogPrefix, err)
	}
	return totals, nil
}

// Clear empties the usage log and the totals. The schema is kept.
func (r *UsageRepository) Clear(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `TRUNCATE TABLE request_usage, usage_totals RESTART IDENTITY`); err != nil {
		return fmt.Errorf("%s - failed to clear usage: %w", usageLogPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Usage cleared", usageLogPrefix))
	return nil
}
