// Package main is the entrypoint for a workerbridge worker: the echo handler served behind a broker
// responder.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/morezero/workerbridge/internal/config"
	"github.com/morezero/workerbridge/pkg/amqpbridge"
	"github.com/morezero/workerbridge/pkg/handler"
	"github.com/morezero/workerbridge/pkg/handler/echo"
	"github.com/morezero/workerbridge/pkg/natsbridge"
)

const logPrefix = "worker:main"

// responder serves one worker until ctx is cancelled.
type responder interface {
	Run(ctx context.Context) error
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("worker: load config: %v", err)
	}
	cfg.SetupLogging()
	if err := cfg.ValidateForWorker(); err != nil {
		log.Fatalf("worker: %v", err)
	}

	r, err := newResponder(cfg, echo.New())
	if err != nil {
		log.Fatalf("worker: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info(fmt.Sprintf("%s - Serving %s.%s over %s at %s", logPrefix, cfg.WorkerService, cfg.WorkerName, cfg.Broker, cfg.BrokerURL()))
	if err := r.Run(ctx); err != nil {
		slog.Error(fmt.Sprintf("%s - responder stopped: %v", logPrefix, err))
		os.Exit(1)
	}
	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
}

// newResponder builds the responder for the configured broker.
func newResponder(cfg *config.Config, h handler.Handler) (responder, error) {
	switch cfg.Broker {
	case config.BrokerAMQP:
		r, err := amqpbridge.NewResponder(amqpbridge.Params{
			URL:            cfg.AMQPURL,
			Service:        cfg.WorkerService,
			Worker:         cfg.WorkerName,
			AltRoutes:      cfg.WorkerAltRoutes,
			Handler:        h,
			ReconnectDelay: cfg.ReconnectDelay,
		})
		if err != nil {
			return nil, err
		}
		return r, nil
	case config.BrokerNATS:
		r, err := natsbridge.NewResponder(natsbridge.Params{
			URL:            cfg.COMMSURL,
			Service:        cfg.WorkerService,
			Worker:         cfg.WorkerName,
			AltRoutes:      cfg.WorkerAltRoutes,
			Handler:        h,
			ReconnectDelay: cfg.ReconnectDelay,
		})
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	return nil, fmt.Errorf("unsupported broker %q", cfg.Broker)
}
