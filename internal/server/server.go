// Package server orchestrates the gateway: service catalog, broker callers, usage sink, dispatchers
// and the HTTP front end.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/morezero/workerbridge/internal/config"
	"github.com/morezero/workerbridge/pkg/amqpbridge"
	"github.com/morezero/workerbridge/pkg/bootstrap"
	"github.com/morezero/workerbridge/pkg/commsutil"
	"github.com/morezero/workerbridge/pkg/db"
	"github.com/morezero/workerbridge/pkg/dispatcher"
	"github.com/morezero/workerbridge/pkg/events"
	"github.com/morezero/workerbridge/pkg/handler"
	"github.com/morezero/workerbridge/pkg/handler/echo"
	"github.com/morezero/workerbridge/pkg/natsbridge"
	"github.com/morezero/workerbridge/pkg/service"
)

const logPrefix = "server:server"

const shutdownTimeout = 10 * time.Second

// Server is the gateway orchestrator.
type Server struct {
	cfg         *config.Config
	catalog     *bootstrap.Catalog
	dispatchers []*dispatcher.Dispatcher
	health      HealthCheck
	closers     []func()
	httpServer  *http.Server
}

// Run starts the gateway, blocks until a shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	cfg.SetupLogging()
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	slog.Info(fmt.Sprintf("%s - Starting workerbridge gateway", logPrefix))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := New(ctx, cfg, DefaultHandlers())
	if err != nil {
		return err
	}
	defer s.Close()

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP server listening on %s", logPrefix, s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	slog.Info(fmt.Sprintf("%s - Gateway is ready with %d service(s)", logPrefix, len(s.dispatchers)))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn(fmt.Sprintf("%s - HTTP shutdown: %v", logPrefix, err))
	}

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

// DefaultHandlers returns the in-process handlers a catalog may name in a worker's "local" field.
func DefaultHandlers() map[string]handler.Handler {
	return map[string]handler.Handler{
		echo.Name: echo.New(),
	}
}

// New builds every component of the gateway from cfg. Any error is fatal for initialization and
// releases whatever was already opened.
func New(ctx context.Context, cfg *config.Config, handlers map[string]handler.Handler) (*Server, error) {
	s := &Server{cfg: cfg}
	if err := s.build(ctx, handlers); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) build(ctx context.Context, handlers map[string]handler.Handler) error {
	cfg := s.cfg
	var err error

	// Step 1: Load the service catalog
	s.catalog, err = bootstrap.LoadCatalog(cfg.BootstrapFile)
	if err != nil {
		return fmt.Errorf("%s - failed to load service catalog: %w", logPrefix, err)
	}

	// Step 2: Select the broker
	exchanges, newCaller := brokerFor(cfg)
	s.health = newBrokerHealth(cfg.Broker, exchanges, s.catalog)
	if cfg.Broker == config.BrokerNone {
		slog.Info(fmt.Sprintf("%s - No broker configured, every worker must be local", logPrefix))
	} else {
		slog.Info(fmt.Sprintf("%s - Using %s broker at %s", logPrefix, cfg.Broker, cfg.BrokerURL()))
	}

	// Step 3: Open the usage sink
	usage, err := s.openUsageSink(ctx)
	if err != nil {
		return err
	}

	// Step 4: Build service descriptors, declaring one exchange per remote service
	descs, err := bootstrap.BuildServices(ctx, bootstrap.BuildParams{
		Catalog:   s.catalog,
		Handlers:  handlers,
		Exchanges: exchanges,
	})
	if err != nil {
		return fmt.Errorf("%s - failed to build services: %w", logPrefix, err)
	}

	// Step 5: One dispatcher per service
	for _, desc := range descs {
		var caller dispatcher.Caller
		if desc.Remote() {
			caller = newCaller(desc.Name())
		}
		d, err := dispatcher.New(dispatcher.Params{
			Service: desc,
			Caller:  caller,
			Retries: cfg.CallRetries,
			Usage:   usage,
		})
		if err != nil {
			return fmt.Errorf("%s - failed to create dispatcher: %w", logPrefix, err)
		}
		s.dispatchers = append(s.dispatchers, d)
		slog.Info(fmt.Sprintf("%s - Service %s mounted at %s (remote=%t, timeout=%s)",
			logPrefix, desc.Name(), desc.Endpoint(), desc.Remote(), desc.Timeout()))
	}
	return nil
}

// Close releases the connections held by the server, in reverse order of opening.
func (s *Server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// Dispatchers returns the dispatchers in service name order.
func (s *Server) Dispatchers() []*dispatcher.Dispatcher { return s.dispatchers }

// brokerFor returns the exchange declarer and caller constructor for the configured broker. Both
// are nil when the gateway runs local-only.
func brokerFor(cfg *config.Config) (service.ExchangeDeclarer, func(svc string) dispatcher.Caller) {
	switch cfg.Broker {
	case config.BrokerAMQP:
		return amqpbridge.Exchanges{URL: cfg.AMQPURL}, func(svc string) dispatcher.Caller {
			return amqpbridge.NewCaller(amqpbridge.CallerParams{URL: cfg.AMQPURL, Service: svc, Grace: cfg.CallGrace})
		}
	case config.BrokerNATS:
		return natsbridge.Exchanges{URL: cfg.COMMSURL}, func(svc string) dispatcher.Caller {
			return natsbridge.NewCaller(natsbridge.CallerParams{URL: cfg.COMMSURL, Service: svc, Grace: cfg.CallGrace})
		}
	}
	return nil, nil
}

// openUsageSink connects the configured usage sink. Every event is also logged at debug level.
func (s *Server) openUsageSink(ctx context.Context) (events.Publisher, error) {
	debugLog := events.NewCallbackPublisher(func(_ context.Context, e *events.UsageEvent) error {
		slog.Debug(fmt.Sprintf("%s - usage service=%s token=%s worker=%s application=%s status=%d duration=%dms",
			logPrefix, e.Service, e.Token, e.Worker, e.ApplicationOrDefault(), e.StatusCode, e.DurationMs))
		return nil
	})

	var sink events.Publisher
	switch s.cfg.UsageSink {
	case config.UsageSinkNATS:
		nc, err := commsutil.Connect(s.cfg.COMMSURL, s.cfg.COMMSName+"-usage")
		if err != nil {
			return nil, fmt.Errorf("%s - failed to connect usage sink: %w", logPrefix, err)
		}
		s.closers = append(s.closers, func() { nc.Drain() })
		sink = events.NewCommsPublisher(nc, &events.CommsPublisherOpts{SubjectPrefix: s.cfg.UsageSubjectPrefix})

	case config.UsageSinkRedis:
		client, err := events.NewRedisClient(ctx, s.cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to connect usage sink: %w", logPrefix, err)
		}
		s.closers = append(s.closers, func() { client.Close() })
		sink = events.NewRedisPublisher(client)

	case config.UsageSinkPostgres:
		pool, err := db.NewPool(ctx, s.cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to connect usage sink: %w", logPrefix, err)
		}
		s.closers = append(s.closers, pool.Close)
		if s.cfg.RunMigrations {
			migrations, err := db.LoadMigrationFiles(s.cfg.MigrationPath)
			if err != nil {
				return nil, fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
			}
			if err := db.RunMigrations(ctx, pool, migrations); err != nil {
				return nil, fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
			}
		}
		sink = db.NewUsageRepository(pool)

	default:
		return debugLog, nil
	}

	slog.Info(fmt.Sprintf("%s - Usage statistics go to %s", logPrefix, s.cfg.UsageSink))
	return events.MultiPublisher{sink, debugLog}, nil
}
