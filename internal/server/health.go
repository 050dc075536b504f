package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/morezero/workerbridge/pkg/bootstrap"
	"github.com/morezero/workerbridge/pkg/service"
)

// HealthOutput is the body of /health.
type HealthOutput struct {
	Status    string `json:"status"`
	Broker    string `json:"broker"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// HealthCheck reports the state of the gateway's dependencies.
type HealthCheck interface {
	Health(ctx context.Context) *HealthOutput
}

// brokerHealth proves the broker is reachable by declaring the exchange of one catalog service.
// Declaration is idempotent.
type brokerHealth struct {
	broker    string
	exchanges service.ExchangeDeclarer
	exchange  string
}

func newBrokerHealth(broker string, exchanges service.ExchangeDeclarer, cat *bootstrap.Catalog) *brokerHealth {
	h := &brokerHealth{broker: broker, exchanges: exchanges}
	if names := cat.ServiceNames(); len(names) > 0 {
		h.exchange = names[0]
	}
	if h.broker == "" {
		h.broker = "none"
	}
	return h
}

// Health declares the exchange within ctx. A local-only gateway is always healthy.
func (h *brokerHealth) Health(ctx context.Context) *HealthOutput {
	out := &HealthOutput{Status: "healthy", Broker: h.broker, Timestamp: time.Now().UTC().Format(time.RFC3339)}
	if h.exchanges == nil {
		return out
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.exchanges.DeclareExchange(ctx, h.exchange)
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - broker health check failed: %v", logPrefix, err))
		out.Status = "unhealthy"
		out.Error = err.Error()
	}
	return out
}

func handleHealth(health HealthCheck, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		h := health.Health(ctx)
		status := http.StatusOK
		if h.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, h)
	}
}
