package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/morezero/workerbridge/pkg/handler"
	"github.com/morezero/workerbridge/pkg/routing"
	"github.com/morezero/workerbridge/pkg/service"
)

// BuildParams holds parameters for BuildServices.
type BuildParams struct {
	Catalog *Catalog
	// Handlers maps the names usable in WorkerConfig.Local to in-process handlers.
	Handlers map[string]handler.Handler
	// Exchanges is nil when no broker is configured.
	Exchanges service.ExchangeDeclarer
}

// BuildServices turns every catalog service into a service.Descriptor, in name order. Any error is
// fatal for process initialization.
func BuildServices(ctx context.Context, params BuildParams) ([]*service.Descriptor, error) {
	descs := make([]*service.Descriptor, 0, len(params.Catalog.Services))
	for _, name := range params.Catalog.ServiceNames() {
		cfg := params.Catalog.Services[name]

		workers := make(map[string]service.Worker, len(cfg.Workers))
		for token, wc := range cfg.Workers {
			w, err := buildWorker(wc, params.Handlers)
			if err != nil {
				return nil, fmt.Errorf("%s - service %s token %q: %w", logPrefix, name, token, err)
			}
			workers[token] = w
		}

		desc, err := service.New(ctx, service.Params{
			Name:      name,
			Endpoint:  cfg.Endpoint,
			Timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
			Workers:   workers,
			Exchanges: params.Exchanges,
		})
		if err != nil {
			return nil, err
		}
		descs = append(descs, desc)
	}
	return descs, nil
}

func buildWorker(wc WorkerConfig, handlers map[string]handler.Handler) (service.Worker, error) {
	if wc.Local != "" {
		h, ok := handlers[wc.Local]
		if !ok {
			return nil, fmt.Errorf("no local handler registered as %q", wc.Local)
		}
		return service.LocalWorker{Handler: h, ConfigInfo: wc.ConfigInfo}, nil
	}
	return service.RemoteWorker{Identity: routing.WorkerIdentity{
		Name:           wc.Name,
		RoutingPattern: wc.RoutingPattern,
		ConfigInfo:     wc.ConfigInfo,
	}}, nil
}
