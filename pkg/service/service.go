// Package service holds the per-service dispatch configuration: which worker answers each
// authentication token, and how long remote calls may take.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/workerbridge/pkg/handler"
	"github.com/morezero/workerbridge/pkg/routing"
)

const logPrefix = "service:service"

const (
	// DefaultTimeout bounds remote calls when a descriptor does not set one.
	DefaultTimeout = 60 * time.Second
	// DefaultToken is the token used when a request carries none.
	DefaultToken = "public"
)

// ErrUnknownToken is returned by Lookup for tokens without a configured worker.
var ErrUnknownToken = errors.New("unknown authentication token")

// Worker is either a LocalWorker or a RemoteWorker.
type Worker interface {
	isWorker()
}

// LocalWorker is served in-process by Handler.
type LocalWorker struct {
	Handler    handler.Handler
	ConfigInfo interface{}
}

// RemoteWorker is served through the broker by the Responder bound for Identity.
type RemoteWorker struct {
	Identity routing.WorkerIdentity
}

func (LocalWorker) isWorker()  {}
func (RemoteWorker) isWorker() {}

// ExchangeDeclarer declares the broker exchange of a service. Implementations must be idempotent.
type ExchangeDeclarer interface {
	DeclareExchange(ctx context.Context, name string) error
}

// Params holds parameters for New.
type Params struct {
	Name     string
	Endpoint string
	Timeout  time.Duration
	Workers  map[string]Worker
	// Exchanges is nil when no broker is configured; every worker must then be local.
	Exchanges ExchangeDeclarer
}

// Descriptor is the read-only configuration of one service. It is safe to share across calls.
type Descriptor struct {
	name     string
	endpoint string
	timeout  time.Duration
	workers  map[string]Worker
	remote   bool
}

// New validates params and, when a broker is configured, declares the service exchange.
// Any error here is fatal for process initialization.
func New(ctx context.Context, params Params) (*Descriptor, error) {
	if params.Name == "" {
		return nil, fmt.Errorf("%s - service name is required", logPrefix)
	}
	if len(params.Workers) == 0 {
		return nil, fmt.Errorf("%s - service %s has no workers", logPrefix, params.Name)
	}

	workers := make(map[string]Worker, len(params.Workers))
	for token, w := range params.Workers {
		switch v := w.(type) {
		case LocalWorker:
			if v.Handler == nil {
				return nil, fmt.Errorf("%s - service %s: local worker for token %q has no handler", logPrefix, params.Name, token)
			}
		case RemoteWorker:
			if params.Exchanges == nil {
				return nil, fmt.Errorf("%s - service %s: token %q maps to remote worker %q but no broker is configured",
					logPrefix, params.Name, token, v.Identity.WorkerName())
			}
		default:
			return nil, fmt.Errorf("%s - service %s: token %q has unsupported worker type %T", logPrefix, params.Name, token, w)
		}
		workers[token] = w
	}

	timeout := params.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	endpoint := params.Endpoint
	if endpoint == "" {
		endpoint = "/" + params.Name
	}

	if params.Exchanges != nil {
		if err := params.Exchanges.DeclareExchange(ctx, params.Name); err != nil {
			return nil, fmt.Errorf("%s - failed to declare exchange %s: %w", logPrefix, params.Name, err)
		}
		slog.Info(fmt.Sprintf("%s - Declared exchange %s", logPrefix, params.Name))
	}

	return &Descriptor{
		name:     params.Name,
		endpoint: endpoint,
		timeout:  timeout,
		workers:  workers,
		remote:   params.Exchanges != nil,
	}, nil
}

// Name is the service name, which is also the broker exchange name.
func (d *Descriptor) Name() string { return d.name }

// Endpoint is the HTTP path the front end serves this service on.
func (d *Descriptor) Endpoint() string { return d.endpoint }

// Timeout bounds remote calls.
func (d *Descriptor) Timeout() time.Duration { return d.timeout }

// Remote reports whether a broker is configured for this service.
func (d *Descriptor) Remote() bool { return d.remote }

// Lookup returns the worker mapped to token.
func (d *Descriptor) Lookup(token string) (Worker, error) {
	if token == "" {
		token = DefaultToken
	}
	w, ok := d.workers[token]
	if !ok {
		return nil, ErrUnknownToken
	}
	return w, nil
}
