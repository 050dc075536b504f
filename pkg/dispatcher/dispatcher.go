package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/morezero/workerbridge/pkg/commsutil"
	"github.com/morezero/workerbridge/pkg/events"
	"github.com/morezero/workerbridge/pkg/handler"
	"github.com/morezero/workerbridge/pkg/outcome"
	"github.com/morezero/workerbridge/pkg/routing"
	"github.com/morezero/workerbridge/pkg/service"
)

const logPrefix = "dispatcher:dispatcher"

// usageTimeout bounds recording a usage event. It runs detached from the request context so a
// disconnected client still gets counted.
const usageTimeout = 5 * time.Second

// Caller performs one remote call. Implementations are natsbridge.Caller and amqpbridge.Caller.
type Caller interface {
	Call(ctx context.Context, req *commsutil.Request, routingKey string, timeout time.Duration) (*outcome.Outcome, error)
}

// Params holds parameters for New.
type Params struct {
	Service *service.Descriptor
	// Caller is required when the service has a broker.
	Caller Caller
	// Retries is the number of extra attempts made when the broker cannot be reached.
	Retries int
	Usage   events.Publisher
}

// Dispatcher dispatches requests for one service. It holds only read-only configuration and is
// safe for concurrent use.
type Dispatcher struct {
	svc     *service.Descriptor
	caller  Caller
	retries int
	usage   events.Publisher
}

// New creates a Dispatcher.
func New(params Params) (*Dispatcher, error) {
	if params.Service == nil {
		return nil, fmt.Errorf("%s - service descriptor is required", logPrefix)
	}
	if params.Service.Remote() && params.Caller == nil {
		return nil, fmt.Errorf("%s - service %s uses a broker but no caller was given", logPrefix, params.Service.Name())
	}
	usage := params.Usage
	if usage == nil {
		usage = &events.NoOpPublisher{}
	}
	retries := params.Retries
	if retries < 0 {
		retries = 0
	}
	return &Dispatcher{svc: params.Service, caller: params.Caller, retries: retries, usage: usage}, nil
}

// Service returns the descriptor the dispatcher serves.
func (d *Dispatcher) Service() *service.Descriptor { return d.svc }

// call is the state of one dispatched request.
type call struct {
	d     *Dispatcher
	req   *Request
	start time.Time
	usage events.UsageEvent
}

// Dispatch runs req on the worker configured for its token and always returns an outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) *outcome.Outcome {
	c := &call{
		d:     d,
		req:   req,
		start: time.Now(),
		usage: events.UsageEvent{Service: d.svc.Name(), Token: tokenOrDefault(req.Token), Application: req.Application},
	}

	res := c.run(ctx)

	c.usage.StatusCode = res.StatusCode
	c.usage.Stamp(c.start)
	usageCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), usageTimeout)
	defer cancel()
	if err := d.usage.PublishUsage(usageCtx, &c.usage); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to record usage for %s: %v", logPrefix, d.svc.Name(), err))
	}
	slog.Debug(fmt.Sprintf("%s - %s token=%s status=%d in %dms", logPrefix, d.svc.Name(), c.usage.Token, res.StatusCode, c.usage.DurationMs))
	return res
}

func (c *call) run(ctx context.Context) *outcome.Outcome {
	w, err := c.d.svc.Lookup(c.req.Token)
	if err != nil {
		return outcome.Error(http.StatusUnauthorized, InvalidTokenMessage)
	}

	switch w := w.(type) {
	case service.LocalWorker:
		c.usage.Local = true
		c.usage.Worker = c.usage.Token
		return handler.Invoke(ctx, w.Handler, c.req.Body, c.req.Application)
	case service.RemoteWorker:
		c.usage.Worker = w.Identity.WorkerName()
		return c.remote(ctx, w.Identity)
	default:
		slog.Error(fmt.Sprintf("%s - unsupported worker type %T", logPrefix, w))
		return outcome.Error(http.StatusInternalServerError, "Internal error while processing the request.")
	}
}

func (c *call) remote(ctx context.Context, id routing.WorkerIdentity) *outcome.Outcome {
	key, err := routing.Resolve(c.d.svc.Name(), id, c.req.Body)
	if err != nil {
		var missing *routing.MissingParameterError
		if errors.As(err, &missing) {
			return outcome.Error(http.StatusBadRequest, missing.Error())
		}
		return outcome.Error(http.StatusBadRequest, err.Error())
	}
	c.usage.RoutingKey = key

	req := commsutil.NewRequest(c.req.Body, c.req.Application)
	for attempt := 0; ; attempt++ {
		res, err := c.d.caller.Call(ctx, req, key, c.d.svc.Timeout())
		if err == nil {
			return res
		}
		if errors.Is(err, commsutil.ErrBrokerUnavailable) && attempt < c.d.retries && ctx.Err() == nil {
			slog.Warn(fmt.Sprintf("%s - attempt %d for %s failed: %v; retrying", logPrefix, attempt+1, key, err))
			continue
		}
		slog.Error(fmt.Sprintf("%s - call to %s failed: %v", logPrefix, key, err))
		return outcome.Unavailable()
	}
}

// Describe answers the capability query of the worker configured for token with its static
// configuration info.
func (d *Dispatcher) Describe(token string) *outcome.Outcome {
	w, err := d.svc.Lookup(token)
	if err != nil {
		return outcome.Error(http.StatusUnauthorized, InvalidTokenMessage)
	}

	var info interface{}
	switch w := w.(type) {
	case service.LocalWorker:
		info = w.ConfigInfo
	case service.RemoteWorker:
		info = w.Identity.ConfigInfo
	}
	if info == nil {
		return outcome.Error(http.StatusMethodNotAllowed, MethodNotSupportedMessage)
	}
	return outcome.New(info)
}

func tokenOrDefault(token string) string {
	if token == "" {
		return service.DefaultToken
	}
	return token
}
