package natsbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/workerbridge/pkg/commsutil"
	"github.com/morezero/workerbridge/pkg/handler"
)

const responderLogPrefix = "natsbridge:responder"

// DefaultReconnectDelay is the pause between reconnection attempts after losing the server.
const DefaultReconnectDelay = 30 * time.Second

var errConnectionClosed = errors.New("connection closed")

// Params holds parameters for NewResponder.
type Params struct {
	URL            string
	Service        string
	Worker         string
	AltRoutes      []string
	Handler        handler.Handler
	ReconnectDelay time.Duration
	// OnServing, if set, is called every time the subscriptions are (re)established.
	OnServing func()
	// OnDisconnect, if set, is called with the cause every time serving stops before a retry.
	OnDisconnect func(error)
}

// Responder serves requests for one worker. Requests are handled one at a time.
type Responder struct {
	url          string
	queue        string
	keys         []string
	handler      handler.Handler
	delay        time.Duration
	onServing    func()
	onDisconnect func(error)
}

// NewResponder validates params and creates a Responder.
func NewResponder(params Params) (*Responder, error) {
	if params.Service == "" || params.Worker == "" {
		return nil, fmt.Errorf("%s - service and worker names are required", responderLogPrefix)
	}
	if params.Handler == nil {
		return nil, fmt.Errorf("%s - handler is required", responderLogPrefix)
	}
	delay := params.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	queue := commsutil.QueueName(params.Service, params.Worker)
	keys := append([]string{queue}, commsutil.AltRoutingKeys(params.Service, params.AltRoutes)...)

	return &Responder{
		url:          params.URL,
		queue:        queue,
		keys:         keys,
		handler:      params.Handler,
		delay:        delay,
		onServing:    params.OnServing,
		onDisconnect: params.OnDisconnect,
	}, nil
}

// Run serves until ctx is cancelled, reconnecting after every connection loss. It returns nil on
// cancellation.
func (r *Responder) Run(ctx context.Context) error {
	for {
		err := r.serve(ctx)
		if ctx.Err() != nil {
			slog.Info(fmt.Sprintf("%s - Responder %s stopped", responderLogPrefix, r.queue))
			return nil
		}
		slog.Error(fmt.Sprintf("%s - Responder %s lost its connection: %v; retrying in %v", responderLogPrefix, r.queue, err, r.delay))
		if r.onDisconnect != nil {
			r.onDisconnect(err)
		}

		select {
		case <-ctx.Done():
			slog.Info(fmt.Sprintf("%s - Responder %s stopped", responderLogPrefix, r.queue))
			return nil
		case <-time.After(r.delay):
		}
	}
}

func (r *Responder) serve(ctx context.Context) error {
	nc, err := commsutil.Connect(r.url, "workerbridge-responder-"+r.queue, comms.NoReconnect())
	if err != nil {
		return err
	}
	defer nc.Close()

	closed := nc.StatusChanged(comms.CLOSED)

	// No prefetch window on core NATS: unlimited pending queues a burst instead of dropping it as a
	// slow consumer. The mutex serializes handling across all keys.
	var mu sync.Mutex
	serveOne := func(msg *comms.Msg) {
		mu.Lock()
		defer mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		r.handle(ctx, nc, msg)
	}
	for _, key := range r.keys {
		sub, err := nc.QueueSubscribe(key, r.queue, serveOne)
		if err != nil {
			return fmt.Errorf("%s - failed to subscribe %s: %w", responderLogPrefix, key, err)
		}
		if err := sub.SetPendingLimits(-1, -1); err != nil {
			return fmt.Errorf("%s - failed to lift pending limits on %s: %w", responderLogPrefix, key, err)
		}
	}
	if err := nc.Flush(); err != nil {
		return fmt.Errorf("%s - failed to flush subscriptions: %w", responderLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Responder %s listening on %v", responderLogPrefix, r.queue, r.keys))
	if r.onServing != nil {
		r.onServing()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-closed:
		return errConnectionClosed
	}
}

func (r *Responder) handle(ctx context.Context, nc *comms.Conn, msg *comms.Msg) {
	start := time.Now()
	corrID := msg.Header.Get(commsutil.HeaderCorrelationID)

	// The caller has already given up on an expired request, so no reply is sent.
	if expired(msg.Header.Get(commsutil.HeaderExpiresAt), start) {
		slog.Debug(fmt.Sprintf("%s - dropping expired request %s on %s", responderLogPrefix, corrID, msg.Subject))
		return
	}
	if msg.Reply == "" {
		slog.Warn(fmt.Sprintf("%s - dropping request %s on %s without reply subject", responderLogPrefix, corrID, msg.Subject))
		return
	}

	res := handler.ServeEnvelope(ctx, r.handler, msg.Data)
	data, err := res.Encode()
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode reply for %s: %v", responderLogPrefix, corrID, err))
		return
	}

	reply := comms.NewMsg(msg.Reply)
	reply.Data = data
	reply.Header.Set(commsutil.HeaderCorrelationID, corrID)
	reply.Header.Set("Content-Type", commsutil.ContentTypeJSON)
	if err := nc.PublishMsg(reply); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish reply for %s: %v", responderLogPrefix, corrID, err))
		return
	}

	slog.Debug(fmt.Sprintf("%s - Answered %s on %s with %d in %v", responderLogPrefix, corrID, msg.Subject, res.StatusCode, time.Since(start)))
}

// expired reports whether an Expires-At header (unix milliseconds) lies before now.
// Missing or unparsable values never expire.
func expired(expiresAt string, now time.Time) bool {
	if expiresAt == "" {
		return false
	}
	ms, err := strconv.ParseInt(expiresAt, 10, 64)
	if err != nil {
		return false
	}
	return now.UnixMilli() > ms
}
