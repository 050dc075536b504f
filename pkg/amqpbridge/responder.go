package amqpbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/morezero/workerbridge/pkg/commsutil"
	"github.com/morezero/workerbridge/pkg/handler"
)

const responderLogPrefix = "amqpbridge:responder"

// DefaultReconnectDelay is the pause between reconnection attempts after losing the broker.
const DefaultReconnectDelay = 30 * time.Second

var errDeliveriesClosed = errors.New("delivery channel closed")

// Params holds parameters for NewResponder.
type Params struct {
	URL            string
	Service        string
	Worker         string
	AltRoutes      []string
	Handler        handler.Handler
	ReconnectDelay time.Duration
	// OnServing, if set, is called every time the queue consumer is (re)established.
	OnServing func()
	// OnDisconnect, if set, is called with the cause every time serving stops before a retry.
	OnDisconnect func(error)
}

// Responder consumes the durable queue of one worker and answers each request on its reply queue.
// The prefetch window is one message, so requests are handled strictly one at a time and a message
// is acknowledged only after its reply has been published.
type Responder struct {
	url          string
	exchange     string
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

	return &Responder{
		url:          params.URL,
		exchange:     params.Service,
		queue:        queue,
		keys:         append([]string{queue}, commsutil.AltRoutingKeys(params.Service, params.AltRoutes)...),
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
	conn, err := dial(r.url, "workerbridge-responder-"+r.queue)
	if err != nil {
		return err
	}
	defer conn.Close()
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("%s - failed to open channel: %w", responderLogPrefix, err)
	}
	defer ch.Close()

	if err := declareExchange(ch, r.exchange); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(r.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("%s - failed to declare queue %s: %w", responderLogPrefix, r.queue, err)
	}
	for _, key := range r.keys {
		if err := ch.QueueBind(r.queue, key, r.exchange, false, nil); err != nil {
			return fmt.Errorf("%s - failed to bind %s to %s: %w", responderLogPrefix, r.queue, key, err)
		}
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("%s - failed to set prefetch: %w", responderLogPrefix, err)
	}
	deliveries, err := ch.Consume(r.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("%s - failed to consume %s: %w", responderLogPrefix, r.queue, err)
	}

	slog.Info(fmt.Sprintf("%s - Responder %s listening on %s with keys %v", responderLogPrefix, r.queue, r.exchange, r.keys))
	if r.onServing != nil {
		r.onServing()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			if amqpErr == nil {
				return errDeliveriesClosed
			}
			return amqpErr
		case d, ok := <-deliveries:
			if !ok {
				return errDeliveriesClosed
			}
			r.handle(ctx, ch, d)
		}
	}
}

// replyPublisher is the subset of *amqp.Channel used to send replies.
type replyPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

func (r *Responder) handle(ctx context.Context, pub replyPublisher, d amqp.Delivery) {
	start := time.Now()

	if d.ReplyTo == "" {
		slog.Warn(fmt.Sprintf("%s - dropping request %s without reply queue", responderLogPrefix, d.CorrelationId))
		r.ack(d)
		return
	}

	res := handler.ServeEnvelope(ctx, r.handler, d.Body)
	body, err := res.Encode()
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode reply for %s: %v", responderLogPrefix, d.CorrelationId, err))
		r.ack(d)
		return
	}

	err = pub.PublishWithContext(ctx, "", d.ReplyTo, false, false, amqp.Publishing{
		ContentType:   commsutil.ContentTypeJSON,
		CorrelationId: d.CorrelationId,
		Body:          body,
	})
	if err != nil {
		// Left unacknowledged so the broker redelivers it once the channel is gone.
		slog.Error(fmt.Sprintf("%s - failed to publish reply for %s: %v", responderLogPrefix, d.CorrelationId, err))
		return
	}
	r.ack(d)

	slog.Debug(fmt.Sprintf("%s - Answered %s on %s with %d in %v", responderLogPrefix, d.CorrelationId, d.RoutingKey, res.StatusCode, time.Since(start)))
}

func (r *Responder) ack(d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to ack %s: %v", responderLogPrefix, d.CorrelationId, err))
	}
}
