package amqpbridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/morezero/workerbridge/pkg/commsutil"
	"github.com/morezero/workerbridge/pkg/outcome"
)

const callerLogPrefix = "amqpbridge:caller"

// DefaultGrace is added to the call timeout before the caller gives up waiting for a reply.
const DefaultGrace = time.Second

// CallerParams holds parameters for NewCaller.
type CallerParams struct {
	URL string
	// Service names the exchange requests are published to.
	Service string
	Grace   time.Duration
}

// Caller sends requests for one service. Every call opens and closes its own connection, so a
// Caller is safe for concurrent use.
type Caller struct {
	url      string
	exchange string
	grace    time.Duration
}

// NewCaller creates a Caller. A zero Grace uses DefaultGrace.
func NewCaller(params CallerParams) *Caller {
	grace := params.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Caller{url: params.URL, exchange: params.Service, grace: grace}
}

// Call publishes req to the service exchange under routingKey and waits for the matching reply on
// a private reply queue.
//
// Failing before the request is published returns an error wrapping commsutil.ErrBrokerUnavailable;
// such a call may safely be retried. A message
// the broker cannot route is answered with outcome.Unavailable as soon as it is returned; no reply
// within timeout plus the grace period yields outcome.Timeout.
func (c *Caller) Call(ctx context.Context, req *commsutil.Request, routingKey string, timeout time.Duration) (*outcome.Outcome, error) {
	body, err := commsutil.EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	conn, err := dial(c.url, "workerbridge-caller-"+c.exchange)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return nil, unavailable("open channel", err)
	}
	defer ch.Close()

	if err := ch.Confirm(false); err != nil {
		return nil, unavailable("enable publisher confirms", err)
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, unavailable("declare reply queue", err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return nil, unavailable("consume reply queue", err)
	}
	returns := ch.NotifyReturn(make(chan amqp.Return, 1))
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	corrID := uuid.NewString()
	err = ch.PublishWithContext(ctx, c.exchange, routingKey, true, false, amqp.Publishing{
		ContentType:   commsutil.ContentTypeJSON,
		CorrelationId: corrID,
		ReplyTo:       q.Name,
		Expiration:    commsutil.Expiration(timeout),
		Timestamp:     time.Now(),
		Body:          body,
	})
	if err != nil {
		return nil, unavailable("publish request", err)
	}
	slog.Debug(fmt.Sprintf("%s - Sent request %s to %s/%s", callerLogPrefix, corrID, c.exchange, routingKey))

	return await(ctx, corrID, routingKey, deliveries, returns, confirms, timeout+c.grace)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s - failed to %s: %w: %w", callerLogPrefix, op, commsutil.ErrBrokerUnavailable, err)
}

// await waits for the reply carrying corrID. Replies with other correlation ids are discarded. A
// returned or nacked publish means no queue accepted the request.
func await(
	ctx context.Context,
	corrID, routingKey string,
	deliveries <-chan amqp.Delivery,
	returns <-chan amqp.Return,
	confirms <-chan amqp.Confirmation,
	wait time.Duration,
) (*outcome.Outcome, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s - call to %s abandoned: %w", callerLogPrefix, routingKey, ctx.Err())

		case <-timer.C:
			slog.Warn(fmt.Sprintf("%s - no reply for %s on %s after %v", callerLogPrefix, corrID, routingKey, wait))
			return outcome.Timeout(), nil

		case ret, ok := <-returns:
			if !ok {
				returns = nil
				continue
			}
			slog.Warn(fmt.Sprintf("%s - request to %s returned: %d %s", callerLogPrefix, routingKey, ret.ReplyCode, ret.ReplyText))
			return outcome.Unavailable(), nil

		case conf, ok := <-confirms:
			if !ok {
				confirms = nil
				continue
			}
			if !conf.Ack {
				slog.Warn(fmt.Sprintf("%s - broker rejected request to %s", callerLogPrefix, routingKey))
				return outcome.Unavailable(), nil
			}
			confirms = nil

		case d, ok := <-deliveries:
			if !ok {
				return nil, fmt.Errorf("%s - reply queue closed while waiting for %s: %w", callerLogPrefix, routingKey, amqp.ErrClosed)
			}
			if d.CorrelationId != corrID {
				slog.Debug(fmt.Sprintf("%s - discarding reply with correlation id %q", callerLogPrefix, d.CorrelationId))
				continue
			}
			res, err := outcome.Decode(d.Body)
			if err != nil {
				return nil, err
			}
			slog.Debug(fmt.Sprintf("%s - Got reply %s from %s in %v", callerLogPrefix, corrID, routingKey, time.Since(start)))
			return res, nil
		}
	}
}
