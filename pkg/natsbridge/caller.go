// Package natsbridge implements the request/response bridge over NATS. Subjects play the role of
// routing keys, a private inbox is the reply queue and queue groups give competing consumers.
//
// Core NATS has no acknowledgements, so a request is delivered to a worker at most once: one that
// dies mid-request loses it and the caller sees a timeout.
//
// A Responder handles one request at a time and queues the rest in memory. It drops a request whose
// Expires-At has passed without replying: by then the caller's own deadline (timeout plus grace)
// has also passed, so it answers 504 regardless. Queue groups pick a member at random rather than
// the idle one, so a busy member may queue work another member could have taken.
package natsbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/workerbridge/pkg/commsutil"
	"github.com/morezero/workerbridge/pkg/outcome"
)

const callerLogPrefix = "natsbridge:caller"

// DefaultGrace is added to the call timeout before the caller gives up waiting for a reply.
const DefaultGrace = time.Second

// noRespondersStatus is the status the server sends to the reply subject when nothing is subscribed
// to the request subject.
const noRespondersStatus = "503"

// CallerParams holds parameters for NewCaller.
type CallerParams struct {
	URL     string
	Service string
	Grace   time.Duration
}

// Caller sends requests for one service. It holds no connection between calls and is safe for
// concurrent use.
type Caller struct {
	url     string
	service string
	grace   time.Duration
}

// NewCaller creates a Caller. A zero Grace uses DefaultGrace.
func NewCaller(params CallerParams) *Caller {
	grace := params.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Caller{url: params.URL, service: params.Service, grace: grace}
}

// Call publishes req on routingKey and waits for the matching reply.
//
// Failing before the request is published returns an error wrapping commsutil.ErrBrokerUnavailable;
// such a call may safely be retried. An unroutable key
// yields outcome.Unavailable without waiting; no reply within timeout plus the grace period yields
// outcome.Timeout.
func (c *Caller) Call(ctx context.Context, req *commsutil.Request, routingKey string, timeout time.Duration) (*outcome.Outcome, error) {
	data, err := commsutil.EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	nc, err := commsutil.Connect(c.url, "workerbridge-caller-"+c.service, comms.NoReconnect())
	if err != nil {
		return nil, err
	}
	defer nc.Close()

	inbox := nc.NewInbox()
	sub, err := nc.SubscribeSync(inbox)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to subscribe reply inbox: %w: %w", callerLogPrefix, commsutil.ErrBrokerUnavailable, err)
	}
	defer sub.Unsubscribe()

	corrID := uuid.NewString()
	sent := time.Now()

	msg := comms.NewMsg(routingKey)
	msg.Reply = inbox
	msg.Data = data
	msg.Header.Set(commsutil.HeaderCorrelationID, corrID)
	msg.Header.Set(commsutil.HeaderExpiration, commsutil.Expiration(timeout))
	msg.Header.Set(commsutil.HeaderExpiresAt, strconv.FormatInt(sent.Add(timeout).UnixMilli(), 10))
	msg.Header.Set("Content-Type", commsutil.ContentTypeJSON)

	if err := nc.PublishMsg(msg); err != nil {
		return nil, fmt.Errorf("%s - failed to publish request: %w: %w", callerLogPrefix, commsutil.ErrBrokerUnavailable, err)
	}
	slog.Debug(fmt.Sprintf("%s - Sent request %s to %s", callerLogPrefix, corrID, routingKey))

	waitCtx, cancel := context.WithTimeout(ctx, timeout+c.grace)
	defer cancel()

	for {
		reply, err := sub.NextMsgWithContext(waitCtx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%s - call to %s abandoned: %w", callerLogPrefix, routingKey, ctx.Err())
			}
			if errors.Is(err, context.DeadlineExceeded) {
				slog.Warn(fmt.Sprintf("%s - no reply for %s on %s after %v", callerLogPrefix, corrID, routingKey, time.Since(sent)))
				return outcome.Timeout(), nil
			}
			return nil, fmt.Errorf("%s - failed waiting for reply: %w", callerLogPrefix, err)
		}

		if len(reply.Data) == 0 && reply.Header.Get("Status") == noRespondersStatus {
			slog.Warn(fmt.Sprintf("%s - no worker bound for %s", callerLogPrefix, routingKey))
			return outcome.Unavailable(), nil
		}
		if got := reply.Header.Get(commsutil.HeaderCorrelationID); got != corrID {
			slog.Debug(fmt.Sprintf("%s - discarding reply with correlation id %q", callerLogPrefix, got))
			continue
		}

		res, err := outcome.Decode(reply.Data)
		if err != nil {
			return nil, err
		}
		slog.Debug(fmt.Sprintf("%s - Got reply %s from %s in %v", callerLogPrefix, corrID, routingKey, time.Since(sent)))
		return res, nil
	}
}
