package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// DefaultUsageSubjectPrefix is the subject prefix usage events are published under.
const DefaultUsageSubjectPrefix = "usage"

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	SubjectPrefix string
}

// CommsPublisher publishes usage events to "<prefix>.<service>" on COMMS.
type CommsPublisher struct {
	nc     *comms.Conn
	prefix string
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	prefix := DefaultUsageSubjectPrefix
	if opts != nil && opts.SubjectPrefix != "" {
		prefix = opts.SubjectPrefix
	}
	return &CommsPublisher{nc: nc, prefix: prefix}
}

// Subject returns the subject events for service are published on.
func (p *CommsPublisher) Subject(service string) string {
	return p.prefix + "." + service
}

// PublishUsage publishes the event on the service's usage subject.
func (p *CommsPublisher) PublishUsage(_ context.Context, event *UsageEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
	}

	subject := p.Subject(event.Service)
	if err := p.nc.Publish(subject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, subject, err))
		return err
	}

	slog.Debug(fmt.Sprintf("%s - Published usage event for %s", commsPublisherLogPrefix, event.Service))
	return nil
}
