package events

import (
	"context"
	"errors"
)

// Publisher records usage events.
type Publisher interface {
	PublishUsage(ctx context.Context, event *UsageEvent) error
}

// NoOpPublisher is a Publisher that does nothing (for deployments without usage statistics).
type NoOpPublisher struct{}

// PublishUsage is a no-op.
func (p *NoOpPublisher) PublishUsage(_ context.Context, _ *UsageEvent) error {
	return nil
}

// CallbackPublisher is a Publisher that calls a callback function (for testing).
type CallbackPublisher struct {
	callback func(ctx context.Context, event *UsageEvent) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, event *UsageEvent) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// PublishUsage calls the callback.
func (p *CallbackPublisher) PublishUsage(ctx context.Context, event *UsageEvent) error {
	return p.callback(ctx, event)
}

// MultiPublisher fans an event out to several publishers. Every publisher is tried; the errors are
// joined.
type MultiPublisher []Publisher

// PublishUsage publishes to every member.
func (m MultiPublisher) PublishUsage(ctx context.Context, event *UsageEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishUsage(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
