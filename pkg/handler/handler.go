// Package handler defines the capability every local or remote worker implements.
package handler

import (
	"context"
	"encoding/json"

	"github.com/morezero/workerbridge/pkg/outcome"
)

// A Handler processes one decoded request body.
//
// body is the untrusted JSON payload of the request; implementations validate it themselves and
// report validation failures as a 4xx Outcome rather than returning an error. application is the
// optional tag supplied by the caller (empty when absent), generally used for request statistics.
type Handler interface {
	Process(ctx context.Context, body json.RawMessage, application string) *outcome.Outcome
}

// The HandlerFunc type is an adapter to allow the use of ordinary functions as handlers.
type HandlerFunc func(ctx context.Context, body json.RawMessage, application string) *outcome.Outcome

// Process calls f(ctx, body, application).
func (f HandlerFunc) Process(ctx context.Context, body json.RawMessage, application string) *outcome.Outcome {
	return f(ctx, body, application)
}
