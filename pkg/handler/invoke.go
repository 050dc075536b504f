package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/morezero/workerbridge/pkg/commsutil"
	"github.com/morezero/workerbridge/pkg/outcome"
)

const logPrefix = "handler:invoke"

// Invoke runs h with panic recovery. A panic or a nil result becomes a 500 outcome so that every
// request is always answered.
func Invoke(ctx context.Context, h Handler, body json.RawMessage, application string) (res *outcome.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - handler panicked: %v", logPrefix, r))
			res = outcome.Error(http.StatusInternalServerError, "Internal error while processing the request.")
		}
	}()
	res = h.Process(ctx, body, application)
	if res == nil {
		slog.Error(fmt.Sprintf("%s - handler returned no outcome", logPrefix))
		res = outcome.Error(http.StatusInternalServerError, "Internal error while processing the request.")
	}
	return res
}

// ServeEnvelope decodes a wire request envelope and invokes h on it. A malformed envelope is
// answered with a 400 outcome instead of reaching the handler.
func ServeEnvelope(ctx context.Context, h Handler, data []byte) *outcome.Outcome {
	req, err := commsutil.DecodeRequest(data)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - rejecting malformed request: %v", logPrefix, err))
		return outcome.Error(http.StatusBadRequest, "Malformed request envelope.")
	}
	return Invoke(ctx, h, req.Body, req.Tag())
}
