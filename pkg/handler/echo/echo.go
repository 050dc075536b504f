// Package echo is a minimal worker that returns the submitted text. It is used by the sample worker
// binary and by local-only gateway deployments.
package echo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/morezero/workerbridge/pkg/outcome"
)

const logPrefix = "echo:echo"

// Name is the key under which the echo handler is registered for local dispatch.
const Name = "echo"

// Handler echoes the "text" field of the request body.
type Handler struct{}

// New creates an echo Handler.
func New() *Handler {
	return &Handler{}
}

type request struct {
	Text json.RawMessage `json:"text"`
}

// Process validates the body and returns {"Result": text}. text may be a string or a list of strings.
func (h *Handler) Process(_ context.Context, body json.RawMessage, application string) *outcome.Outcome {
	slog.Debug(fmt.Sprintf("%s - request from application=%q", logPrefix, application))

	var req request
	if err := json.Unmarshal(body, &req); err != nil {
		return outcome.WithStatus(http.StatusBadRequest, map[string][]string{"_schema": {"Invalid input type."}})
	}
	if text := bytes.TrimSpace(req.Text); len(text) == 0 || bytes.Equal(text, []byte("null")) {
		return outcome.WithStatus(http.StatusBadRequest, map[string][]string{"text": {"Missing data for required field."}})
	}

	var single string
	if err := json.Unmarshal(req.Text, &single); err == nil {
		return outcome.New(map[string]interface{}{"Result": single})
	}
	var many []string
	if err := json.Unmarshal(req.Text, &many); err == nil && many != nil {
		return outcome.New(map[string]interface{}{"Result": many})
	}
	return outcome.WithStatus(http.StatusBadRequest, map[string][]string{"text": {"Invalid value."}})
}
