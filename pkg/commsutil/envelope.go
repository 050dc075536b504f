package commsutil

import (
	"encoding/json"
	"fmt"
)

// Message header names used by the NATS bridge. The AMQP bridge carries the same values in
// native message properties.
const (
	HeaderCorrelationID = "Correlation-Id"
	HeaderExpiration    = "Expiration"
	HeaderExpiresAt     = "Expires-At"
)

// ContentTypeJSON is set on every published request and reply.
const ContentTypeJSON = "application/json"

// Request is the body of every published request message.
type Request struct {
	Body        json.RawMessage `json:"body"`
	Application *string         `json:"application"`
}

// NewRequest builds a request envelope; an empty application is sent as null.
func NewRequest(body json.RawMessage, application string) *Request {
	req := &Request{Body: body}
	if len(req.Body) == 0 {
		req.Body = json.RawMessage("null")
	}
	if application != "" {
		req.Application = &application
	}
	return req
}

// Tag returns the application tag, empty when absent.
func (r *Request) Tag() string {
	if r.Application == nil {
		return ""
	}
	return *r.Application
}

// EncodeRequest serializes a request envelope.
func EncodeRequest(req *Request) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("commsutil:envelope - failed to encode request: %w", err)
	}
	return data, nil
}

// DecodeRequest parses a request envelope. A missing body decodes as JSON null.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("commsutil:envelope - failed to decode request: %w", err)
	}
	if len(req.Body) == 0 {
		req.Body = json.RawMessage("null")
	}
	return &req, nil
}
