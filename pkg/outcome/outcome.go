// Package outcome defines the uniform result envelope returned by every handler, local or remote.
package outcome

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
)

const logPrefix = "outcome:outcome"

// DefaultMimeType is the content type assumed when none is set.
const DefaultMimeType = "application/json"

// UnavailableMessage is returned when no worker is bound for a routing key or the broker is unreachable.
const UnavailableMessage = "Request cannot be processed. Check your request or try again later."

// TimeoutMessage is returned when a remote worker accepted a request but never replied in time.
const TimeoutMessage = "The worker did not respond in time. Try again later."

// Outcome is the result of one request. Content is either a structured payload or an error message.
type Outcome struct {
	Content    interface{} `json:"content"`
	StatusCode int         `json:"http_status_code"`
	MimeType   string      `json:"mimetype"`
}

// New returns a successful JSON outcome carrying content.
func New(content interface{}) *Outcome {
	return &Outcome{Content: content, StatusCode: http.StatusOK, MimeType: DefaultMimeType}
}

// WithStatus returns a JSON outcome with an explicit status code.
func WithStatus(status int, content interface{}) *Outcome {
	return &Outcome{Content: content, StatusCode: status, MimeType: DefaultMimeType}
}

// Error returns an outcome whose content is a human-readable error message.
func Error(status int, message string) *Outcome {
	return WithStatus(status, message)
}

// Binary returns a successful outcome carrying raw bytes. On the wire they travel base64-encoded.
func Binary(data []byte, mimeType string) *Outcome {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return &Outcome{Content: data, StatusCode: http.StatusOK, MimeType: mimeType}
}

// Unavailable is the outcome for unroutable requests and unreachable brokers.
func Unavailable() *Outcome {
	return Error(http.StatusServiceUnavailable, UnavailableMessage)
}

// Timeout is the outcome for requests whose reply did not arrive within the call timeout.
func Timeout() *Outcome {
	return Error(http.StatusGatewayTimeout, TimeoutMessage)
}

// IsJSON reports whether the content should be rendered as JSON.
func (o *Outcome) IsJSON() bool {
	return o.MimeType == "" || o.MimeType == DefaultMimeType
}

// Bytes returns the raw body for non-JSON content. Decoded binary content arrives as a
// base64 string and is decoded here; plain strings are returned as-is.
func (o *Outcome) Bytes() ([]byte, error) {
	switch v := o.Content.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		if o.IsJSON() {
			return []byte(v), nil
		}
		if data, err := base64.StdEncoding.DecodeString(v); err == nil {
			return data, nil
		}
		return []byte(v), nil
	default:
		return json.Marshal(v)
	}
}

// Encode serializes the outcome to its wire form. Zero status and mimetype are filled with defaults
// so that no partially formed envelope leaves the process.
func (o *Outcome) Encode() ([]byte, error) {
	wire := *o
	if wire.StatusCode == 0 {
		wire.StatusCode = http.StatusOK
	}
	if wire.MimeType == "" {
		wire.MimeType = DefaultMimeType
	}
	data, err := json.Marshal(&wire)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to encode outcome: %w", logPrefix, err)
	}
	return data, nil
}

// Decode parses a wire outcome into a fresh Outcome, applying defaults for absent fields.
func Decode(data []byte) (*Outcome, error) {
	o := &Outcome{StatusCode: http.StatusOK, MimeType: DefaultMimeType}
	if err := json.Unmarshal(data, o); err != nil {
		return nil, fmt.Errorf("%s - failed to decode outcome: %w", logPrefix, err)
	}
	if o.StatusCode == 0 {
		o.StatusCode = http.StatusOK
	}
	if o.MimeType == "" {
		o.MimeType = DefaultMimeType
	}
	return o, nil
}

// String is used in debug logs.
func (o *Outcome) String() string {
	return fmt.Sprintf("Outcome{status=%d mimetype=%s}", o.StatusCode, o.MimeType)
}
