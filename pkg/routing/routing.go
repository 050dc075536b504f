// Package routing resolves the broker routing key that addresses one remote worker variant.
package routing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/morezero/workerbridge/pkg/commsutil"
)

// DefaultWorkerName is used when a WorkerIdentity has no name.
const DefaultWorkerName = "public"

// WorkerIdentity is the addressing record of one remote worker variant.
type WorkerIdentity struct {
	// Name is combined with the service name to form the queue name and routing-key prefix.
	Name string `json:"name"`
	// RoutingPattern lists body fields whose values extend the routing key, in order.
	RoutingPattern []string `json:"routingPattern,omitempty"`
	// ConfigInfo is static content returned verbatim by a capability query.
	ConfigInfo interface{} `json:"configInfo,omitempty"`
}

// WorkerName returns the configured name or DefaultWorkerName.
func (w WorkerIdentity) WorkerName() string {
	if w.Name == "" {
		return DefaultWorkerName
	}
	return w.Name
}

// MissingParameterError reports a declared routing field that the request body does not carry.
// It is a client error: the request is never published.
type MissingParameterError struct {
	Field string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("Mandatory parameter %s missing", e.Field)
}

// Resolve builds "<service>.<worker>[.<value>]*", appending the value of every field in the
// identity's RoutingPattern as found in body. A field that is absent or null fails resolution.
func Resolve(service string, id WorkerIdentity, body json.RawMessage) (string, error) {
	key := commsutil.QueueName(service, id.WorkerName())
	if len(id.RoutingPattern) == 0 {
		return key, nil
	}

	fields, err := decodeFields(body)
	if err != nil {
		return "", &MissingParameterError{Field: id.RoutingPattern[0]}
	}

	var sb strings.Builder
	sb.WriteString(key)
	for _, name := range id.RoutingPattern {
		raw, ok := fields[name]
		if !ok || isNull(raw) {
			return "", &MissingParameterError{Field: name}
		}
		segment, err := segmentValue(raw)
		if err != nil {
			return "", &MissingParameterError{Field: name}
		}
		sb.WriteByte('.')
		sb.WriteString(segment)
	}
	return sb.String(), nil
}

func decodeFields(body json.RawMessage) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, fmt.Errorf("routing:routing - body is not an object")
	}
	return fields, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// segmentValue stringifies a field value: strings verbatim, numbers as written, booleans as
// true/false, and objects or arrays as compact JSON.
func segmentValue(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return "", err
		}
		return strconv.FormatBool(b), nil
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return "", err
		}
		return buf.String(), nil
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", err
		}
		return n.String(), nil
	}
}
