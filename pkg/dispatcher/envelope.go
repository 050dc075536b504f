// Package dispatcher is the single entry point that sends a request to the worker configured for
// its authentication token, in-process or through the broker.
package dispatcher

import "encoding/json"

// Request is one incoming unit of work as received by the front end.
type Request struct {
	// Token selects the worker; empty means the public worker.
	Token string
	// Body is the untrusted JSON payload.
	Body json.RawMessage
	// Application is the optional tag used for usage statistics.
	Application string
}

// Messages of the outcomes produced by the dispatcher itself.
const (
	InvalidTokenMessage       = "Invalid authentication token."
	MethodNotSupportedMessage = "Method not supported."
)
