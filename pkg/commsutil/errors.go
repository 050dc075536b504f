package commsutil

import "errors"

// ErrBrokerUnavailable is wrapped by every failure to reach the broker when opening a call.
// The dispatcher maps it to a 503 outcome and may retry.
var ErrBrokerUnavailable = errors.New("broker unavailable")
