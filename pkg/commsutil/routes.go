package commsutil

import (
	"strconv"
	"strings"
	"time"
)

// QueueName returns the queue (and primary routing key) of a worker: "<service>.<worker>".
func QueueName(service, worker string) string {
	return service + "." + worker
}

// AltRoutingKeys prefixes every alternate route with the service name, e.g. "public.est.eng"
// becomes "<service>.public.est.eng". Blank entries are skipped.
func AltRoutingKeys(service string, alts []string) []string {
	keys := make([]string, 0, len(alts))
	for _, alt := range alts {
		alt = strings.TrimSpace(alt)
		if alt == "" {
			continue
		}
		keys = append(keys, service+"."+alt)
	}
	return keys
}

// Expiration formats a timeout as the string-encoded millisecond TTL carried on request messages.
func Expiration(timeout time.Duration) string {
	return strconv.FormatInt(timeout.Milliseconds(), 10)
}
