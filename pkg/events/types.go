// Package events defines the per-request usage event and the sinks it can be published to.
package events

import "time"

// UsageEvent is emitted once for every dispatched request.
type UsageEvent struct {
	Service     string `json:"service"`
	Token       string `json:"token"`
	Worker      string `json:"worker"`
	Application string `json:"application,omitempty"`
	RoutingKey  string `json:"routingKey,omitempty"`
	Local       bool   `json:"local"`
	StatusCode  int    `json:"statusCode"`
	DurationMs  int64  `json:"durationMs"`
	Timestamp   string `json:"timestamp"`
}

// ApplicationOrDefault returns the application tag, or "-" when the request carried none.
func (e *UsageEvent) ApplicationOrDefault() string {
	if e.Application == "" {
		return "-"
	}
	return e.Application
}

// Stamp sets Timestamp (RFC 3339, UTC) and DurationMs from the request start time.
func (e *UsageEvent) Stamp(start time.Time) {
	now := time.Now()
	e.DurationMs = now.Sub(start).Milliseconds()
	e.Timestamp = now.UTC().Format(time.RFC3339)
}
