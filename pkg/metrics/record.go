// Package metrics keeps the observability trail of proxied prompt calls:
// a bounded in-memory history, an append-only JSON-lines file and
// pluggable sinks such as the Prometheus exporter.
package metrics

import (
	"math"
	"time"
)

// Record captures timing and status for a single proxied call.
// Records are immutable once pushed.
type Record struct {
	ID                 string  `json:"id"`
	Path               string  `json:"path"`
	PromptLength       int     `json:"promptLength"`
	PromptTokens       int     `json:"promptTokens,omitempty"`
	UpstreamStatus     int     `json:"upstreamStatus"`
	UpstreamDurationMs float64 `json:"upstreamDurationMs"`
	TotalDurationMs    float64 `json:"totalDurationMs"`
	Timestamp          int64   `json:"timestamp"` // unix millis
}

// Failed reports whether the upstream call failed. Status 0 means the
// request never got a response (transport failure).
func (r Record) Failed() bool {
	return r.UpstreamStatus == 0 || r.UpstreamStatus >= 400
}

// DurationMs converts d to milliseconds rounded to two decimals.
func DurationMs(d time.Duration) float64 {
	return math.Round(float64(d)/float64(time.Millisecond)*100) / 100
}
