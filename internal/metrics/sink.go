// Package metrics abstracts the counters and timers the publisher pipeline
// records, so library users without a metrics backend pay nothing.
package metrics

import "time"

// Sink receives pipeline observations. Implementations must be safe for
// concurrent use.
type Sink interface {
	// Published records the terminal outcome of one publish call.
	Published(eventType string, success bool, duration time.Duration)
	// DLQEvent records a dead-letter fallback.
	DLQEvent(eventType, reason string)
	// Retry records one retry attempt and its outcome.
	Retry(eventType string, attempt int, outcome string)
	// BrokerError records a broker failure by error class.
	BrokerError(errorClass string)
}

type noop struct{}

func (noop) Published(string, bool, time.Duration) {}
func (noop) DLQEvent(string, string)              {}
func (noop) Retry(string, int, string)            {}
func (noop) BrokerError(string)                   {}

// Noop returns a Sink that discards everything. It is the default.
func Noop() Sink { return noop{} }
