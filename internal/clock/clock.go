// Package clock provides an injectable wall-clock source.
package clock

import "time"

// Clock yields the current time. Production code uses System; tests
// substitute a controllable implementation.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// System returns a Clock backed by time.Now in UTC.
func System() Clock { return systemClock{} }
