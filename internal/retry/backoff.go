// Package retry provides bounded retry with pluggable backoff delays.
package retry

import "time"

// Strategy computes the wait before retry n, where n starts at 1 for the
// first retry after the initial failure.
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Exponential waits Initial before the first retry and doubles the wait for
// each later one. A positive Max caps the wait.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential returns an exponential strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

func (e *Exponential) Delay(attempt int) time.Duration {
	d := e.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if e.Max > 0 && d >= e.Max {
			return e.Max
		}
	}
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}
