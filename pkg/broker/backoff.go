package broker

import "time"

const (
	// DefaultInitialDelay is the wait before the first reconnection attempt.
	DefaultInitialDelay = 1 * time.Second
	// DefaultMaxDelay caps the doubling schedule.
	DefaultMaxDelay = 60 * time.Second
)

// NextDelay returns the reconnection delay for the given attempt (0-based).
// The schedule starts at initial, doubles each attempt and never exceeds max.
// Keeping this a pure function of the attempt counter means the whole
// reconnect policy is testable without a broker.
func NextDelay(attempt int, initial, max time.Duration) time.Duration {
	if initial <= 0 {
		initial = DefaultInitialDelay
	}
	if max <= 0 {
		max = DefaultMaxDelay
	}
	d := initial
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
