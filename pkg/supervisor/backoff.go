package supervisor

import "time"

// Backoff computes the delay before a reconnect attempt.
// Delays grow linearly with the attempt number and are capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before attempt (1-based). Attempts below 1 are
// treated as 1, so the result never decreases as attempt grows.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base * time.Duration(attempt)
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}
