package notify

import "time"

// Backoff computes the redelivery delay for a failed job. Exponential
// doubling from Base, capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

func DefaultBackoff() Backoff {
	return Backoff{Base: 5 * time.Second, Max: 5 * time.Minute}
}

// Delay returns the wait before attempt n is retried. Attempts are
// 1-based: the first failure waits Base, the second 2*Base, and so on.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// Schedule returns the full delay sequence for n attempts. Used for
// configuring server-side redelivery policies.
func (b Backoff) Schedule(n int) []time.Duration {
	out := make([]time.Duration, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, b.Delay(i))
	}
	return out
}
