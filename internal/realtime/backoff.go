// ABOUTME: Exponential reconnect backoff with a ceiling
// ABOUTME: Delay doubles from Base on every consecutive failure up to Max

package realtime

import "time"

// Backoff defaults
const (
	DefaultBackoffBase = time.Second
	DefaultBackoffMax  = 30 * time.Second
)

// Backoff computes reconnect delays.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff returns the 1s..30s schedule.
func DefaultBackoff() Backoff {
	return Backoff{Base: DefaultBackoffBase, Max: DefaultBackoffMax}
}

func (b Backoff) withDefaults() Backoff {
	if b.Base <= 0 {
		b.Base = DefaultBackoffBase
	}
	if b.Max < b.Base {
		b.Max = max(DefaultBackoffMax, b.Base)
	}
	return b
}

// Delay returns the wait before retry number retry (1-based):
// Base * 2^(retry-1), capped at Max.
func (b Backoff) Delay(retry int) time.Duration {
	b = b.withDefaults()
	if retry < 1 {
		retry = 1
	}

	d := b.Base
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= b.Max || d <= 0 {
			return b.Max
		}
	}
	return min(d, b.Max)
}
