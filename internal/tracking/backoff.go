package tracking

import "time"

// backoff doubles the delay after each failure up to ceiling.
type backoff struct {
	initial time.Duration
	ceiling time.Duration
	current time.Duration
}

func newBackoff(initial, ceiling time.Duration) *backoff {
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	if ceiling < initial {
		ceiling = initial
	}
	return &backoff{initial: initial, ceiling: ceiling}
}

func (b *backoff) next() time.Duration {
	if b.current == 0 {
		b.current = b.initial
	} else {
		b.current *= 2
		if b.current > b.ceiling {
			b.current = b.ceiling
		}
	}
	return b.current
}

func (b *backoff) reset() { b.current = 0 }
