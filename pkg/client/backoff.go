package client

import (
	"sync"
	"time"
)

// backoff produces the reconnect delay sequence: each failed attempt
// doubles the delay from the floor up to the ceiling. Reset on a
// successful handshake.
type backoff struct {
	mu      sync.Mutex
	floor   time.Duration
	ceiling time.Duration
	current time.Duration
}

func newBackoff(floor, ceiling time.Duration) *backoff {
	if floor <= 0 {
		floor = time.Second
	}
	if ceiling < floor {
		ceiling = floor
	}
	return &backoff{floor: floor, ceiling: ceiling, current: floor}
}

// next returns the delay to wait before the upcoming attempt and advances
// the sequence.
func (b *backoff) next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.current
	b.current *= 2
	if b.current > b.ceiling {
		b.current = b.ceiling
	}
	return d
}

// reset returns the sequence to its floor.
func (b *backoff) reset() {
	b.mu.Lock()
	b.current = b.floor
	b.mu.Unlock()
}
