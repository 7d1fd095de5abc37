package cache

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Circuit breaker configuration
const (
	maxConsecutiveErrors = 5                // Backend failures before the breaker trips
	breakerHalfOpen      = 30 * time.Second // Time before a single probe request is let through
)

// breaker stops calling a failing cache backend. While it is open every
// lookup misses and search lists the object store directly.
type breaker struct {
	mu                sync.Mutex
	consecutiveErrors int
	tripped           bool
	trippedAt         time.Time
	probing           bool
	now               func() time.Time
	logger            zerolog.Logger
}

func newBreaker(logger zerolog.Logger) *breaker {
	return &breaker{now: time.Now, logger: logger}
}

// allow reports whether the backend may be called. Once the half-open delay
// has passed, exactly one caller is let through as a probe.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.tripped {
		return true
	}
	if !b.probing && b.now().Sub(b.trippedAt) >= breakerHalfOpen {
		b.probing = true
		return true
	}
	return false
}

// success records a backend call that answered, including a clean miss
func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tripped {
		b.logger.Info().
			Time("tripped_at", b.trippedAt).
			Msg("Circuit breaker reset")
	}
	b.tripped = false
	b.probing = false
	b.consecutiveErrors = 0
}

// failure records a backend error and trips the breaker at the threshold.
// A failed probe restarts the half-open delay.
func (b *breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tripped {
		b.trippedAt = b.now()
		b.probing = false
		return
	}

	b.consecutiveErrors++
	if b.consecutiveErrors < maxConsecutiveErrors {
		return
	}
	b.tripped = true
	b.trippedAt = b.now()
	b.consecutiveErrors = 0

	b.logger.Warn().
		Time("reset_time", b.trippedAt).
		Dur("half_open_after", breakerHalfOpen).
		Msg("Circuit breaker tripped")
}

func (b *breaker) isOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped
}
