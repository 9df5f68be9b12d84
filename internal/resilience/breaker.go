// Package resilience protects the turn cycle from a misbehaving generation
// backend. A three-state circuit breaker (closed → open → half-open) makes a
// dead engine fail fast instead of hanging every turn, and [Chain] composes a
// primary engine with fallbacks, each behind its own breaker.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Do] while the breaker is open and
// the cool-off period has not yet elapsed.
var ErrBreakerOpen = errors.New("engine breaker is open")

// breakerState is the operating mode of a [Breaker].
type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// String returns the human-readable name of the state.
func (s breakerState) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds tuning knobs for a [Breaker].
type BreakerConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxFailures is the number of consecutive failures before the breaker
	// opens. Default: 3.
	MaxFailures int

	// CoolOff is how long the breaker stays open before admitting a probe
	// call. Default: 20s.
	CoolOff time.Duration
}

// Breaker is a three-state circuit breaker. While open, calls are rejected
// immediately with [ErrBreakerOpen]; after the cool-off a single probe call
// is admitted, and its outcome decides whether the breaker closes or
// re-opens.
type Breaker struct {
	name        string
	maxFailures int
	coolOff     time.Duration

	mu       sync.Mutex
	state    breakerState
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a [Breaker]; zero-value config fields get defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.CoolOff <= 0 {
		cfg.CoolOff = 20 * time.Second
	}
	return &Breaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		coolOff:     cfg.CoolOff,
	}
}

// Do runs fn if the breaker admits the call, recording the outcome.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := fn()
	b.record(err)
	return err
}

// admit decides whether a call may proceed, transitioning open → half-open
// after the cool-off.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateOpen:
		if time.Since(b.openedAt) < b.coolOff {
			return ErrBreakerOpen
		}
		b.state = stateHalfOpen
		b.probing = false
		slog.Info("engine breaker admitting probe", "engine", b.name)
		fallthrough
	case stateHalfOpen:
		if b.probing {
			// One probe at a time.
			return ErrBreakerOpen
		}
		b.probing = true
	}
	return nil
}

// record books the outcome of an admitted call.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateHalfOpen:
		b.probing = false
		if err != nil {
			b.state = stateOpen
			b.openedAt = time.Now()
			slog.Warn("engine breaker re-opened after failed probe", "engine", b.name)
			return
		}
		b.state = stateClosed
		b.failures = 0
		slog.Info("engine breaker closed after successful probe", "engine", b.name)

	case stateClosed:
		if err == nil {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.maxFailures {
			b.state = stateOpen
			b.openedAt = time.Now()
			slog.Warn("engine breaker opened",
				"engine", b.name,
				"consecutive_failures", b.failures)
		}
	}
}

// Reset forces the breaker back to closed, clearing all failure counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = stateClosed
	b.failures = 0
	b.probing = false
}
