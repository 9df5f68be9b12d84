package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/oakmund/sprout/pkg/engine"
)

// ErrAllEnginesFailed is returned when every engine in a [Chain] fails or sits
// behind an open breaker.
var ErrAllEnginesFailed = errors.New("all engines failed")

// Compile-time interface check.
var _ engine.Engine = (*Chain)(nil)

// chainEntry pairs an engine with its dedicated breaker.
type chainEntry struct {
	eng     engine.Engine
	breaker *Breaker
}

// Chain implements [engine.Engine] with automatic failover across multiple
// backends. Each backend has its own circuit breaker; when the primary fails
// or its breaker is open, the next healthy fallback is tried in registration
// order.
type Chain struct {
	entries []chainEntry
	cfg     BreakerConfig
}

// NewChain creates a [Chain] with primary as the preferred backend. The
// breaker config (minus Name, which is taken from each engine) is shared by
// every entry.
func NewChain(primary engine.Engine, cfg BreakerConfig) *Chain {
	c := &Chain{cfg: cfg}
	c.add(primary)
	return c
}

// AddFallback registers an additional engine, tried after all earlier
// entries.
func (c *Chain) AddFallback(e engine.Engine) {
	c.add(e)
}

func (c *Chain) add(e engine.Engine) {
	cfg := c.cfg
	cfg.Name = e.Name()
	c.entries = append(c.entries, chainEntry{
		eng:     e,
		breaker: NewBreaker(cfg),
	})
}

// Generate implements engine.Engine. It tries each entry in order until one
// succeeds. Context cancellation stops the walk immediately — a cancelled
// turn must not fall through to another backend.
func (c *Chain) Generate(ctx context.Context, req engine.Request) (string, error) {
	var lastErr error
	for i := range c.entries {
		entry := &c.entries[i]

		var out string
		err := entry.breaker.Do(func() error {
			var genErr error
			out, genErr = entry.eng.Generate(ctx, req)
			return genErr
		})
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return "", err
		}

		lastErr = err
		if errors.Is(err, ErrBreakerOpen) {
			slog.Debug("skipping engine (breaker open)", "engine", entry.eng.Name())
		} else {
			slog.Warn("engine failed, trying next",
				"engine", entry.eng.Name(), "err", err)
		}
	}
	return "", fmt.Errorf("%w: %w", ErrAllEnginesFailed, lastErr)
}

// Name implements engine.Engine. The chain reports all member names joined
// for logs and metrics (e.g., "ollama+openai").
func (c *Chain) Name() string {
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.eng.Name()
	}
	return strings.Join(names, "+")
}
