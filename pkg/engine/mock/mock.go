// Package mock provides a test double for the engine.Engine interface.
//
// Use Engine in unit tests to feed controlled responses into the turn
// orchestrator without a live generation backend, and to inspect the exact
// requests it produced. All response fields should be set before the engine
// is handed to the code under test; mutating them during a concurrent call is
// the caller's responsibility.
//
// Example:
//
//	e := &mock.Engine{Response: "Hello, keeper!"}
//	out, err := e.Generate(ctx, engine.Request{Prompt: "hi"})
package mock

import (
	"context"
	"sync"

	"github.com/oakmund/sprout/pkg/engine"
)

// GenerateCall records a single invocation of Generate.
type GenerateCall struct {
	// Ctx is the context passed to Generate.
	Ctx context.Context
	// Req is the request passed to Generate.
	Req engine.Request
}

// Engine is a mock implementation of engine.Engine.
// The zero value returns "" and a nil error from Generate.
type Engine struct {
	mu sync.Mutex

	// Response is returned by Generate when Err is nil and Responses is empty.
	Response string

	// Responses, when non-empty, is consumed one element per Generate call.
	// After the slice is exhausted, Response is returned.
	Responses []string

	// Err, if non-nil, is returned by every Generate call.
	Err error

	// Delay, if set, makes Generate block until the delay elapses or ctx is
	// cancelled. Useful for exercising cancellation during inference.
	Delay func(ctx context.Context) error

	// EngineName is returned by Name. Defaults to "mock".
	EngineName string

	// GenerateCalls records every invocation of Generate in order.
	GenerateCalls []GenerateCall
}

// Compile-time interface check.
var _ engine.Engine = (*Engine)(nil)

// Generate records the call and returns the configured response or error.
func (e *Engine) Generate(ctx context.Context, req engine.Request) (string, error) {
	if e.Delay != nil {
		if err := e.Delay(ctx); err != nil {
			return "", err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.GenerateCalls = append(e.GenerateCalls, GenerateCall{Ctx: ctx, Req: req})

	if e.Err != nil {
		return "", e.Err
	}
	if len(e.Responses) > 0 {
		out := e.Responses[0]
		e.Responses = e.Responses[1:]
		return out, nil
	}
	return e.Response, nil
}

// Name returns EngineName or "mock" when unset.
func (e *Engine) Name() string {
	if e.EngineName != "" {
		return e.EngineName
	}
	return "mock"
}

// Reset clears all recorded calls. Thread-safe.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.GenerateCalls = nil
}
