// Package engine defines the narrow contract between the Sprout turn core and
// any text-generation backend.
//
// The companion core treats generation as a black box: a bounded prompt goes
// in, generated text or a classified failure comes out. Backend internals —
// weights, quantisation, serving stack — are deliberately outside this
// interface. Implementations live in subpackages (anyllm, openai) plus a
// recording test double in mock.
//
// Implementors must be safe for concurrent use and must propagate context
// cancellation promptly: when ctx is cancelled, Generate must return as
// quickly as possible.
package engine

import (
	"context"
	"errors"
)

// Sentinel errors classifying generation failures. Backends wrap the
// underlying cause with one of these so the orchestrator can decide whether a
// turn is worth retrying.
var (
	// ErrUnreachable indicates the backend could not be contacted at all
	// (connection refused, DNS failure, server down).
	ErrUnreachable = errors.New("engine unreachable")

	// ErrTimeout indicates the backend accepted the request but did not
	// answer within the allotted time.
	ErrTimeout = errors.New("engine timed out")

	// ErrMalformed indicates the backend answered, but the response could not
	// be interpreted as generated text (empty choices, truncated body).
	ErrMalformed = errors.New("malformed engine response")
)

// Retryable reports whether err represents a transient generation failure
// that the caller may retry verbatim. Context cancellation is not retryable —
// the user asked to stop.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrUnreachable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrMalformed) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Request carries a single generation call.
type Request struct {
	// Prompt is the full rendered prompt, already trimmed to the engine's
	// context budget by the caller. Must be non-empty.
	Prompt string

	// MaxTokens caps the completion length. Zero means backend default.
	MaxTokens int

	// Temperature controls output randomness in [0.0, 2.0]. Zero requests the
	// backend default.
	Temperature float64
}

// Engine is the abstraction over any text-generation backend.
type Engine interface {
	// Generate sends req to the backend and returns the generated text.
	// Failures are wrapped with one of the package sentinel errors where the
	// cause can be classified.
	Generate(ctx context.Context, req Request) (string, error)

	// Name returns a short backend identifier for logs and metrics
	// (e.g., "ollama", "openai").
	Name() string
}
