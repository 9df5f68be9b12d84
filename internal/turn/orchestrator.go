// Package turn sequences one synchronous cycle per user input: context
// update → inference → experience update → persistence.
//
// A turn either fully commits — transcript update, experience update, and a
// durable save — or has no observable effect on the companion state. The
// generation call is the single suspension point; inference failure or
// cancellation rewinds the staged transcript and leaves both the in-memory
// state and the durable record exactly as they were.
package turn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oakmund/sprout/internal/companion"
	"github.com/oakmund/sprout/internal/convo"
	"github.com/oakmund/sprout/internal/observe"
	"github.com/oakmund/sprout/internal/store"
	"github.com/oakmund/sprout/pkg/engine"
)

// Phase is the orchestrator's position in the turn cycle, exposed for
// observability. Phases advance strictly in order within one turn.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhasePromptBuilt
	PhaseAwaitingInference
	PhaseStateUpdated
	PhasePersisted
)

// String returns the human-readable phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePromptBuilt:
		return "prompt-built"
	case PhaseAwaitingInference:
		return "awaiting-inference"
	case PhaseStateUpdated:
		return "state-updated"
	case PhasePersisted:
		return "persisted"
	default:
		return "unknown"
	}
}

// Sentinel errors classifying turn failures.
var (
	// ErrInference marks a turn aborted because the generation call failed.
	// The companion state is untouched; the same input may be retried
	// verbatim without double-counting experience, because an aborted turn
	// awarded none.
	ErrInference = errors.New("turn aborted: inference failed")

	// ErrPersist marks a turn whose save failed after a successful
	// generation. The turn did not commit and the previous durable record is
	// intact; the in-memory state is rolled back to it.
	ErrPersist = errors.New("turn not committed: persistence failed")
)

// Retryable reports whether a failed turn may be retried verbatim.
// Persistence failures are not retryable for the same turn: the disk, not
// the input, is the problem.
func Retryable(err error) bool {
	return errors.Is(err, ErrInference) && !errors.Is(err, context.Canceled)
}

// Config wires an Orchestrator.
type Config struct {
	// Context owns the transcript and prompt rendering. Must not be nil.
	Context *convo.Context

	// Experience computes XP awards and level transitions. Must not be nil.
	Experience *companion.Engine

	// Store persists committed state. Must not be nil.
	Store store.Store

	// Engine is the generation backend. Must not be nil.
	Engine engine.Engine

	// Initial is the state loaded at startup. Its transcript seeds Context.
	Initial companion.State

	// Fresh is the state installed by Reset.
	Fresh companion.State

	// MaxReplyTokens caps the companion's reply length. Zero means engine
	// default.
	MaxReplyTokens int

	// Temperature is passed through to the engine. Zero means engine default.
	Temperature float64

	// Metrics receives turn instrumentation. Nil selects
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Result reports one committed turn.
type Result struct {
	// Reply is the companion's generated message.
	Reply string

	// Award is the XP granted, and Taught whether the teaching bonus applied.
	Award  int
	Taught bool

	// LevelUps is how many levels were gained this turn.
	LevelUps int

	// State is the committed post-turn state.
	State companion.State
}

// Orchestrator drives the turn cycle. Turns are strictly sequential: a mutex
// serialises state mutation and persistence, so no turn begins while a prior
// turn's save is in flight.
type Orchestrator struct {
	ctxw    *convo.Context
	xp      *companion.Engine
	store   store.Store
	engine  engine.Engine
	metrics *observe.Metrics

	maxReplyTokens int
	temperature    float64
	fresh          companion.State

	mu    sync.Mutex
	state companion.State
	phase atomic.Int32
}

// New creates an Orchestrator and seeds the conversation context with the
// initial state's transcript.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Context == nil || cfg.Experience == nil || cfg.Store == nil || cfg.Engine == nil {
		return nil, fmt.Errorf("turn: context, experience, store, and engine are all required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	cfg.Context.Load(cfg.Initial.Transcript)

	o := &Orchestrator{
		ctxw:           cfg.Context,
		xp:             cfg.Experience,
		store:          cfg.Store,
		engine:         cfg.Engine,
		metrics:        cfg.Metrics,
		maxReplyTokens: cfg.MaxReplyTokens,
		temperature:    cfg.Temperature,
		fresh:          cfg.Fresh,
		state:          cfg.Initial.Clone(),
	}
	return o, nil
}

// Turn runs one full cycle for userInput and returns the committed result.
// On error, the companion state — in memory and durable — is unchanged.
func (o *Orchestrator) Turn(ctx context.Context, userInput string) (*Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	defer o.phase.Store(int32(PhaseIdle))

	start := time.Now()

	// Stage: the snapshot restores the transcript if anything downstream
	// fails, so a failed turn has no observable effect.
	snap := o.ctxw.Snapshot()
	userMsg := o.ctxw.Append(companion.RoleUser, userInput)
	prompt := o.ctxw.RenderPrompt()
	o.phase.Store(int32(PhasePromptBuilt))

	o.phase.Store(int32(PhaseAwaitingInference))
	infStart := time.Now()
	reply, err := o.engine.Generate(ctx, engine.Request{
		Prompt:      prompt,
		MaxTokens:   o.maxReplyTokens,
		Temperature: o.temperature,
	})
	o.metrics.RecordInference(ctx, o.engine.Name(), time.Since(infStart).Seconds(), err != nil)
	if err != nil {
		o.ctxw.Restore(snap)
		o.metrics.RecordTurn(ctx, "inference_failed", time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}

	o.ctxw.Append(companion.RoleCompanion, reply)
	turnRes := o.xp.ApplyTurn(userMsg.Content, o.state)
	o.phase.Store(int32(PhaseStateUpdated))

	next := turnRes.State
	next.Transcript = o.ctxw.Messages()

	if err := o.store.Save(ctx, next); err != nil {
		o.ctxw.Restore(snap)
		o.metrics.RecordTurn(ctx, "persist_failed", time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	o.state = next
	o.phase.Store(int32(PhasePersisted))

	o.metrics.RecordTurn(ctx, "committed", time.Since(start).Seconds())
	o.metrics.RecordExperience(ctx, turnRes.Award, turnRes.LevelUps, next.Level)

	return &Result{
		Reply:    reply,
		Award:    turnRes.Award,
		Taught:   turnRes.Taught,
		LevelUps: turnRes.LevelUps,
		State:    next.Clone(),
	}, nil
}

// State returns a copy of the current committed companion state.
func (o *Orchestrator) State() companion.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Clone()
}

// Phase returns the orchestrator's current position in the turn cycle.
// Safe to call from any goroutine while a turn is in flight.
func (o *Orchestrator) Phase() Phase {
	return Phase(o.phase.Load())
}

// Reset destroys the durable record and reinstalls the fresh state. This is
// the only path that discards companion progress.
func (o *Orchestrator) Reset(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.store.Reset(ctx); err != nil {
		return fmt.Errorf("turn: reset: %w", err)
	}
	o.ctxw.Reset()
	o.state = o.fresh.Clone()
	return nil
}
