package companion

import "fmt"

// Awards holds the experience tuning knobs. All values are fixed at
// configuration time.
type Awards struct {
	// Base is awarded for every completed turn.
	Base int

	// Bonus is additionally awarded when the teaching matcher recognises the
	// user message.
	Bonus int

	// BaseThreshold is the XP required to leave level 1; the requirement for
	// level n is BaseThreshold × n.
	BaseThreshold int
}

// TurnResult reports what a single turn did to the companion.
type TurnResult struct {
	// State is the post-turn state with level-ups fully resolved.
	State State

	// Award is the total XP granted this turn.
	Award int

	// Taught reports whether the teaching bonus applied.
	Taught bool

	// LevelUps is how many levels were gained this turn. A single large award
	// can cross several thresholds.
	LevelUps int
}

// Engine deterministically maps a completed user turn onto an experience
// delta and the resulting level/XP state. ApplyTurn is a pure function of its
// inputs: no randomness, no I/O. That purity is what makes the XP accounting
// properties testable.
type Engine struct {
	awards  Awards
	matcher Matcher
}

// NewEngine creates an experience Engine. matcher may be nil, in which case
// the bonus never applies. Returns an error for award values that would
// violate the state invariants (non-positive base threshold or negative
// awards).
func NewEngine(awards Awards, matcher Matcher) (*Engine, error) {
	if awards.BaseThreshold <= 0 {
		return nil, fmt.Errorf("experience: base threshold must be > 0, got %d", awards.BaseThreshold)
	}
	if awards.Base < 0 || awards.Bonus < 0 {
		return nil, fmt.Errorf("experience: awards must be >= 0, got base=%d bonus=%d", awards.Base, awards.Bonus)
	}
	return &Engine{awards: awards, matcher: matcher}, nil
}

// ThresholdFor returns the XP requirement at the given level under this
// engine's base threshold.
func (e *Engine) ThresholdFor(level int) int {
	return ThresholdFor(e.awards.BaseThreshold, level)
}

// ApplyTurn computes the state resulting from one completed user turn. The
// input state is not mutated. Level-up resolution loops, so an award crossing
// several thresholds yields several level-ups in one turn.
func (e *Engine) ApplyTurn(userContent string, current State) TurnResult {
	taught := e.matcher != nil && e.matcher.Match(userContent)

	award := e.awards.Base
	if taught {
		award += e.awards.Bonus
	}

	next := current.Clone()
	next.XP += award

	levelUps := 0
	for next.XP >= e.ThresholdFor(next.Level) {
		next.XP -= e.ThresholdFor(next.Level)
		next.Level++
		levelUps++
	}
	next.Threshold = e.ThresholdFor(next.Level)

	return TurnResult{
		State:    next,
		Award:    award,
		Taught:   taught,
		LevelUps: levelUps,
	}
}
