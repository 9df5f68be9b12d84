// Package companion defines the companion's durable state and the experience
// engine that evolves it. The types here are the lingua franca between the
// conversation context, the turn orchestrator, and the persistence layer.
package companion

import "fmt"

// Role identifies the author of a transcript message.
type Role string

const (
	// RoleSystem marks persona or bookkeeping messages.
	RoleSystem Role = "system"

	// RoleUser marks messages typed by the keeper.
	RoleUser Role = "user"

	// RoleCompanion marks messages generated by the companion.
	RoleCompanion Role = "companion"
)

// IsValid reports whether r is a recognised role.
func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleCompanion:
		return true
	}
	return false
}

// Message is a single transcript entry. Messages are immutable once appended;
// Seq is assigned by the conversation context and is strictly increasing
// within a transcript.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Seq     int    `json:"seq"`
}

// State is the companion's complete durable state. It is treated as a value:
// the orchestrator derives a new State per turn and swaps it in only once the
// turn commits, so a failed turn leaves the previous value untouched.
//
// Invariants: Level ≥ 1, 0 ≤ XP < Threshold, Threshold = baseThreshold × Level.
// Level only ever increases.
type State struct {
	Level      int       `json:"level"`
	XP         int       `json:"xp"`
	Threshold  int       `json:"xp_threshold"`
	Transcript []Message `json:"transcript"`
}

// NewState returns the freshly-hatched companion: level 1, no experience,
// empty transcript. baseThreshold must be positive.
func NewState(baseThreshold int) State {
	return State{
		Level:     1,
		XP:        0,
		Threshold: ThresholdFor(baseThreshold, 1),
	}
}

// ThresholdFor returns the XP required to advance from level. The threshold
// scales linearly, so it is strictly increasing in level.
func ThresholdFor(baseThreshold, level int) int {
	return baseThreshold * level
}

// Clone returns a deep copy of s. The transcript slice is copied so that
// appends on the clone never alias the original.
func (s State) Clone() State {
	out := s
	if s.Transcript != nil {
		out.Transcript = make([]Message, len(s.Transcript))
		copy(out.Transcript, s.Transcript)
	}
	return out
}

// Validate checks the state invariants. Used by the persistence layer to
// reject corrupt records before they reach the running state.
func (s State) Validate() error {
	if s.Level < 1 {
		return fmt.Errorf("companion state: level %d < 1", s.Level)
	}
	if s.XP < 0 {
		return fmt.Errorf("companion state: xp %d < 0", s.XP)
	}
	if s.Threshold <= 0 {
		return fmt.Errorf("companion state: xp_threshold %d <= 0", s.Threshold)
	}
	if s.XP >= s.Threshold {
		return fmt.Errorf("companion state: xp %d >= threshold %d (unresolved level-up)", s.XP, s.Threshold)
	}
	prev := -1
	for i, m := range s.Transcript {
		if !m.Role.IsValid() {
			return fmt.Errorf("companion state: transcript[%d] has invalid role %q", i, m.Role)
		}
		if m.Seq <= prev {
			return fmt.Errorf("companion state: transcript[%d] seq %d not increasing (prev %d)", i, m.Seq, prev)
		}
		prev = m.Seq
	}
	return nil
}
