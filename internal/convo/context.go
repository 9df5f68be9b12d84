// Package convo maintains the companion's conversational transcript and
// renders token-bounded prompts for the generation engine.
//
// The Context tracks estimated token usage with the same 4-characters-per-
// token heuristic the rest of the system uses. When the rendered prompt would
// exceed the configured budget, the oldest messages are dropped whole — the
// persona preamble and the most recent message are never dropped, and a
// message is never split.
package convo

import (
	"fmt"
	"strings"
	"sync"

	"github.com/oakmund/sprout/internal/companion"
)

// charsPerToken is the heuristic ratio used for token estimation. English
// text averages roughly 4 characters per token across common LLM tokenizers.
// This avoids pulling in a tokenizer dependency; the exact tokenizer belongs
// to the engine backend.
const charsPerToken = 4

// EstimatorFunc estimates the token count of a rendered text fragment. It
// must be deterministic: truncation decisions depend on it and must be
// reproducible across runs.
type EstimatorFunc func(text string) int

// DefaultEstimator is the chars/4 heuristic. Non-empty text estimates to at
// least one token.
func DefaultEstimator(text string) int {
	tokens := len(text) / charsPerToken
	if tokens == 0 && len(text) > 0 {
		tokens = 1
	}
	return tokens
}

// Config configures a Context.
type Config struct {
	// Preamble is the persona text prefixed to every prompt. It is never
	// truncated.
	Preamble string

	// TokenBudget is the engine's context window size in estimated tokens
	// (e.g., 4096). Must be positive.
	TokenBudget int

	// Estimator estimates token counts. Nil selects DefaultEstimator.
	Estimator EstimatorFunc
}

// Context owns the ordered transcript and produces budgeted prompts.
// All methods are safe for concurrent use, though the orchestrator drives
// turns strictly sequentially.
type Context struct {
	preamble string
	budget   int
	estimate EstimatorFunc

	mu      sync.Mutex
	msgs    []companion.Message
	nextSeq int
}

// New creates a Context. Returns an error when the token budget is not
// positive or the preamble alone exceeds it.
func New(cfg Config) (*Context, error) {
	if cfg.TokenBudget <= 0 {
		return nil, fmt.Errorf("convo: token budget must be > 0, got %d", cfg.TokenBudget)
	}
	est := cfg.Estimator
	if est == nil {
		est = DefaultEstimator
	}
	if est(cfg.Preamble) >= cfg.TokenBudget {
		return nil, fmt.Errorf("convo: preamble alone exceeds token budget %d", cfg.TokenBudget)
	}
	return &Context{
		preamble: cfg.Preamble,
		budget:   cfg.TokenBudget,
		estimate: est,
	}, nil
}

// Load adopts a persisted transcript, replacing any current content. The next
// sequence index continues after the highest loaded index.
func (c *Context) Load(transcript []companion.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.msgs = make([]companion.Message, len(transcript))
	copy(c.msgs, transcript)

	c.nextSeq = 0
	for _, m := range c.msgs {
		if m.Seq >= c.nextSeq {
			c.nextSeq = m.Seq + 1
		}
	}
}

// Append adds a message to the transcript, assigning the next sequence index,
// and returns the stored message. Appended messages are immutable.
func (c *Context) Append(role companion.Role, content string) companion.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := companion.Message{Role: role, Content: content, Seq: c.nextSeq}
	c.nextSeq++
	c.msgs = append(c.msgs, m)
	return m
}

// Messages returns a copy of the current transcript, ready for persistence.
func (c *Context) Messages() []companion.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]companion.Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

// Snapshot captures the transcript and sequence counter so a staged turn can
// be rolled back without observable effect.
type Snapshot struct {
	msgs    []companion.Message
	nextSeq int
}

// Snapshot returns the current transcript state.
func (c *Context) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := make([]companion.Message, len(c.msgs))
	copy(msgs, c.msgs)
	return Snapshot{msgs: msgs, nextSeq: c.nextSeq}
}

// Restore rewinds the transcript to a previously captured Snapshot.
func (c *Context) Restore(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.msgs = make([]companion.Message, len(s.msgs))
	copy(c.msgs, s.msgs)
	c.nextSeq = s.nextSeq
}

// Reset clears the transcript and sequence counter.
func (c *Context) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = nil
	c.nextSeq = 0
}

// RenderPrompt concatenates the preamble and transcript into a single prompt
// ending with a companion cue line. If the estimate exceeds the token budget,
// the oldest messages are dropped whole until it fits; the preamble and the
// most recent message are always included.
func (c *Context) RenderPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := 0
	for start < len(c.msgs)-1 {
		if c.estimateLocked(c.msgs[start:]) <= c.budget {
			break
		}
		start++
	}

	return c.renderLocked(c.msgs[start:])
}

// TokenEstimate returns the estimated token count of the full (untruncated)
// rendered prompt.
func (c *Context) TokenEstimate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.estimateLocked(c.msgs)
}

// estimateLocked estimates the rendered size of the preamble plus msgs.
// Must be called with c.mu held.
func (c *Context) estimateLocked(msgs []companion.Message) int {
	return c.estimate(c.renderLocked(msgs))
}

// renderLocked renders the preamble plus msgs in transcript order.
// Must be called with c.mu held.
func (c *Context) renderLocked(msgs []companion.Message) string {
	var b strings.Builder
	if c.preamble != "" {
		b.WriteString(c.preamble)
		b.WriteString("\n\n")
	}
	for _, m := range msgs {
		b.WriteString(displayRole(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	b.WriteString(displayRole(companion.RoleCompanion))
	b.WriteByte(':')
	return b.String()
}

// displayRole maps a role onto its prompt label.
func displayRole(r companion.Role) string {
	switch r {
	case companion.RoleUser:
		return "Keeper"
	case companion.RoleCompanion:
		return "Companion"
	default:
		return "System"
	}
}
