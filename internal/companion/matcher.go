package companion

import "strings"

// Matcher recognises teaching intent in a user message. It is a separate
// component so new trigger patterns can be added without touching the
// experience algorithm. Implementations must be deterministic: the same
// content always yields the same answer, since experience awards depend on it.
type Matcher interface {
	// Match reports whether content signals deliberate teaching.
	Match(content string) bool
}

// PrefixMatcher recognises teaching intent by case-insensitive literal
// prefixes (e.g. "teach:"). Leading whitespace in the message is ignored.
type PrefixMatcher struct {
	prefixes []string
}

// Compile-time interface check.
var _ Matcher = (*PrefixMatcher)(nil)

// NewPrefixMatcher creates a PrefixMatcher for the given prefixes. Empty
// prefixes are dropped; with no usable prefixes the matcher never matches.
func NewPrefixMatcher(prefixes ...string) *PrefixMatcher {
	m := &PrefixMatcher{}
	for _, p := range prefixes {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			m.prefixes = append(m.prefixes, p)
		}
	}
	return m
}

// Match implements Matcher.
func (m *PrefixMatcher) Match(content string) bool {
	c := strings.ToLower(strings.TrimSpace(content))
	for _, p := range m.prefixes {
		if strings.HasPrefix(c, p) {
			return true
		}
	}
	return false
}
