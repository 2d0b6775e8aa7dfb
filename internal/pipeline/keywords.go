package pipeline

import "strings"

// DefaultWatchKeywords is the prefilter applied at the adapter edge: a
// candidate is only worth ingesting when its title or body mentions one of
// these terms. Kept lowercase; matching is case-insensitive.
var DefaultWatchKeywords = []string{
	"data center", "datacenter", "eagle harbor", "chalk point",
	"qualified data center", "cr-98-2025", "executive order 42-2025",
	"landover mall", "zoning", "ar zone", "re zone",
	"mncppc", "planning board", "legislative amendment",
	"prince george", "charles county",
	"moratorium", "special exception", "zoning text amendment",
	"task force", "environmental justice", "pepco", "grid capacity",
	"megawatt", "cooling water", "patuxent river",
}

// KeywordMatcher answers whether a blob of text mentions any watched term.
type KeywordMatcher struct {
	terms []string
}

// NewKeywordMatcher lowercases and stores the given terms. An empty list
// falls back to DefaultWatchKeywords.
func NewKeywordMatcher(terms []string) *KeywordMatcher {
	if len(terms) == 0 {
		terms = DefaultWatchKeywords
	}
	lowered := make([]string, len(terms))
	for i, t := range terms {
		lowered[i] = strings.ToLower(t)
	}
	return &KeywordMatcher{terms: lowered}
}

// Match reports whether text contains any watched term, case-insensitively.
func (m *KeywordMatcher) Match(text string) bool {
	lowered := strings.ToLower(text)
	for _, term := range m.terms {
		if strings.Contains(lowered, term) {
			return true
		}
	}
	return false
}
