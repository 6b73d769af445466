package owdns

import "strings"

// exactMatcher tests for membership in a fixed set of absolute, lowercase
// domain names. Used both as a standalone route matcher and as the first
// stage of a compiledList.
type exactMatcher struct {
	names map[string]struct{}
}

var _ Matcher = &exactMatcher{}

func newExactMatcher(names []string) *exactMatcher {
	m := &exactMatcher{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		m.names[strings.ToLower(dnsCanonical(n))] = struct{}{}
	}
	return m
}

// NewExactMatcher builds a Matcher that tests for membership in a fixed set
// of domain names, for use by routing rules built directly from config
// rather than from a domain-list file.
func NewExactMatcher(names []string) Matcher {
	return newExactMatcher(names)
}

func (m *exactMatcher) Match(name string) bool {
	if m == nil {
		return false
	}
	_, ok := m.names[strings.ToLower(name)]
	return ok
}
