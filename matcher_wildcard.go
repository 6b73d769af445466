package owdns

import "strings"

// wildcardMatcher matches a name against a set of suffixes written as
// "*.example.com." in config. A pattern matches its bare base domain as
// well as any subdomain, i.e. "*.example.com." matches both "example.com."
// and "www.example.com." but not "notexample.com.".
type wildcardMatcher struct {
	suffixes []string
}

var _ Matcher = &wildcardMatcher{}

func newWildcardMatcher(patterns []string) *wildcardMatcher {
	m := &wildcardMatcher{}
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimPrefix(p, "*."))
		m.suffixes = append(m.suffixes, dnsCanonical(p))
	}
	return m
}

// NewWildcardMatcher builds a Matcher from a set of "*.example.com."-style
// patterns, for use by routing rules built directly from config rather than
// from a domain-list file.
func NewWildcardMatcher(patterns []string) Matcher {
	return newWildcardMatcher(patterns)
}

func (m *wildcardMatcher) Match(name string) bool {
	if m == nil {
		return false
	}
	name = strings.ToLower(name)
	for _, suffix := range m.suffixes {
		if name == suffix || strings.HasSuffix(name, "."+suffix) {
			return true
		}
	}
	return false
}
