package owdns

import "regexp"

// regexpMatcher tests a name against an ordered list of compiled regular
// expressions, matching if any one of them matches.
type regexpMatcher struct {
	exprs []*regexp.Regexp
}

var _ Matcher = &regexpMatcher{}

func newRegexpMatcher(patterns []string) (*regexpMatcher, error) {
	m := &regexpMatcher{}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		m.exprs = append(m.exprs, re)
	}
	return m, nil
}

// NewRegexpMatcher builds a Matcher from a set of regular expressions, for
// use by routing rules built directly from config rather than from a
// domain-list file.
func NewRegexpMatcher(patterns []string) (Matcher, error) {
	return newRegexpMatcher(patterns)
}

func (m *regexpMatcher) Match(name string) bool {
	if m == nil {
		return false
	}
	for _, re := range m.exprs {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}
