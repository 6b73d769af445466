package owdns

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Matcher tests a canonical query name against a compiled set of patterns.
// File and URL matchers additionally support being rebuilt from a new source
// without disturbing readers mid-match (see matcher_url.go).
type Matcher interface {
	Match(name string) bool
}

// compiledList is the shared representation behind the File and URL
// matchers: an exact set, a wildcard list, and a regex list, tested in that
// order per spec.md §4.3/§9's explicit precedence mandate.
type compiledList struct {
	exact    *exactMatcher
	wildcard *wildcardMatcher
	regexp   *regexpMatcher
}

var _ Matcher = &compiledList{}

func (c *compiledList) Match(name string) bool {
	if c.exact != nil && c.exact.Match(name) {
		return true
	}
	if c.wildcard != nil && c.wildcard.Match(name) {
		return true
	}
	if c.regexp != nil && c.regexp.Match(name) {
		return true
	}
	return false
}

// parseListLines parses the domain list file grammar from spec.md §6: UTF-8,
// one entry per line, "#" to end of line is a comment, blank lines ignored,
// a bare line is an exact absolute domain, and lines prefixed "regex:" or
// "wildcard:" bind their payload to the respective matcher. Malformed lines
// are reported via badLines and skipped rather than failing the whole parse.
func parseListLines(r io.Reader) (*compiledList, []string, error) {
	var (
		exact    []string
		wildcard []string
		regexes  []string
		badLines []string
	)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "regex:"):
			pattern := strings.TrimPrefix(line, "regex:")
			if _, err := regexp.Compile(pattern); err != nil {
				badLines = append(badLines, fmt.Sprintf("line %d: bad regex %q: %s", lineNo, pattern, err))
				continue
			}
			regexes = append(regexes, pattern)
		case strings.HasPrefix(line, "wildcard:"):
			wildcard = append(wildcard, strings.TrimPrefix(line, "wildcard:"))
		default:
			exact = append(exact, strings.ToLower(dnsCanonical(line)))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, badLines, err
	}

	re, err := newRegexpMatcher(regexes)
	if err != nil {
		return nil, badLines, err
	}
	return &compiledList{
		exact:    newExactMatcher(exact),
		wildcard: newWildcardMatcher(wildcard),
		regexp:   re,
	}, badLines, nil
}

// dnsCanonical ensures the name ends in a trailing dot, the absolute form
// used throughout the cache and matchers.
func dnsCanonical(name string) string {
	if name == "" || strings.HasSuffix(name, ".") {
		return name
	}
	return name + "."
}
