package owdns

import (
	"fmt"
	"os"
)

// FileMatcher loads routing rule patterns from a local file once at
// construction. A rule whose file fails to parse at startup is rejected
// (spec.md §4.3); reloading happens only via an explicit call to Reload.
type FileMatcher struct {
	path string
	list *compiledList
}

var _ Matcher = &FileMatcher{}

func NewFileMatcher(path string) (*FileMatcher, error) {
	m := &FileMatcher{path: path}
	if err := m.Reload(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *FileMatcher) Match(name string) bool {
	return m.list.Match(name)
}

// Reload re-reads the source file and swaps the compiled list. Individual
// malformed lines are logged and skipped rather than failing the reload.
func (m *FileMatcher) Reload() error {
	f, err := os.Open(m.path)
	if err != nil {
		return wrapError(KindRoutingError, err, "open matcher file")
	}
	defer f.Close()

	list, badLines, err := parseListLines(f)
	if err != nil {
		return wrapError(KindRoutingError, err, "parse matcher file")
	}
	for _, bad := range badLines {
		Log.WithField("file", m.path).Warn(fmt.Sprintf("skipping malformed line: %s", bad))
	}
	m.list = list
	return nil
}
