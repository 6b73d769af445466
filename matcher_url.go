package owdns

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// URLMatcherOptions configures a URLMatcher.
type URLMatcherOptions struct {
	// RefreshSecs is how often the URL is re-fetched. 0 disables periodic
	// refresh; only the initial load at construction happens.
	RefreshSecs int

	// AllowFailure is not consulted: a failed refresh always keeps the last
	// successfully-loaded list in place, and a failed initial load always
	// fails NewURLMatcher.
	AllowFailure bool

	// Client is used for fetches. If nil, http.DefaultClient is used.
	Client *http.Client
}

// URLMatcher periodically re-fetches a domain list over HTTP(S) and
// atomically swaps in the recompiled matcher. A hash of the previous body
// is kept so an unchanged list is not needlessly recompiled.
type URLMatcher struct {
	url  string
	opt  URLMatcherOptions
	mu   sync.RWMutex
	list *compiledList
	hash uint64
}

var _ Matcher = &URLMatcher{}

func NewURLMatcher(url string, opt URLMatcherOptions) (*URLMatcher, error) {
	if opt.Client == nil {
		opt.Client = http.DefaultClient
	}
	m := &URLMatcher{url: url, opt: opt}
	if err := m.refresh(); err != nil {
		return nil, wrapError(KindRoutingError, err, "initial matcher url fetch")
	}
	if opt.RefreshSecs > 0 {
		go m.refreshLoop()
	}
	return m, nil
}

func (m *URLMatcher) Match(name string) bool {
	m.mu.RLock()
	list := m.list
	m.mu.RUnlock()
	return list.Match(name)
}

func (m *URLMatcher) refreshLoop() {
	interval := time.Duration(m.opt.RefreshSecs) * time.Second
	for {
		time.Sleep(interval)
		if err := m.refresh(); err != nil {
			Log.WithField("url", m.url).WithError(err).Warn("matcher url refresh failed, keeping previous ruleset")
		}
	}
}

func (m *URLMatcher) refresh() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
	if err != nil {
		return err
	}
	resp, err := m.opt.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, m.url)
	}

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	newHash := xxhash.Sum64(buf)

	m.mu.RLock()
	unchanged := m.list != nil && newHash == m.hash
	m.mu.RUnlock()
	if unchanged {
		return nil
	}

	list, badLines, err := parseListLines(bytes.NewReader(buf))
	if err != nil {
		return err
	}
	for _, bad := range badLines {
		Log.WithField("url", m.url).Warn(fmt.Sprintf("skipping malformed line: %s", bad))
	}

	m.mu.Lock()
	m.list = list
	m.hash = newHash
	m.mu.Unlock()
	return nil
}
