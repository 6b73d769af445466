package owdns

import (
	"sync"

	"github.com/miekg/dns"
)

// singleFlightResult is the shared outcome of one upstream attempt,
// published exactly once to every waiter subscribed before it started.
type singleFlightResult struct {
	answer *dns.Msg
	err    error
	done   chan struct{}
}

// singleFlightGroup ensures at most one in-flight upstream query per key
// across concurrent requests, per spec.md §4.6/§9: additional arrivals for
// the same key await the leader's outcome instead of dispatching their own
// query. Grounded on the teacher's request-dedup.go, re-keyed on (K, G)
// instead of name+type+ECS so two groups racing for the same question don't
// share a slot.
type singleFlightGroup struct {
	mu      sync.Mutex
	inflight map[string]*singleFlightResult
}

func newSingleFlightGroup() *singleFlightGroup {
	return &singleFlightGroup{inflight: make(map[string]*singleFlightResult)}
}

// do runs fn for key if no attempt is already in flight, otherwise waits
// for the in-flight attempt's result. leader reports whether this call
// actually ran fn (true) or piggy-backed on another call (false).
func (g *singleFlightGroup) do(key string, fn func() (*dns.Msg, error)) (answer *dns.Msg, err error, leader bool) {
	g.mu.Lock()
	if r, ok := g.inflight[key]; ok {
		g.mu.Unlock()
		<-r.done
		return copyMsg(r.answer), r.err, false
	}
	r := &singleFlightResult{done: make(chan struct{})}
	g.inflight[key] = r
	g.mu.Unlock()

	r.answer, r.err = fn()

	g.mu.Lock()
	delete(g.inflight, key)
	g.mu.Unlock()
	close(r.done)

	return copyMsg(r.answer), r.err, true
}

func copyMsg(m *dns.Msg) *dns.Msg {
	if m == nil {
		return nil
	}
	return m.Copy()
}
