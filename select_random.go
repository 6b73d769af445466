package owdns

import (
	"math/rand"
	"sync"
	"time"
)

// groupStrategy selects resolvers from a named pool for the dispatcher. It
// does not itself retry or apply timeouts; the dispatcher owns the
// per-query budget and next-resolver-within-budget fallback of spec.md
// §4.4.
type groupStrategy interface {
	// pick returns the next resolver to try, or false if none are active.
	pick() (Resolver, bool)
	// deactivate marks a resolver as having failed, per the strategy's own
	// policy (random temporarily removes it; round-robin ignores this).
	deactivate(r Resolver)
	len() int
	// kind names the strategy for the group's "strategy" metric ("random",
	// "round_robin").
	kind() string
	String() string
}

// randomStrategy picks uniformly among the currently active resolvers in a
// group and temporarily deactivates one that fails, reactivating it after
// ResetAfter. This is SPEC_FULL.md §12's resolver health deactivation,
// grounded on the teacher's random.go.
type randomStrategy struct {
	id         string
	all        []Resolver
	mu         sync.RWMutex
	active     []Resolver
	resetAfter time.Duration
	metrics    *GroupMetrics
	rnd        *rand.Rand
}

var _ groupStrategy = &randomStrategy{}

// RandomOptions configures the random selection strategy.
type RandomOptions struct {
	// ResetAfter is how long a deactivated resolver stays out of rotation.
	// Defaults to one minute.
	ResetAfter time.Duration
}

// NewRandomStrategy returns a random selection strategy over resolvers.
func NewRandomStrategy(id string, opt RandomOptions, resolvers ...Resolver) groupStrategy {
	if opt.ResetAfter <= 0 {
		opt.ResetAfter = time.Minute
	}
	active := make([]Resolver, len(resolvers))
	copy(active, resolvers)
	return &randomStrategy{
		id:         id,
		all:        resolvers,
		active:     active,
		resetAfter: opt.ResetAfter,
		metrics:    NewGroupMetrics(id, len(resolvers), "random"),
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *randomStrategy) pick() (Resolver, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.active)
	s.metrics.available.Set(int64(n))
	if n == 0 {
		return nil, false
	}
	return s.active[s.rnd.Intn(n)], true
}

func (s *randomStrategy) deactivate(bad Resolver) {
	s.mu.Lock()
	filtered := s.active[:0:0]
	removed := false
	for _, r := range s.active {
		if r == bad {
			removed = true
			continue
		}
		filtered = append(filtered, r)
	}
	s.active = filtered
	s.mu.Unlock()
	if !removed {
		return
	}
	s.metrics.failover.Add(1)
	s.metrics.available.Set(int64(len(filtered)))
	go s.reactivateLater(bad)
}

func (s *randomStrategy) reactivateLater(r Resolver) {
	time.Sleep(s.resetAfter)
	s.mu.Lock()
	s.active = append(s.active, r)
	n := len(s.active)
	s.mu.Unlock()
	s.metrics.available.Set(int64(n))
}

func (s *randomStrategy) len() int { return len(s.all) }

func (s *randomStrategy) kind() string { return "random" }

func (s *randomStrategy) String() string { return s.id }
