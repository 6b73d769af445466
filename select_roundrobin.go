package owdns

import "sync"

// roundRobinStrategy cycles through a group's resolvers in order, giving
// each an equal share of queries. There's no session affinity and a failed
// resolver isn't removed from rotation (spec.md §4.4: "no session
// affinity"); the dispatcher's next-resolver-within-budget retry is what
// moves past a failure.
type roundRobinStrategy struct {
	id        string
	resolvers []Resolver
	mu        sync.Mutex
	next      int
	metrics   *GroupMetrics
}

var _ groupStrategy = &roundRobinStrategy{}

// NewRoundRobinStrategy returns a round-robin selection strategy over
// resolvers.
func NewRoundRobinStrategy(id string, resolvers ...Resolver) groupStrategy {
	return &roundRobinStrategy{
		id:        id,
		resolvers: resolvers,
		metrics:   NewGroupMetrics(id, len(resolvers), "round_robin"),
	}
}

func (s *roundRobinStrategy) pick() (Resolver, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.resolvers) == 0 {
		return nil, false
	}
	r := s.resolvers[s.next]
	s.next = (s.next + 1) % len(s.resolvers)
	return r, true
}

func (s *roundRobinStrategy) deactivate(Resolver) {
	// Round-robin has no concept of temporary removal: every resolver
	// stays in rotation regardless of recent failures.
}

func (s *roundRobinStrategy) len() int { return len(s.resolvers) }

func (s *roundRobinStrategy) kind() string { return "round_robin" }

func (s *roundRobinStrategy) String() string { return s.id }
