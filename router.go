package owdns

import (
	"expvar"
	"fmt"
	"sync/atomic"

	"github.com/miekg/dns"
)

// routingTable is the immutable, pointer-swapped snapshot a Router reads
// from. A request either sees the old table in full or the new one in
// full, never a mixture (spec.md §5).
type routingTable struct {
	rules        []*routingRule
	defaultGroup string
}

// Router dispatches a query to one of several named upstream groups based
// on an ordered table of name matchers. It implements the Resolver
// interface, with the reserved "global upstream" fallback and the built-in
// __blackhole__ group always present.
type Router struct {
	id      string
	table   atomic.Pointer[routingTable]
	groups  map[string]Resolver
	metrics *RouterMetrics
}

var _ Resolver = &Router{}

type RouterMetrics struct {
	route     *expvar.Map
	failure   *expvar.Map
	available *expvar.Int
}

func NewRouterMetrics(id string, available int) *RouterMetrics {
	avail := getVarInt("router", id, "available")
	avail.Set(int64(available))
	return &RouterMetrics{
		route:     getVarMap("router", id, "route"),
		failure:   getVarMap("router", id, "failure"),
		available: avail,
	}
}

// NewRouter returns a router with an empty routing table and the built-in
// blackhole group registered. Upstream groups are registered with
// AddGroup, and the table is installed with SetTable.
func NewRouter(id string) *Router {
	r := &Router{
		id:      id,
		groups:  make(map[string]Resolver),
		metrics: NewRouterMetrics(id, 0),
	}
	r.groups[blackholeGroup] = NewBlackholeResolver(blackholeGroup)
	r.table.Store(&routingTable{})
	return r
}

// AddGroup registers a named upstream group resolver that routing rules
// and default_group may target.
func (r *Router) AddGroup(name string, resolver Resolver) {
	r.groups[name] = resolver
	r.metrics.available.Add(1)
}

// SetTable atomically installs a new ordered rule table and default group,
// replacing any previous one in its entirety.
func (r *Router) SetTable(rules []*routingRule, defaultGroup string) {
	r.table.Store(&routingTable{rules: rules, defaultGroup: defaultGroup})
}

// Route returns the target group name a query for n would be dispatched
// to, without performing any upstream I/O. Exposed so the Query Coordinator
// can key its single-flight dedup on (K, G) before actually dispatching
// (spec.md §4.6).
func (r *Router) Route(n string) string {
	table := r.table.Load()
	target := table.defaultGroup
	if target == "" {
		target = "global upstream"
	}
	for _, rule := range table.rules {
		if rule.match(n) {
			return rule.targetGroup
		}
	}
	return target
}

// Resolve routes a request by testing the current table's rules in order
// and dispatching to the first matching group, falling back to
// default_group, then to "global upstream".
func (r *Router) Resolve(q *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
	if len(q.Question) < 1 {
		return nil, newError(KindBadRequest, "no question in query")
	}
	question := q.Question[0]
	log := logger(r.id, q, ci)

	target := r.Route(question.Name)

	resolver, ok := r.groups[target]
	if !ok {
		return nil, newError(KindRoutingError, fmt.Sprintf("no route for %s: unknown group %q", question.String(), target))
	}

	log.WithField("group", target).Debug("routing query to upstream group")
	r.metrics.route.Add(target, 1)
	a, err := resolver.Resolve(q, ci)
	if err != nil {
		r.metrics.failure.Add(target, 1)
	}
	return a, err
}

func (r *Router) String() string {
	return r.id
}
