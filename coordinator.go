package owdns

import (
	"fmt"
	"net"
	"strconv"

	"github.com/miekg/dns"
)

// Coordinator orchestrates the full query pipeline: it resolves the target
// upstream group for single-flight keying, then lets the already-wired
// cache/router/dispatcher chain do the actual lookup-or-dispatch, per
// spec.md §4.6. Normalisation (§4.1) and re-serialisation (§4.7) are the
// HTTP surface's job, upstream and downstream of the Coordinator
// respectively; the Coordinator's input and output are both canonical
// internal messages.
type Coordinator struct {
	id     string
	router *Router
	cache  *Cache
	ecs    ECSPolicy
	sf     *singleFlightGroup
}

var _ Resolver = &Coordinator{}

// NewCoordinator returns a Coordinator. cache must already wrap router (the
// usual chain is Coordinator -> Cache -> Router -> upstream groups); router
// is also given directly so the Coordinator can compute the target group
// for single-flight keying without performing a second full resolve.
func NewCoordinator(id string, cache *Cache, router *Router, globalECSPolicy ECSPolicy) *Coordinator {
	return &Coordinator{
		id:     id,
		router: router,
		cache:  cache,
		ecs:    globalECSPolicy,
		sf:     newSingleFlightGroup(),
	}
}

// Resolve implements spec.md §4.6's single-flight contract: at most one
// in-flight cache-or-dispatch call per (K, G) tuple across concurrent
// callers. Additional arrivals for the same tuple await the leader's result
// and share it; the slot is released the instant the result is published,
// before this call returns.
func (c *Coordinator) Resolve(q *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
	if len(q.Question) != 1 {
		return nil, newError(KindBadRequest, "query must contain exactly one question")
	}

	group := c.router.Route(q.Question[0].Name)
	key := singleFlightKey(q.Question[0], ci, group, c.ecs)

	requestID := q.Id
	answer, err, leader := c.sf.do(key, func() (*dns.Msg, error) {
		return c.cache.Resolve(q, ci)
	})
	if err != nil {
		return nil, err
	}
	if answer != nil {
		answer.Id = requestID
	}
	if !leader {
		logger(c.id, q, ci).WithField("group", group).Debug("single-flight: shared result with in-flight request")
	}
	return answer, nil
}

func (c *Coordinator) String() string { return c.id }

// singleFlightKey builds the (K, G) dedup key for q: the question plus the
// client's address masked to the prefix length the group's effective ECS
// policy would use, so two requests that would receive the same upstream
// query share a slot, and two that wouldn't (different ECS scope, different
// group) don't.
func singleFlightKey(question dns.Question, ci ClientInfo, group string, policy ECSPolicy) string {
	scope := ""
	if ci.SourceIP != nil {
		if prefix, ok := dedupPrefix(ci.SourceIP, policy); ok {
			bits := 32
			addr := ci.SourceIP.To4()
			if addr == nil {
				addr, bits = ci.SourceIP.To16(), 128
			}
			masked := addr.Mask(net.CIDRMask(int(prefix), bits))
			scope = masked.String() + "/" + strconv.Itoa(int(prefix))
		}
	}
	return fmt.Sprintf("%s|%d|%d|%s|%s", question.Name, question.Qtype, question.Qclass, group, scope)
}

// dedupPrefix returns the mask length policy would apply to ip, or false if
// the strip policy means the client's address plays no role in the
// resulting upstream query at all.
func dedupPrefix(ip net.IP, policy ECSPolicy) (uint8, bool) {
	switch policy.Kind {
	case ECSStrip:
		return 0, false
	case ECSAnonymize:
		if ip.To4() != nil {
			return policy.ipv4Prefix(), true
		}
		return policy.ipv6Prefix(), true
	default: // ECSForward
		return fullPrefix(ip), true
	}
}
