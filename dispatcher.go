package owdns

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// maxAnswerSections caps the combined answer/authority/additional record
// count spec.md §4.6's validation allows through, rejecting grossly
// oversized or malformed upstream responses before they reach the cache or
// the client.
const maxAnswerSections = 512

// validateAnswer implements spec.md §4.6: the answer must echo the single
// question asked (name, type, class) and carry a sane number of records.
// For UDP, TCP and DoT, wire-format ID matching happens earlier, when the
// transport reads the response off the connection; the DoH transport does
// not compare IDs. Here only the question-echo and section-count checks run.
func validateAnswer(q, a *dns.Msg) bool {
	if a == nil || len(a.Question) != 1 || len(q.Question) != 1 {
		return false
	}
	aq, qq := a.Question[0], q.Question[0]
	if !strings.EqualFold(aq.Name, qq.Name) || aq.Qtype != qq.Qtype || aq.Qclass != qq.Qclass {
		return false
	}
	if len(a.Answer)+len(a.Ns)+len(a.Extra) > maxAnswerSections {
		return false
	}
	return true
}

// invalidAnswerError marks a resolver attempt that returned a syntactically
// fine but semantically bogus answer, so the dispatcher's final fallback can
// tell that case apart from a plain transport failure.
type invalidAnswerError struct {
	resolver string
}

func (e invalidAnswerError) Error() string {
	return fmt.Sprintf("resolver %q returned an invalid answer", e.resolver)
}

// DispatcherOptions are a group's per-group settings, per spec.md §3's
// Upstream Group definition.
type DispatcherOptions struct {
	// EnableDNSSEC sets the outgoing DO bit and preserves the response's AD
	// bit. Only the group's own setting is consulted; there is no
	// gateway-wide DNSSEC default.
	EnableDNSSEC bool

	// QueryTimeout bounds the *total* time spent on this group, including
	// every resolver attempted within budget (spec.md §4.4).
	QueryTimeout time.Duration

	// ECSPolicy is this group's ECS transformation, applied as given; the
	// zero value is ECSStrip. The Dispatcher has no notion of a global
	// policy: cmd/owdns-gatewayd passes the global ecs-policy for a group
	// that configures none.
	ECSPolicy ECSPolicy
}

// Dispatcher is a named upstream group: it selects a resolver via its
// strategy, applies the group's ECS policy and DNSSEC setting, and retries
// the next resolver in rotation if one fails or times out, within a single
// shared budget (spec.md §4.4).
type Dispatcher struct {
	id       string
	strategy groupStrategy
	opt      DispatcherOptions
	metrics  *GroupMetrics
}

var _ Resolver = &Dispatcher{}

// NewDispatcher wraps strategy as a named upstream group resolver.
func NewDispatcher(id string, strategy groupStrategy, opt DispatcherOptions) *Dispatcher {
	return &Dispatcher{
		id:       id,
		strategy: strategy,
		opt:      opt,
		metrics:  NewGroupMetrics(id, strategy.len(), strategy.kind()),
	}
}

// Resolve implements spec.md §4.4: ECS transform, optional DO bit, then
// attempt resolvers from the strategy until one succeeds or the group's
// query_timeout budget is exhausted.
func (d *Dispatcher) Resolve(q *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
	if d.strategy.len() == 0 {
		return servfail(q), newError(KindUpstreamFailure, fmt.Sprintf("group %q has no resolvers", d.id))
	}

	q = q.Copy()
	sentECS := d.opt.ECSPolicy.Apply(q, ci)
	if d.opt.EnableDNSSEC {
		setDNSSECOK(q)
	}

	budget := d.opt.QueryTimeout
	if budget <= 0 {
		budget = defaultQueryTimeoutBudget
	}
	deadline := time.Now().Add(budget)

	log := logger(d.id, q, ci)
	var lastErr error
	for attempt := 0; attempt < d.strategy.len(); attempt++ {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		resolver, ok := d.strategy.pick()
		if !ok {
			break
		}

		d.metrics.route.Add(resolver.String(), 1)
		a, err := d.attempt(resolver, q, ci, remaining)
		if err == nil && !validateAnswer(q, a) {
			err = invalidAnswerError{resolver: resolver.String()}
		}
		if err == nil {
			if !sentECS {
				// No ECS went out, so any scope on the answer is meaningless.
				stripECS(a)
			}
			return a, nil
		}

		log.WithField("resolver", resolver.String()).WithError(err).Debug("resolver attempt failed")
		d.metrics.failure.Add(resolver.String(), 1)
		d.strategy.deactivate(resolver)
		lastErr = err
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no resolver available within budget")
	}

	// Per spec.md §7's upstreamRefused handling, a resolver that responded
	// with garbage makes the fallback answer REFUSED; every other exhaustion
	// reason (timeouts, dial failures, no resolvers active) makes it
	// SERVFAIL. The fallback comes with a KindUpstreamFailure error, and the
	// Cache does not store answers that come with an error.
	fallback := servfail(q)
	var invalid invalidAnswerError
	if errors.As(lastErr, &invalid) {
		fallback = refused(q)
	}
	return fallback, wrapError(KindUpstreamFailure, lastErr, fmt.Sprintf("group %q: all resolvers failed", d.id))
}

// attempt runs one resolver call bounded by remaining, abandoning it (but
// not blocking on it) if it overruns: the goroutine is left to finish and
// is simply ignored, matching spec.md §5's "abandoned rather than
// blocking" cancellation semantics for a dispatcher that doesn't thread a
// context through the Resolver interface.
func (d *Dispatcher) attempt(resolver Resolver, q *dns.Msg, ci ClientInfo, remaining time.Duration) (*dns.Msg, error) {
	type result struct {
		a   *dns.Msg
		err error
	}
	ch := make(chan result, 1)
	go func() {
		a, err := resolver.Resolve(q, ci)
		ch <- result{a, err}
	}()

	select {
	case r := <-ch:
		return r.a, r.err
	case <-time.After(remaining):
		return nil, QueryTimeoutError{q}
	}
}

func (d *Dispatcher) String() string { return d.id }

// setDNSSECOK sets the EDNS0 DO bit on an outgoing query. The response's AD
// bit, as set by the upstream resolver, is returned to the caller
// unmodified: spec.md §4.4 requires it be "preserved", and since the
// dispatcher never rewrites the answer it already is.
func setDNSSECOK(q *dns.Msg) {
	opt := q.IsEdns0()
	if opt == nil {
		q.SetEdns0(4096, true)
		return
	}
	opt.SetDo()
}
