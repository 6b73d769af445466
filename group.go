package owdns

import (
	"fmt"
	"time"
)

// SelectionStrategy names one of the group selection strategies spec.md
// §4.4 requires gateways to support.
type SelectionStrategy string

const (
	StrategyRandom     SelectionStrategy = "random"
	StrategyRoundRobin SelectionStrategy = "round_robin"
)

// GroupOptions assembles a named upstream group from its resolver list,
// selection strategy, and per-group overrides. cmd/owdns-gatewayd builds one
// from each decoded "upstream.groups.<name>" entry before calling NewGroup.
type GroupOptions struct {
	Strategy SelectionStrategy

	// RandomOptions is only consulted when Strategy == StrategyRandom.
	RandomOptions RandomOptions

	DispatcherOptions
}

// NewGroup builds a Dispatcher over resolvers using the requested selection
// strategy. An empty Strategy defaults to random, per spec.md §4.4 ("if
// unspecified, random").
func NewGroup(id string, opt GroupOptions, resolvers ...Resolver) (*Dispatcher, error) {
	if len(resolvers) == 0 {
		return nil, newError(KindRoutingError, fmt.Sprintf("group %q has no resolvers configured", id))
	}

	var strategy groupStrategy
	switch opt.Strategy {
	case "", StrategyRandom:
		strategy = NewRandomStrategy(id, opt.RandomOptions, resolvers...)
	case StrategyRoundRobin:
		strategy = NewRoundRobinStrategy(id, resolvers...)
	default:
		return nil, newError(KindRoutingError, fmt.Sprintf("group %q: unknown selection strategy %q", id, opt.Strategy))
	}

	return NewDispatcher(id, strategy, opt.DispatcherOptions), nil
}

// defaultQueryTimeoutBudget is the group-level budget when the group sets no
// query_timeout, per spec.md §5's default timeout table. There is no
// gateway-wide query_timeout setting.
const defaultQueryTimeoutBudget = 30 * time.Second
