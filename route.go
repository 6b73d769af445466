package owdns

import (
	"errors"
	"fmt"
)

// blackholeGroup is the reserved target-group name that short-circuits
// dispatch entirely and synthesizes an NXDOMAIN without any upstream I/O.
const blackholeGroup = "__blackhole__"

// BlackholeGroup is the exported name of the reserved blackhole target
// group, for config loaders outside this package that need to recognize it
// as always-present and skip reference validation against it.
const BlackholeGroup = blackholeGroup

// routingRule binds a name matcher to the identifier of the upstream group
// queries matching it should be dispatched to. Rules are evaluated in table
// order; the first rule whose matcher matches wins.
type routingRule struct {
	matcher     Matcher
	targetGroup string
	description string
}

// RoutingRule is an exported alias of routingRule so callers outside this
// package (e.g. the cmd/owdns-gatewayd config loader) can hold a slice of
// rules built via NewRoutingRule to pass to Router.SetTable.
type RoutingRule = routingRule

// NewRoutingRule builds a rule from a single matcher and its target group.
func NewRoutingRule(matcher Matcher, targetGroup, description string) (*routingRule, error) {
	if matcher == nil {
		return nil, errors.New("routing rule has no matcher")
	}
	if targetGroup == "" {
		return nil, errors.New("routing rule has no target group")
	}
	return &routingRule{matcher: matcher, targetGroup: targetGroup, description: description}, nil
}

func (r *routingRule) match(name string) bool {
	return r.matcher.Match(name)
}

func (r *routingRule) String() string {
	if r.description != "" {
		return fmt.Sprintf("%s->%s", r.description, r.targetGroup)
	}
	return fmt.Sprintf("rule->%s", r.targetGroup)
}
