package owdns

import (
	"expvar"
	"fmt"
)

// getVarInt returns an *expvar.Int for the given path, reusing any
// previously registered variable of the same name (expvar panics on
// duplicate registration, which would otherwise break tests that build the
// same component twice).
func getVarInt(base string, id string, name string) *expvar.Int {
	fullname := fmt.Sprintf("owdns.%s.%s.%s", base, id, name)
	if v := expvar.Get(fullname); v != nil {
		return v.(*expvar.Int)
	}
	return expvar.NewInt(fullname)
}

// getVarMap returns an *expvar.Map for the given path.
func getVarMap(base string, id string, name string) *expvar.Map {
	fullname := fmt.Sprintf("owdns.%s.%s.%s", base, id, name)
	if v := expvar.Get(fullname); v != nil {
		return v.(*expvar.Map)
	}
	return expvar.NewMap(fullname)
}

// getVarString returns an *expvar.String for the given path.
func getVarString(base string, id string, name string) *expvar.String {
	fullname := fmt.Sprintf("owdns.%s.%s.%s", base, id, name)
	if v := expvar.Get(fullname); v != nil {
		return v.(*expvar.String)
	}
	return expvar.NewString(fullname)
}

// ListenerMetrics is shared by every transport client (udpClient, tcpClient,
// dotClient, dohClient): queries sent, responses by RCODE, and errors by
// kind, all keyed under the resolver's id.
type ListenerMetrics struct {
	query       *expvar.Int
	response    *expvar.Map
	err         *expvar.Map
	maxQueueLen *expvar.Int
}

// NewListenerMetrics returns the metrics bundle for a transport client
// identified by id, registered under base (e.g. "client").
func NewListenerMetrics(base, id string) *ListenerMetrics {
	return &ListenerMetrics{
		query:       getVarInt(base, id, "query"),
		response:    getVarMap(base, id, "response"),
		err:         getVarMap(base, id, "error"),
		maxQueueLen: getVarInt(base, id, "max_queue_len"),
	}
}

// GroupMetrics is shared by the upstream group selection strategies and the
// dispatcher: which resolver served a query, which one failed, how many are
// currently active, how many times the random strategy took a failed
// resolver out of rotation, and which selection strategy the group is
// configured with.
type GroupMetrics struct {
	route     *expvar.Map
	failure   *expvar.Map
	available *expvar.Int
	failover  *expvar.Int
	strategy  *expvar.String
}

// NewGroupMetrics returns the metrics bundle for a group identified by id,
// with available pre-set to the group's initial resolver count and strategy
// pre-set to the selection strategy's kind ("random", "round_robin").
func NewGroupMetrics(id string, available int, strategy string) *GroupMetrics {
	avail := getVarInt("group", id, "available")
	avail.Set(int64(available))
	kind := getVarString("group", id, "strategy")
	kind.Set(strategy)
	return &GroupMetrics{
		route:     getVarMap("group", id, "route"),
		failure:   getVarMap("group", id, "failure"),
		available: avail,
		failover:  getVarInt("group", id, "failover"),
		strategy:  kind,
	}
}
