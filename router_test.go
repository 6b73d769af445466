package owdns

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestRouterExactAndDefault(t *testing.T) {
	internal := &TestResolver{}
	global := &TestResolver{}

	r := NewRouter("test")
	r.AddGroup("internal", internal)
	r.AddGroup("global upstream", global)

	m := newExactMatcher([]string{"corp.internal."})
	rule, err := NewRoutingRule(m, "internal", "corp")
	require.NoError(t, err)
	r.SetTable([]*routingRule{rule}, "")

	q := new(dns.Msg)
	q.SetQuestion("corp.internal.", dns.TypeA)
	_, err = r.Resolve(q, ClientInfo{})
	require.NoError(t, err)
	require.Equal(t, 1, internal.HitCount())
	require.Equal(t, 0, global.HitCount())

	q2 := new(dns.Msg)
	q2.SetQuestion("example.com.", dns.TypeA)
	_, err = r.Resolve(q2, ClientInfo{})
	require.NoError(t, err)
	require.Equal(t, 1, global.HitCount())
}

func TestRouterBlackhole(t *testing.T) {
	r := NewRouter("test")

	m := newExactMatcher([]string{"blocked.example."})
	rule, err := NewRoutingRule(m, blackholeGroup, "blocklist")
	require.NoError(t, err)
	r.SetTable([]*routingRule{rule}, "")

	q := new(dns.Msg)
	q.SetQuestion("blocked.example.", dns.TypeA)
	a, err := r.Resolve(q, ClientInfo{})
	require.NoError(t, err)
	require.Equal(t, dns.RcodeNameError, a.Rcode)
	require.False(t, a.Authoritative)
}

func TestRouterUnknownDefaultGroup(t *testing.T) {
	r := NewRouter("test")
	r.SetTable(nil, "nonexistent")

	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	_, err := r.Resolve(q, ClientInfo{})
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindRoutingError, kind)
}

func TestRouterTableSwapIsAtomic(t *testing.T) {
	r := NewRouter("test")
	a := &TestResolver{}
	b := &TestResolver{}
	r.AddGroup("a", a)
	r.AddGroup("b", b)

	mA := newExactMatcher([]string{"x.example."})
	ruleA, _ := NewRoutingRule(mA, "a", "")
	r.SetTable([]*routingRule{ruleA}, "")

	q := new(dns.Msg)
	q.SetQuestion("x.example.", dns.TypeA)
	_, err := r.Resolve(q, ClientInfo{})
	require.NoError(t, err)
	require.Equal(t, 1, a.HitCount())

	mB := newExactMatcher([]string{"x.example."})
	ruleB, _ := NewRoutingRule(mB, "b", "")
	r.SetTable([]*routingRule{ruleB}, "")

	_, err = r.Resolve(q, ClientInfo{})
	require.NoError(t, err)
	require.Equal(t, 1, a.HitCount())
	require.Equal(t, 1, b.HitCount())
}
