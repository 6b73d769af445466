package owdns

import (
	"errors"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestDispatcherSucceedsWithFirstResolver(t *testing.T) {
	r := &TestResolver{}
	strategy := NewRoundRobinStrategy("group", r)
	d := NewDispatcher("group", strategy, DispatcherOptions{QueryTimeout: time.Second})

	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	_, err := d.Resolve(q, ClientInfo{})
	require.NoError(t, err)
	require.Equal(t, 1, r.HitCount())
}

func TestDispatcherFailsOverToNextResolver(t *testing.T) {
	bad := &TestResolver{}
	bad.SetFail(true)
	good := &TestResolver{}
	strategy := NewRoundRobinStrategy("group", bad, good)
	d := NewDispatcher("group", strategy, DispatcherOptions{QueryTimeout: time.Second})

	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	a, err := d.Resolve(q, ClientInfo{})
	require.NoError(t, err)
	require.NotNil(t, a)
	require.Equal(t, 1, bad.HitCount())
	require.Equal(t, 1, good.HitCount())
}

func TestDispatcherAllResolversFail(t *testing.T) {
	bad1 := &TestResolver{}
	bad1.SetFail(true)
	bad2 := &TestResolver{}
	bad2.SetFail(true)
	strategy := NewRoundRobinStrategy("group", bad1, bad2)
	d := NewDispatcher("group", strategy, DispatcherOptions{QueryTimeout: time.Second})

	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	_, err := d.Resolve(q, ClientInfo{})
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindUpstreamFailure, kind)
}

func TestDispatcherNoResolversConfigured(t *testing.T) {
	strategy := NewRoundRobinStrategy("group")
	d := NewDispatcher("group", strategy, DispatcherOptions{})

	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	_, err := d.Resolve(q, ClientInfo{})
	require.Error(t, err)
}

func TestDispatcherSetsDOBitWhenDNSSECEnabled(t *testing.T) {
	var seen *dns.Msg
	r := &TestResolver{ResolveFunc: func(q *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
		seen = q
		a := new(dns.Msg)
		a.SetReply(q)
		return a, nil
	}}
	strategy := NewRoundRobinStrategy("group", r)
	d := NewDispatcher("group", strategy, DispatcherOptions{EnableDNSSEC: true, QueryTimeout: time.Second})

	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	_, err := d.Resolve(q, ClientInfo{})
	require.NoError(t, err)
	require.NotNil(t, seen.IsEdns0())
	require.True(t, seen.IsEdns0().Do())
}

func TestDispatcherRefusesOnInvalidAnswer(t *testing.T) {
	mismatched := &TestResolver{ResolveFunc: func(q *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
		a := new(dns.Msg)
		a.SetQuestion("wrong.example.com.", dns.TypeA)
		return a, nil
	}}
	strategy := NewRoundRobinStrategy("group", mismatched)
	d := NewDispatcher("group", strategy, DispatcherOptions{QueryTimeout: time.Second})

	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	a, err := d.Resolve(q, ClientInfo{})
	require.Error(t, err)
	require.NotNil(t, a)
	require.Equal(t, dns.RcodeRefused, a.Rcode)
}

func TestDispatcherServfailsWhenResolversFail(t *testing.T) {
	bad := &TestResolver{}
	bad.SetFail(true)
	strategy := NewRoundRobinStrategy("group", bad)
	d := NewDispatcher("group", strategy, DispatcherOptions{QueryTimeout: time.Second})

	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	a, err := d.Resolve(q, ClientInfo{})
	require.Error(t, err)
	require.NotNil(t, a)
	require.Equal(t, dns.RcodeServerFailure, a.Rcode)
}

func TestDispatcherAbandonsSlowResolverWithinBudget(t *testing.T) {
	slow := &TestResolver{ResolveFunc: func(q *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
		time.Sleep(200 * time.Millisecond)
		return nil, errors.New("too slow to matter")
	}}
	fast := &TestResolver{}
	strategy := NewRoundRobinStrategy("group", slow, fast)
	d := NewDispatcher("group", strategy, DispatcherOptions{QueryTimeout: 50 * time.Millisecond})

	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	start := time.Now()
	_, err := d.Resolve(q, ClientInfo{})
	elapsed := time.Since(start)
	require.Error(t, err)
	require.Less(t, elapsed, 150*time.Millisecond)
}
