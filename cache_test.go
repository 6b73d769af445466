package owdns

import (
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestCacheHitMiss(t *testing.T) {
	var ci ClientInfo
	answerTTL := uint32(3600)
	r := &TestResolver{
		ResolveFunc: func(q *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
			a := new(dns.Msg)
			a.SetReply(q)
			a.Answer = []dns.RR{
				&dns.A{
					Hdr: dns.RR_Header{Name: q.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: answerTTL},
					A:   net.IP{127, 0, 0, 1},
				},
			}
			return a, nil
		},
	}

	c := NewCache("test", r, CacheOptions{TTLMin: 1, TTLMax: 7200, TTLNegative: 60})

	q := new(dns.Msg)
	q.SetQuestion("test.com.", dns.TypeA)
	a, err := c.Resolve(q, ci)
	require.NoError(t, err)
	require.Equal(t, 1, r.HitCount())
	require.Equal(t, uint32(3600), a.Answer[0].Header().Ttl)

	time.Sleep(time.Second)

	// Second query for the same question is a cache hit with a lower TTL.
	a, err = c.Resolve(q, ci)
	require.NoError(t, err)
	require.Equal(t, 1, r.HitCount())
	require.Less(t, a.Answer[0].Header().Ttl, answerTTL)

	// A different question still goes upstream.
	q2 := new(dns.Msg)
	q2.SetQuestion("test2.com.", dns.TypeA)
	_, err = c.Resolve(q2, ci)
	require.NoError(t, err)
	require.Equal(t, 2, r.HitCount())
}

func TestCacheNegative(t *testing.T) {
	var ci ClientInfo
	r := &TestResolver{
		ResolveFunc: func(q *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
			a := new(dns.Msg)
			a.SetRcode(q, dns.RcodeNameError)
			return a, nil
		},
	}

	c := NewCache("test", r, CacheOptions{TTLNegative: 60})

	q := new(dns.Msg)
	q.SetQuestion("nx.com.", dns.TypeA)
	a, err := c.Resolve(q, ci)
	require.NoError(t, err)
	require.Equal(t, 1, r.HitCount())
	require.Equal(t, dns.RcodeNameError, a.Rcode)

	// Second query is served from cache, not forwarded upstream again.
	a, err = c.Resolve(q, ci)
	require.NoError(t, err)
	require.Equal(t, 1, r.HitCount())
	require.Equal(t, dns.RcodeNameError, a.Rcode)
}

func TestCacheNegativeRefused(t *testing.T) {
	var ci ClientInfo
	r := &TestResolver{
		ResolveFunc: func(q *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
			a := new(dns.Msg)
			a.SetRcode(q, dns.RcodeRefused)
			return a, nil
		},
	}

	c := NewCache("test", r, CacheOptions{TTLNegative: 60})

	q := new(dns.Msg)
	q.SetQuestion("refused.com.", dns.TypeA)
	a, err := c.Resolve(q, ci)
	require.NoError(t, err)
	require.Equal(t, 1, r.HitCount())
	require.Equal(t, dns.RcodeRefused, a.Rcode)

	// Second query is served from cache, not forwarded upstream again.
	a, err = c.Resolve(q, ci)
	require.NoError(t, err)
	require.Equal(t, 1, r.HitCount())
	require.Equal(t, dns.RcodeRefused, a.Rcode)
}

func TestCacheFlushQuery(t *testing.T) {
	var ci ClientInfo
	r := &TestResolver{}
	c := NewCache("test", r, CacheOptions{TTLNegative: 60, FlushQuery: "flush.internal."})

	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	q.Answer = []dns.RR{&dns.A{Hdr: dns.RR_Header{Name: "example.com.", Rrtype: dns.TypeA, Ttl: 60}, A: net.IP{1, 2, 3, 4}}}
	c.Insert(q, q, false)
	require.Equal(t, 1, c.store.size())

	flush := new(dns.Msg)
	flush.SetQuestion("flush.internal.", dns.TypeA)
	_, err := c.Resolve(flush, ci)
	require.NoError(t, err)
	require.Equal(t, 0, c.store.size())
}

func TestCacheECSScopedEntryServedOnlyInsideScope(t *testing.T) {
	c := NewCache("test", &TestResolver{}, CacheOptions{TTLNegative: 60})

	q := new(dns.Msg)
	q.SetQuestion("geo.example.com.", dns.TypeA)
	broadAnswer := q.Copy()
	broadAnswer.Answer = []dns.RR{&dns.A{Hdr: dns.RR_Header{Name: "geo.example.com.", Rrtype: dns.TypeA, Ttl: 60}, A: net.IP{9, 9, 9, 9}}}
	broadAnswer.SetEdns0(4096, false)
	broadAnswer.IsEdns0().Option = append(broadAnswer.IsEdns0().Option, &dns.EDNS0_SUBNET{
		Code: dns.EDNS0SUBNET, Family: 1, SourceNetmask: 16, SourceScope: 16, Address: net.IP{10, 0, 0, 0},
	})
	c.Insert(q, broadAnswer, false)

	a, ok := c.lookup(q, net.IP{10, 0, 5, 5})
	require.True(t, ok)
	require.Equal(t, "9.9.9.9", a.Answer[0].(*dns.A).A.String())

	_, ok = c.lookup(q, net.IP{192, 168, 1, 1})
	require.False(t, ok)
}
