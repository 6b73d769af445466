package owdns

import (
	"sync"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestCoordinatorCachesAcrossRequests(t *testing.T) {
	upstream := &TestResolver{ResolveFunc: func(q *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
		a := new(dns.Msg)
		a.SetReply(q)
		a.Answer = []dns.RR{&dns.A{Hdr: dns.RR_Header{Name: q.Question[0].Name, Rrtype: dns.TypeA, Ttl: 60}, A: []byte{1, 2, 3, 4}}}
		return a, nil
	}}

	router := NewRouter("test")
	router.AddGroup("global upstream", upstream)
	cache := NewCache("test", router, CacheOptions{TTLNegative: 60})
	coord := NewCoordinator("test", cache, router, defaultECSPolicy)

	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	q.Id = 42

	a1, err := coord.Resolve(q, ClientInfo{})
	require.NoError(t, err)
	require.Equal(t, uint16(42), a1.Id)
	require.Equal(t, 1, upstream.HitCount())

	a2, err := coord.Resolve(q, ClientInfo{})
	require.NoError(t, err)
	require.Equal(t, uint16(42), a2.Id)
	require.Equal(t, 1, upstream.HitCount())
}

func TestCoordinatorSingleFlightsConcurrentMisses(t *testing.T) {
	var wg sync.WaitGroup
	release := make(chan struct{})
	upstream := &TestResolver{ResolveFunc: func(q *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
		<-release
		a := new(dns.Msg)
		a.SetReply(q)
		a.Answer = []dns.RR{&dns.A{Hdr: dns.RR_Header{Name: q.Question[0].Name, Rrtype: dns.TypeA, Ttl: 60}, A: []byte{1, 2, 3, 4}}}
		return a, nil
	}}

	router := NewRouter("test")
	router.AddGroup("global upstream", upstream)
	cache := NewCache("test", router, CacheOptions{TTLNegative: 60})
	coord := NewCoordinator("test", cache, router, defaultECSPolicy)

	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			q := new(dns.Msg)
			q.SetQuestion("shared.example.", dns.TypeA)
			_, err := coord.Resolve(q, ClientInfo{})
			errs[idx] = err
		}(i)
	}
	close(release)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 1, upstream.HitCount())
}

func TestCoordinatorRejectsMultiQuestion(t *testing.T) {
	router := NewRouter("test")
	router.AddGroup("global upstream", &TestResolver{})
	cache := NewCache("test", router, CacheOptions{TTLNegative: 60})
	coord := NewCoordinator("test", cache, router, defaultECSPolicy)

	q := new(dns.Msg)
	q.Question = []dns.Question{
		{Name: "a.example.", Qtype: dns.TypeA, Qclass: dns.ClassINET},
		{Name: "b.example.", Qtype: dns.TypeA, Qclass: dns.ClassINET},
	}
	_, err := coord.Resolve(q, ClientInfo{})
	require.Error(t, err)
}
