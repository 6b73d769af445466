package owdns

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestSingleFlightDedupsConcurrentCallers(t *testing.T) {
	g := newSingleFlightGroup()
	var calls int32

	fn := func() (*dns.Msg, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(30 * time.Millisecond)
		a := new(dns.Msg)
		a.SetQuestion("example.com.", dns.TypeA)
		return a, nil
	}

	var wg sync.WaitGroup
	leaders := make([]bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, _, leader := g.do("key", fn)
			leaders[idx] = leader
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
	leaderCount := 0
	for _, l := range leaders {
		if l {
			leaderCount++
		}
	}
	require.Equal(t, 1, leaderCount)
}

func TestSingleFlightDifferentKeysDoNotShare(t *testing.T) {
	g := newSingleFlightGroup()
	var calls int32
	fn := func() (*dns.Msg, error) {
		atomic.AddInt32(&calls, 1)
		return new(dns.Msg), nil
	}

	g.do("a", fn)
	g.do("b", fn)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSingleFlightReleasesSlotAfterCompletion(t *testing.T) {
	g := newSingleFlightGroup()
	var calls int32
	fn := func() (*dns.Msg, error) {
		atomic.AddInt32(&calls, 1)
		return new(dns.Msg), nil
	}

	g.do("key", fn)
	g.do("key", fn)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
