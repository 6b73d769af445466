package owdns

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLRUStoreAddGet(t *testing.T) {
	s := newLRUStore(5)

	var keys []cacheKey
	for i := 0; i < 10; i++ {
		key := cacheKey{qKey: qKey{Name: fmt.Sprintf("test%d.com.", i), Qtype: 1, Qclass: 1}}
		keys = append(keys, key)
		s.add(key, cacheEntry{ExpiresAt: time.Now().Add(time.Minute)})
	}

	// Capacity is 5 and 10 were added, so only the most recent 5 remain.
	require.Equal(t, 5, s.size())

	for _, key := range keys[:5] {
		_, ok := s.get(key)
		require.False(t, ok)
	}
	for _, key := range keys[5:] {
		_, ok := s.get(key)
		require.True(t, ok)
	}

	s.delete(keys[5])
	require.Equal(t, 4, s.size())
}

func TestLRUStoreCandidateKeysOrdering(t *testing.T) {
	s := newLRUStore(0)
	qk := qKey{Name: "example.com.", Qtype: 1, Qclass: 1}

	broad := cacheKey{qKey: qk, Scope: ecsScope{Family: 1, PrefixLen: 16, Network: [16]byte{10, 0}}}
	narrow := cacheKey{qKey: qk, Scope: ecsScope{Family: 1, PrefixLen: 24, Network: [16]byte{10, 0, 1}}}
	s.add(broad, cacheEntry{ExpiresAt: time.Now().Add(time.Minute)})
	s.add(narrow, cacheEntry{ExpiresAt: time.Now().Add(time.Minute)})

	candidates := s.candidateKeys(qk)
	require.Len(t, candidates, 2)
	require.Equal(t, uint8(24), candidates[0].Scope.PrefixLen)
	require.Equal(t, uint8(16), candidates[1].Scope.PrefixLen)
}

func TestLRUStoreDeleteExpired(t *testing.T) {
	s := newLRUStore(0)
	key := cacheKey{qKey: qKey{Name: "expired.com.", Qtype: 1, Qclass: 1}}
	s.add(key, cacheEntry{ExpiresAt: time.Now().Add(-time.Second)})

	removed := s.deleteExpired(time.Now())
	require.Equal(t, 1, removed)
	require.Equal(t, 0, s.size())
}
