package owdns

import (
	"sort"
	"time"
)

// qKey identifies a question independent of any ECS scope.
type qKey struct {
	Name   string
	Qtype  uint16
	Qclass uint16
}

// cacheKey is the DNS cache's key: a question plus the ECS scope the cached
// answer applies to (spec's K = (Q, ecs_scope)).
type cacheKey struct {
	qKey
	Scope ecsScope
}

// cacheEntry is the DNS cache's value: a serialised answer plus enough
// metadata to compute remaining TTL and classify the entry (spec's E).
type cacheEntry struct {
	Msg             []byte
	CreatedAt       time.Time
	ExpiresAt       time.Time
	DNSSECValidated bool
	IsNegative      bool
}

type lruItem struct {
	key        cacheKey
	entry      cacheEntry
	prev, next *lruItem
}

// lruStore is a doubly-linked-list LRU keyed by cacheKey, with a secondary
// index from qKey to the distinct ECS scopes stored for that question so a
// lookup can do longest-prefix-match without scanning the whole cache.
type lruStore struct {
	maxItems   int
	items      map[cacheKey]*lruItem
	scopes     map[qKey]map[ecsScope]struct{}
	head, tail *lruItem
}

func newLRUStore(capacity int) *lruStore {
	head := new(lruItem)
	tail := new(lruItem)
	head.next = tail
	tail.prev = head
	return &lruStore{
		maxItems: capacity,
		items:    make(map[cacheKey]*lruItem),
		scopes:   make(map[qKey]map[ecsScope]struct{}),
		head:     head,
		tail:     tail,
	}
}

func (s *lruStore) add(key cacheKey, entry cacheEntry) {
	if item := s.touch(key); item != nil {
		item.entry = entry
		return
	}
	item := &lruItem{key: key, entry: entry, next: s.head.next, prev: s.head}
	s.head.next.prev = item
	s.head.next = item
	s.items[key] = item

	qk := key.qKey
	if s.scopes[qk] == nil {
		s.scopes[qk] = make(map[ecsScope]struct{})
	}
	s.scopes[qk][key.Scope] = struct{}{}

	s.resize()
}

// touch moves an existing item to the front (most-recently-used) and
// returns it, or nil if the key isn't present.
func (s *lruStore) touch(key cacheKey) *lruItem {
	item := s.items[key]
	if item == nil {
		return nil
	}
	item.prev.next = item.next
	item.next.prev = item.prev
	item.next = s.head.next
	item.prev = s.head
	s.head.next.prev = item
	s.head.next = item
	return item
}

func (s *lruStore) get(key cacheKey) (cacheEntry, bool) {
	item := s.touch(key)
	if item == nil {
		return cacheEntry{}, false
	}
	return item.entry, true
}

func (s *lruStore) delete(key cacheKey) {
	item := s.items[key]
	if item == nil {
		return
	}
	item.prev.next = item.next
	item.next.prev = item.prev
	delete(s.items, key)

	qk := key.qKey
	if set := s.scopes[qk]; set != nil {
		delete(set, key.Scope)
		if len(set) == 0 {
			delete(s.scopes, qk)
		}
	}
}

// candidateKeys returns the cacheKeys known for qk, sorted by scope prefix
// length descending, so the caller can test longest-prefix-match first.
func (s *lruStore) candidateKeys(qk qKey) []cacheKey {
	set := s.scopes[qk]
	if len(set) == 0 {
		return nil
	}
	keys := make([]cacheKey, 0, len(set))
	for scope := range set {
		keys = append(keys, cacheKey{qKey: qk, Scope: scope})
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].Scope.PrefixLen > keys[j].Scope.PrefixLen
	})
	return keys
}

func (s *lruStore) resize() {
	if s.maxItems <= 0 {
		return
	}
	for len(s.items) > s.maxItems {
		item := s.tail.prev
		if item == s.head {
			return
		}
		s.delete(item.key)
	}
}

func (s *lruStore) reset() {
	head := new(lruItem)
	tail := new(lruItem)
	head.next = tail
	tail.prev = head
	s.head, s.tail = head, tail
	s.items = make(map[cacheKey]*lruItem)
	s.scopes = make(map[qKey]map[ecsScope]struct{})
}

func (s *lruStore) size() int { return len(s.items) }

// mostRecentFirst returns up to n items, most-recently-used first. n <= 0
// means all items.
func (s *lruStore) mostRecentFirst(n int) []*lruItem {
	var out []*lruItem
	for item := s.head.next; item != s.tail; item = item.next {
		out = append(out, item)
		if n > 0 && len(out) >= n {
			break
		}
	}
	return out
}

// deleteExpired removes every item whose ExpiresAt is before now.
func (s *lruStore) deleteExpired(now time.Time) int {
	var removed int
	item := s.head.next
	for item != s.tail {
		next := item.next
		if now.After(item.entry.ExpiresAt) {
			s.delete(item.key)
			removed++
		}
		item = next
	}
	return removed
}
