package owdns

import (
	"expvar"
	"math"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// Cache is the ECS-aware LRU resolver façade: it checks an internal store
// before forwarding to the wrapped resolver (typically the Router), and
// inserts the upstream answer back into the store under the TTL rules in
// spec.md §4.2.
type Cache struct {
	CacheOptions
	id       string
	resolver Resolver
	mu       sync.Mutex
	store    *lruStore
	metrics  *CacheMetrics
}

var _ Resolver = &Cache{}

type CacheMetrics struct {
	hit     *expvar.Int
	miss    *expvar.Int
	entries *expvar.Int
}

// CacheOptions configures TTL clamping, capacity, and optional disk
// persistence for a Cache instance.
type CacheOptions struct {
	// Capacity is the maximum number of entries; 0 means unlimited.
	Capacity int

	// TTLMin/TTLMax clamp the effective TTL of positive responses.
	TTLMin uint32
	TTLMax uint32

	// TTLNegative is the effective TTL for negative responses (NXDOMAIN,
	// NODATA, and blackhole synthesis).
	TTLNegative uint32

	// ShuffleAnswerFunc, if set, is applied to cache hits before they're
	// returned, to vary A/AAAA record order across repeated reads.
	ShuffleAnswerFunc AnswerShuffleFunc

	// FlushQuery, if set, is a query name that flushes the cache instead of
	// being resolved.
	FlushQuery string

	// Snapshot configures periodic and shutdown persistence. Zero value
	// disables persistence.
	Snapshot SnapshotOptions
}

// NewCache returns a Cache wrapping resolver. If opt.Snapshot.Path is set,
// an existing snapshot is loaded immediately and a periodic save loop is
// started; Close() performs the bounded shutdown save.
func NewCache(id string, resolver Resolver, opt CacheOptions) *Cache {
	c := &Cache{
		CacheOptions: opt,
		id:           id,
		resolver:     resolver,
		store:        newLRUStore(opt.Capacity),
		metrics: &CacheMetrics{
			hit:     getVarInt("cache", id, "hit"),
			miss:    getVarInt("cache", id, "miss"),
			entries: getVarInt("cache", id, "entries"),
		},
	}
	if c.TTLNegative == 0 {
		c.TTLNegative = 60
	}
	if opt.Snapshot.Path != "" {
		if err := c.loadSnapshot(); err != nil {
			Log.WithField("id", id).WithField("path", opt.Snapshot.Path).
				Warn("failed to load cache snapshot, starting empty")
		}
		go c.periodicSnapshot()
	}
	go c.gcLoop()
	return c
}

// Resolve checks the cache before forwarding to the wrapped resolver.
func (c *Cache) Resolve(q *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
	if len(q.Question) < 1 {
		return nil, newError(KindBadRequest, "no question in query")
	}
	log := logger(c.id, q, ci)

	if c.FlushQuery != "" && c.FlushQuery == q.Question[0].Name {
		log.Info("flushing cache")
		c.Flush()
		a := new(dns.Msg)
		a.SetReply(q)
		return a, nil
	}

	if a, ok := c.lookup(q, ci.SourceIP); ok {
		log.Debug("cache-hit")
		c.metrics.hit.Add(1)
		return a, nil
	}
	c.metrics.miss.Add(1)
	log.WithField("resolver", c.resolver.String()).Debug("cache-miss, forwarding")

	a, err := c.resolver.Resolve(q.Copy(), ci)
	if err != nil || a == nil {
		return a, err
	}
	if a.Truncated {
		return a, nil
	}
	c.Insert(q, a.Copy(), false)
	return a, nil
}

func (c *Cache) String() string { return c.id }

// lookup returns a cache hit with its TTL adjusted for age, or false.
func (c *Cache) lookup(q *dns.Msg, clientIP net.IP) (*dns.Msg, bool) {
	qk := qKey{Name: q.Question[0].Name, Qtype: q.Question[0].Qtype, Qclass: q.Question[0].Qclass}

	c.mu.Lock()
	candidates := c.store.candidateKeys(qk)
	var (
		entry cacheEntry
		found bool
	)
	for _, key := range candidates {
		if !scopeContains(key.Scope, clientIP) {
			continue
		}
		e, ok := c.store.get(key)
		if ok {
			entry, found = e, true
			break
		}
	}
	c.mu.Unlock()
	if !found {
		return nil, false
	}

	if time.Now().After(entry.ExpiresAt) {
		return nil, false
	}

	a := new(dns.Msg)
	if err := a.Unpack(entry.Msg); err != nil {
		return nil, false
	}
	a.Id = q.Id

	age := uint32(time.Since(entry.CreatedAt).Seconds())
	for _, rrset := range [][]dns.RR{a.Answer, a.Ns, a.Extra} {
		for _, rr := range rrset {
			if _, ok := rr.(*dns.OPT); ok {
				continue
			}
			h := rr.Header()
			if age >= h.Ttl {
				h.Ttl = 0
			} else {
				h.Ttl -= age
			}
		}
	}
	if c.ShuffleAnswerFunc != nil {
		c.ShuffleAnswerFunc(a)
	}
	return a, true
}

// Insert stores an upstream answer under the TTL rules in spec.md §4.2. If
// ignoreECS is true, the answer's ECS scope, if any, is never honoured; the
// entry is stored scope-empty.
func (c *Cache) Insert(query, answer *dns.Msg, ignoreECS bool) {
	now := time.Now()
	expiry, isNegative, ok := c.effectiveExpiry(answer, now)
	if !ok {
		return
	}

	scope := ecsScope{}
	if !ignoreECS {
		scope = scopeFromAnswer(answer)
	}

	packed, err := answer.Pack()
	if err != nil {
		Log.WithField("id", c.id).Warn("failed to pack answer for caching")
		return
	}

	key := cacheKey{
		qKey:  qKey{Name: query.Question[0].Name, Qtype: query.Question[0].Qtype, Qclass: query.Question[0].Qclass},
		Scope: scope,
	}
	entry := cacheEntry{
		Msg:        packed,
		CreatedAt:  now,
		ExpiresAt:  expiry,
		IsNegative: isNegative,
	}

	c.mu.Lock()
	c.store.add(key, entry)
	total := c.store.size()
	c.mu.Unlock()
	c.metrics.entries.Set(int64(total))
}

// effectiveExpiry implements spec.md §4.2's TTL rules. Per §7's
// upstreamRefused handling, SERVFAIL and REFUSED answers returned by an
// upstream are cached negatively alongside NXDOMAIN and NODATA, so such a
// resolver doesn't get hammered with repeat queries. A group that has
// exhausted its resolvers returns an error instead, and Resolve does not
// cache answers that come with an error.
func (c *Cache) effectiveExpiry(answer *dns.Msg, now time.Time) (expiry time.Time, negative bool, ok bool) {
	switch answer.Rcode {
	case dns.RcodeSuccess:
		min, found := minTTL(answer)
		if found && len(answer.Answer) > 0 {
			ttl := clampTTL(min, c.TTLMin, c.TTLMax)
			return now.Add(time.Duration(ttl) * time.Second), false, true
		}
		// NOERROR with an empty answer section: NODATA.
		return now.Add(time.Duration(c.TTLNegative) * time.Second), true, true
	case dns.RcodeNameError, dns.RcodeServerFailure, dns.RcodeRefused:
		return now.Add(time.Duration(c.TTLNegative) * time.Second), true, true
	default:
		return time.Time{}, false, false
	}
}

func clampTTL(ttl, min, max uint32) uint32 {
	if min > 0 && ttl < min {
		ttl = min
	}
	if max > 0 && ttl > max {
		ttl = max
	}
	return ttl
}

// Flush removes all entries from the cache.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.reset()
	c.metrics.entries.Set(0)
}

func (c *Cache) gcLoop() {
	for {
		time.Sleep(time.Minute)
		c.mu.Lock()
		removed := c.store.deleteExpired(time.Now())
		total := c.store.size()
		c.mu.Unlock()
		if removed > 0 {
			Log.WithField("id", c.id).WithField("removed", removed).Debug("cache garbage collection")
		}
		c.metrics.entries.Set(int64(total))
	}
}

// minTTL finds the lowest TTL among all resource records (excluding OPT).
func minTTL(answer *dns.Msg) (uint32, bool) {
	var (
		min   uint32 = math.MaxUint32
		found bool
	)
	for _, rr := range [][]dns.RR{answer.Answer, answer.Ns, answer.Extra} {
		for _, a := range rr {
			if _, ok := a.(*dns.OPT); ok {
				continue
			}
			h := a.Header()
			if h.Ttl < min {
				min = h.Ttl
				found = true
			}
		}
	}
	return min, found
}

// AnswerShuffleFunc controls the order of answer RRs returned on a cache
// hit. Optional, off by default (§12 of SPEC_FULL.md).
type AnswerShuffleFunc func(*dns.Msg)

// AnswerShuffleRandom randomly reorders A/AAAA answer records.
func AnswerShuffleRandom(msg *dns.Msg) {
	if len(msg.Answer) < 2 {
		return
	}
	idx := make([]int, 0, len(msg.Answer))
	for i, rr := range msg.Answer {
		if rr.Header().Rrtype == dns.TypeA || rr.Header().Rrtype == dns.TypeAAAA {
			idx = append(idx, i)
		}
	}
	rand.Shuffle(len(idx), func(i, j int) {
		msg.Answer[idx[i]], msg.Answer[idx[j]] = msg.Answer[idx[j]], msg.Answer[idx[i]]
	})
}
