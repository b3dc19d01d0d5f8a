package service

import (
	"container/list"
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// CacheStats is a snapshot of decision cache activity.
type CacheStats struct {
	Entries   int
	Capacity  int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

type cachedDecision struct {
	key      uint64
	decision Decision
}

// ResultCache is a bounded LRU of enforcement decisions. Every Clear starts
// a new generation; Put drops decisions computed in an earlier one, so a
// decision evaluated before a policy change never outlives the change.
type ResultCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front is most recently used
	index    map[uint64]*list.Element
	gen      uint64

	hits, misses, evictions uint64
}

// NewResultCache creates a cache holding at most capacity decisions.
// A non-positive capacity disables caching.
func NewResultCache(capacity int) *ResultCache {
	return &ResultCache{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[uint64]*list.Element),
	}
}

// Generation returns the current generation. Read it before evaluating a
// request and hand it to Put with the result.
func (c *ResultCache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Get returns the decision cached under key and marks it recently used.
func (c *ResultCache) Get(key uint64) (Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[key]
	if !ok {
		c.misses++
		return Decision{}, false
	}
	c.hits++
	c.order.MoveToFront(el)
	return el.Value.(*cachedDecision).decision, true
}

// Put caches decision under key if gen is still current.
func (c *ResultCache) Put(key uint64, gen uint64, decision Decision) {
	if c.capacity <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}

	if el, ok := c.index[key]; ok {
		el.Value.(*cachedDecision).decision = decision
		c.order.MoveToFront(el)
		return
	}
	for c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		delete(c.index, oldest.Value.(*cachedDecision).key)
		c.order.Remove(oldest)
		c.evictions++
	}
	c.index[key] = c.order.PushFront(&cachedDecision{key: key, decision: decision})
}

// Clear drops every entry and advances the generation.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.order.Init()
	clear(c.index)
}

// Size returns the number of cached decisions.
func (c *ResultCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a snapshot of the cache counters.
func (c *ResultCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Entries:   c.order.Len(),
		Capacity:  max(c.capacity, 0),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// cacheKey hashes request values, each prefixed with its length so that
// no two distinct value lists share an encoding.
func cacheKey(rvals []string) uint64 {
	h := xxhash.New()
	var buf [binary.MaxVarintLen64]byte
	_, _ = h.Write(binary.AppendUvarint(buf[:0], uint64(len(rvals))))
	for _, v := range rvals {
		_, _ = h.Write(binary.AppendUvarint(buf[:0], uint64(len(v))))
		_, _ = h.WriteString(v)
	}
	return h.Sum64()
}
