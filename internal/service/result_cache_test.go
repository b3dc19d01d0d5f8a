package service

import (
	"sync"
	"testing"
)

func TestResultCache_LRUEviction(t *testing.T) {
	t.Parallel()

	c := NewResultCache(2)
	gen := c.Generation()
	c.Put(1, gen, Decision{Allowed: true})
	c.Put(2, gen, Decision{Allowed: false})

	// Touch 1 so 2 becomes the eviction candidate.
	if _, ok := c.Get(1); !ok {
		t.Fatal("Get(1) missed")
	}
	c.Put(3, gen, Decision{Allowed: true})

	if _, ok := c.Get(2); ok {
		t.Error("entry 2 should have been evicted")
	}
	if _, ok := c.Get(1); !ok {
		t.Error("entry 1 should still be cached")
	}
	if _, ok := c.Get(3); !ok {
		t.Error("entry 3 should be cached")
	}

	want := CacheStats{Entries: 2, Capacity: 2, Hits: 3, Misses: 1, Evictions: 1}
	if got := c.Stats(); got != want {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}
}

func TestResultCache_UpdateExisting(t *testing.T) {
	t.Parallel()

	c := NewResultCache(2)
	c.Put(1, 0, Decision{Allowed: false})
	c.Put(1, 0, Decision{Allowed: true, Explain: []string{"alice", "data1", "read"}})

	d, ok := c.Get(1)
	if !ok || !d.Allowed || len(d.Explain) != 3 {
		t.Errorf("Get(1) = %+v, %v", d, ok)
	}
	if c.Size() != 1 {
		t.Errorf("Size() = %d, want 1", c.Size())
	}
}

func TestResultCache_Disabled(t *testing.T) {
	t.Parallel()

	for _, size := range []int{0, -1} {
		c := NewResultCache(size)
		c.Put(1, 0, Decision{Allowed: true})
		if _, ok := c.Get(1); ok {
			t.Errorf("size %d: cache should be disabled", size)
		}
		if st := c.Stats(); st.Capacity != 0 || st.Misses != 1 {
			t.Errorf("size %d: Stats() = %+v", size, st)
		}
	}
}

func TestResultCache_ClearAdvancesGeneration(t *testing.T) {
	t.Parallel()

	c := NewResultCache(10)
	stale := c.Generation()
	for i := uint64(0); i < 5; i++ {
		c.Put(i, stale, Decision{})
	}

	c.Clear()
	if c.Size() != 0 {
		t.Errorf("Size() after Clear = %d", c.Size())
	}

	// A decision evaluated before the Clear must not land in the cache.
	c.Put(7, stale, Decision{Allowed: true})
	if _, ok := c.Get(7); ok {
		t.Error("decision from a previous generation was cached")
	}

	c.Put(7, c.Generation(), Decision{Allowed: true})
	if d, ok := c.Get(7); !ok || !d.Allowed {
		t.Error("cache unusable after Clear")
	}
}

func TestResultCache_Concurrent(t *testing.T) {
	t.Parallel()

	c := NewResultCache(16)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := uint64(g*1000 + i%32)
				c.Put(key, c.Generation(), Decision{Allowed: i%2 == 0})
				c.Get(key)
				if i%50 == 0 {
					c.Clear()
				}
			}
		}(g)
	}
	wg.Wait()

	st := c.Stats()
	if st.Entries > 16 {
		t.Errorf("Entries = %d, exceeds bound", st.Entries)
	}
	if st.Hits+st.Misses != 8*200 {
		t.Errorf("hits %d + misses %d != %d", st.Hits, st.Misses, 8*200)
	}
}

func TestCacheKey(t *testing.T) {
	t.Parallel()

	if cacheKey([]string{"alice", "data1", "read"}) != cacheKey([]string{"alice", "data1", "read"}) {
		t.Error("cacheKey is not deterministic")
	}
	for _, pair := range [][2][]string{
		{{"ab", "c"}, {"a", "bc"}},
		{{"a\x00b"}, {"a", "b"}},
		{{"alice", "data1\x00write"}, {"alice", "data1", "write"}},
		{{""}, {}},
		{{"", ""}, {""}},
	} {
		if cacheKey(pair[0]) == cacheKey(pair[1]) {
			t.Errorf("cacheKey(%q) == cacheKey(%q)", pair[0], pair[1])
		}
	}
	if cacheKey([]string{"alice", "data1", "read"}) == cacheKey([]string{"alice", "data1", "write"}) {
		t.Error("different requests share a key")
	}
}
