package execution

import (
	"sync"

	"github.com/neko940709/mapd-core-stream/logutil"
	"github.com/neko940709/mapd-core-stream/metrics"
	"go.uber.org/zap"
)

// Clock sweeps past pinned entries at most this many times before evicting
// one anyway. Evicting a pinned table is safe: its holders keep it alive.
const maxScanSize = 64

type cacheEntry struct {
	fp     KeyFingerprint
	hash   uint64
	table  *HashTable
	refBit bool
}

// HashTableCache maps fingerprints to built host tables, keeping at most one
// table per fingerprint. A single mutex guards it; builds run outside the
// lock, so two racing builders may both build, but only the first insert is
// kept and both end up with the same table.
//
// With a positive capacity the cache evicts with a clock (second chance)
// sweep, preferring entries that no running join holds. Capacity 0 means
// unbounded.
type HashTableCache struct {
	mu       sync.Mutex
	index    map[uint64][]*cacheEntry
	ring     []*cacheEntry
	hand     int
	capacity int
	logger   *zap.Logger
}

func NewHashTableCache(capacity int, logger *zap.Logger) *HashTableCache {
	if logger == nil {
		logger = logutil.BgLogger()
	}
	return &HashTableCache{
		index:    make(map[uint64][]*cacheEntry),
		capacity: capacity,
		logger:   logger,
	}
}

func (c *HashTableCache) find(fp KeyFingerprint, hash uint64) *cacheEntry {
	for _, e := range c.index[hash] {
		if e.fp.Equal(fp) {
			return e
		}
	}
	return nil
}

// Lookup returns the cached table for fp with a reference owned by the caller.
func (c *HashTableCache) Lookup(fp KeyFingerprint) (*HashTable, bool) {
	hash := fp.Hash()
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.find(fp, hash)
	if e == nil {
		metrics.CacheMisses.Inc()
		return nil, false
	}
	metrics.CacheHits.Inc()
	e.refBit = true
	return e.table.Retain(), true
}

// Insert publishes t under fp unless an equal fingerprint is already cached.
// It consumes the caller's reference to t and returns the winning table with
// a reference owned by the caller; inserted is false when an earlier table
// won.
func (c *HashTableCache) Insert(fp KeyFingerprint, t *HashTable) (winner *HashTable, inserted bool) {
	hash := fp.Hash()
	c.mu.Lock()
	defer c.mu.Unlock()
	if e := c.find(fp, hash); e != nil {
		e.refBit = true
		t.Release()
		return e.table.Retain(), false
	}

	e := &cacheEntry{fp: fp, hash: hash, table: t.Retain(), refBit: true}
	c.index[hash] = append(c.index[hash], e)
	if c.capacity > 0 && len(c.ring) >= c.capacity {
		idx := c.findVictim()
		c.evict(c.ring[idx])
		c.ring[idx] = e
	} else {
		c.ring = append(c.ring, e)
	}
	metrics.CacheEntries.Set(float64(len(c.ring)))
	return t, true
}

// GetOrBuild returns the cached table for fp, building and inserting it on a
// miss. The returned table carries a reference owned by the caller. hit is
// true when no build ran.
func (c *HashTableCache) GetOrBuild(fp KeyFingerprint, build func() (*HashTable, error)) (t *HashTable, hit bool, err error) {
	if t, ok := c.Lookup(fp); ok {
		c.logger.Debug("join hash table cache hit", zap.Stringer("fingerprint", fp))
		return t, true, nil
	}
	built, err := build()
	if err != nil {
		return nil, false, err
	}
	winner, inserted := c.Insert(fp, built)
	if !inserted {
		c.logger.Debug("concurrent join hash table build lost the race", zap.Stringer("fingerprint", fp))
	}
	return winner, false, nil
}

// findVictim must be called with c.mu held and a full ring.
func (c *HashTableCache) findVictim() int {
	n := len(c.ring)
	for scanned := 0; ; scanned++ {
		idx := c.hand
		c.hand = (c.hand + 1) % n
		e := c.ring[idx]
		if scanned >= maxScanSize {
			return idx
		}
		// Only the cache holds it
		if !e.refBit && e.table.RefCount() == 1 {
			return idx
		}
		e.refBit = false
	}
}

func (c *HashTableCache) evict(e *cacheEntry) {
	bucket := c.index[e.hash]
	for i, other := range bucket {
		if other == e {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(c.index, e.hash)
	} else {
		c.index[e.hash] = bucket
	}
	c.logger.Info("evicting join hash table",
		zap.Stringer("fingerprint", e.fp),
		zap.Int("bytes", e.table.SizeBytes()),
		zap.Int32("holders", e.table.RefCount()-1))
	e.table.Release()
	metrics.CacheEvictions.Inc()
}

// Len returns the number of cached tables.
func (c *HashTableCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ring)
}

// Clear drops every entry. Tables still held by running joins stay alive
// until those joins release them.
func (c *HashTableCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.ring {
		e.table.Release()
	}
	c.ring = nil
	c.hand = 0
	c.index = make(map[uint64][]*cacheEntry)
	metrics.CacheEntries.Set(0)
}
