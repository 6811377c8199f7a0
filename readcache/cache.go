// Package readcache implements the sharded read cache (§4.g): a fixed
// number of independently-locked shards, each holding key/value/id/age
// entries for keys sharing a short hash, with randomized bounded-scan
// eviction when a shard grows past its configured size. Ported from
// original_source/include/sharded_cache.h.
package readcache

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// ShardCount is the number of independently-locked cache shards.
const ShardCount = 1024

// EvictTryDist bounds how many entries an eviction scan examines before
// giving up on finding something to reclaim.
const EvictTryDist = 10

// Entry is one cached record.
type Entry struct {
	Key       []byte
	Value     []byte
	ID        int64
	Timestamp int64
}

type slot struct {
	shortHash uint64
	entry     Entry
}

type shard struct {
	mu      sync.Mutex
	entries []slot
}

func (s *shard) lookup(shortHash uint64, key []byte) (Entry, bool) {
	for !s.mu.TryLock() {
	}
	defer s.mu.Unlock()
	for _, sl := range s.entries {
		if sl.shortHash == shortHash && string(sl.entry.Key) == string(key) {
			return sl.entry, true
		}
	}
	return Entry{}, false
}

func (s *shard) add(shortHash uint64, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sl := range s.entries {
		if sl.shortHash == shortHash && string(sl.entry.Key) == string(e.Key) {
			s.entries[i].entry = e
			return
		}
	}
	s.entries = append(s.entries, slot{shortHash: shortHash, entry: e})
}

// evictOldest scans forward from a start index for up to EvictTryDist
// entries and removes whichever has the smallest timestamp.
func (s *shard) evictOldest(start uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return
	}
	i0 := int(start % uint64(len(s.entries)))

	victim := -1
	var oldest int64 = -1
	for i, dist := i0, 0; dist < EvictTryDist && dist < len(s.entries); i, dist = (i+1)%len(s.entries), dist+1 {
		ts := s.entries[i].entry.Timestamp
		if oldest == -1 || ts < oldest {
			victim, oldest = i, ts
		}
	}
	if victim >= 0 {
		s.entries = append(s.entries[:victim], s.entries[victim+1:]...)
	}
}

func (s *shard) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Cache is the full sharded read cache.
type Cache struct {
	shards       [ShardCount]*shard
	maxShardSize int
	timestamp    atomic.Int64
	randKey      atomic.Uint64
}

// New returns an empty cache whose shards evict once they exceed
// maxShardSize entries.
func New(maxShardSize int) *Cache {
	c := &Cache{maxShardSize: maxShardSize}
	for i := range c.shards {
		c.shards[i] = &shard{}
	}
	return c
}

// SetTimestamp sets the logical clock stamped onto subsequently Added
// entries, used only to rank eviction candidates by age.
func (c *Cache) SetTimestamp(t int64) {
	c.timestamp.Store(t)
}

func shardIndex(shortHash uint64) uint64 {
	return shortHash % ShardCount
}

// Lookup returns the cached entry for (shortHash, key), if present.
func (c *Cache) Lookup(shortHash uint64, key []byte) (Entry, bool) {
	c.randKey.Store(c.randKey.Load() ^ shortHash)
	return c.shards[shardIndex(shortHash)].lookup(shortHash, key)
}

// Add caches (key, value, id) under shortHash, evicting the oldest entry
// in its shard first if the shard already holds more than maxShardSize
// entries.
func (c *Cache) Add(shortHash uint64, key, value []byte, id int64) {
	idx := shardIndex(shortHash)
	s := c.shards[idx]

	if s.size() > c.maxShardSize {
		rk := xxhash.Sum64(appendUint64(nil, c.randKey.Load(), shortHash))
		c.randKey.Store(rk)
		s.evictOldest(rk)
	}

	s.add(shortHash, Entry{Key: key, Value: value, ID: id, Timestamp: c.timestamp.Load()})
}

func appendUint64(buf []byte, vs ...uint64) []byte {
	for _, v := range vs {
		for i := 0; i < 8; i++ {
			buf = append(buf, byte(v>>(8*i)))
		}
	}
	return buf
}
