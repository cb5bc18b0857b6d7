// Package cache implements the engine's expiring metadata cache (C1): a
// fixed-shard, pin-counted store of opaque byte blobs keyed by a 64-bit
// handle that encodes generation and slot, matching the storage shape
// pkg/metadata's security/dir-info/stream-info/EA sidecars borrow.
//
// Unlike the content-block cache in pkg/cache (which buffers file data for
// upload), this cache holds small, short-lived metadata payloads and is
// addressed by opaque handle rather than by content hash.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/gofsp/internal/logger"
)

// shardPick round-robins Add calls across shards.
var shardPick atomic.Uint64

// Handle is an opaque reference returned by Add and consumed by Reference,
// Release, and Invalidate. The zero Handle never names a live entry.
type Handle uint64

const shardBits = 6
const shardCount = 1 << shardBits // 64 shards

func shardFor(h Handle) uint64 {
	return uint64(h) & (shardCount - 1)
}

// entry is one cached blob. generation changes every time a slot is reused,
// so a stale Handle (same slot index, old generation) is correctly treated
// as a miss even after the slot has been recycled.
type entry struct {
	buf        []byte
	generation uint32
	expiresAt  time.Time // zero means no expiration
	pins       int32
	dead       bool
}

type shard struct {
	mu      sync.Mutex
	entries map[uint32]*entry // slot index -> entry
	nextIdx uint32
}

// Cache is a sharded, TTL-plus-pin-count store of opaque byte blobs.
//
// Guarantees:
//   - A Reference/Release bracket observes a stable view of the blob: the
//     backing []byte is never mutated or freed while pinned.
//   - TTL == 0 (NoExpiration) disables expiration for that entry.
//   - An invalidated handle is never reused until all outstanding pins on
//     it have been released (Release on the last pin performs the evict).
type Cache struct {
	shards     [shardCount]*shard
	defaultTTL time.Duration
	capacity   int // soft cap on total entries across all shards; 0 = unbounded
	count      int32
}

// Config mirrors the construction parameters named in §4.1: capacity and
// default TTL.
type Config struct {
	Capacity   int
	DefaultTTL time.Duration
}

// NoExpiration disables TTL expiration for an entry added with it.
const NoExpiration time.Duration = 0

func New(cfg Config) *Cache {
	c := &Cache{defaultTTL: cfg.DefaultTTL, capacity: cfg.Capacity}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[uint32]*entry)}
	}
	return c
}

func encodeHandle(shardIdx uint64, slot uint32, generation uint32) Handle {
	return Handle(shardIdx) | Handle(slot)<<shardBits | Handle(generation)<<38
}

func decodeHandle(h Handle) (shardIdx uint64, slot uint32, generation uint32) {
	shardIdx = uint64(h) & (shardCount - 1)
	slot = uint32((uint64(h) >> shardBits) & 0xFFFFFF)
	generation = uint32(uint64(h) >> 38)
	return
}

// Add copies buf into a freshly allocated entry and returns an opaque
// handle. ttl == NoExpiration disables expiration. A zero-length Capacity
// means unbounded; a non-zero Capacity triggers best-effort eviction of
// unpinned, TTL-expired entries before the entry count would exceed it.
// Add never fails with out-of-memory in this implementation (Go's runtime
// allocator is the must-succeed allocator referenced in the base spec's
// §9 design note); callers that need a hard ceiling should size Capacity.
func (c *Cache) Add(buf []byte, ttl time.Duration) Handle {
	owned := make([]byte, len(buf))
	copy(owned, buf)

	// Pick shard by round-robin over a monotonically increasing counter so
	// load spreads evenly without hashing the (not-yet-known) handle.
	shardIdx := uint64(shardPick.Add(1)) % shardCount
	sh := c.shards[shardIdx]

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if c.capacity > 0 && len(sh.entries) >= c.capacity/shardCount+1 {
		c.evictLocked(sh)
	}

	slot := sh.nextIdx
	sh.nextIdx++
	e, existed := sh.entries[slot]
	generation := uint32(1)
	if existed {
		generation = e.generation + 1
	}

	exp := time.Time{}
	if ttl == NoExpiration {
		if c.defaultTTL != NoExpiration {
			exp = time.Now().Add(c.defaultTTL)
		}
	} else {
		exp = time.Now().Add(ttl)
	}

	sh.entries[slot] = &entry{buf: owned, generation: generation, expiresAt: exp}
	c.count.Add(1)
	return encodeHandle(shardIdx, slot, generation)
}

// evictLocked drops the first unpinned, dead-or-expired entry it finds.
// Called with sh.mu held.
func (c *Cache) evictLocked(sh *shard) {
	now := time.Now()
	for slot, e := range sh.entries {
		if e.pins > 0 {
			continue
		}
		if e.dead || (!e.expiresAt.IsZero() && now.After(e.expiresAt)) {
			delete(sh.entries, slot)
			c.count.Add(-1)
			return
		}
	}
}

// Reference pins and returns a borrowed view of the blob named by h.
// Returns ok=false on a miss: unknown handle, stale generation, TTL expiry,
// or an invalidated-and-already-reclaimed entry. The caller must call
// Release exactly once for every successful Reference.
func (c *Cache) Reference(h Handle) (buf []byte, ok bool) {
	shardIdx, slot, generation := decodeHandle(h)
	if shardIdx >= shardCount {
		return nil, false
	}
	sh := c.shards[shardIdx]

	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, found := sh.entries[slot]
	if !found || e.generation != generation || e.dead {
		return nil, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		// TTL expiry counts as a miss; reclaim now if nothing else pins it.
		if e.pins == 0 {
			delete(sh.entries, slot)
			c.count.Add(-1)
		} else {
			e.dead = true
		}
		return nil, false
	}

	e.pins++
	return e.buf, true
}

// Release drops one pin acquired by Reference. If the entry was
// invalidated while pinned, the last Release reclaims it.
func (c *Cache) Release(h Handle) {
	shardIdx, slot, generation := decodeHandle(h)
	if shardIdx >= shardCount {
		return
	}
	sh := c.shards[shardIdx]

	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, found := sh.entries[slot]
	if !found || e.generation != generation {
		return
	}
	if e.pins > 0 {
		e.pins--
	}
	if e.dead && e.pins == 0 {
		delete(sh.entries, slot)
		c.count.Add(-1)
	}
}

// Invalidate marks the entry dead. If unpinned, it is reclaimed
// immediately; otherwise reclamation is deferred to the last Release.
func (c *Cache) Invalidate(h Handle) {
	shardIdx, slot, generation := decodeHandle(h)
	if shardIdx >= shardCount {
		return
	}
	sh := c.shards[shardIdx]

	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, found := sh.entries[slot]
	if !found || e.generation != generation {
		return
	}
	if e.pins == 0 {
		delete(sh.entries, slot)
		c.count.Add(-1)
		return
	}
	e.dead = true
}

// Len reports the current number of live entries, for metrics/diagnostics.
func (c *Cache) Len() int {
	return int(c.count.Load())
}

func init() {
	logger.Debug("engine metadata cache package initialized", "shards", shardCount)
}
