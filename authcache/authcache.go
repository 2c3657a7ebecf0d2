// Package authcache is a bounded, TTL-bounded lookup from a tag UID to the
// authorization the cloud handed out for it. It is owned exclusively by the
// Tag Verifier (spec §4.8) and is not safe for concurrent use, matching the
// Verifier's single-threaded main-dispatcher ownership.
package authcache

import "github.com/werkstattwaedi/machine-auth-sub000/sysclock"

// DefaultCapacity and DefaultTTLSeconds are the spec §4.8 defaults: human-
// scale re-tap cadence and minimal per-entry state make an 8-slot fixed
// cache with a 4h TTL sufficient.
const (
	DefaultCapacity  = 8
	DefaultTTLSeconds = 4 * 60 * 60
)

// Entry is the cached authorization for one tag UID.
type Entry struct {
	AuthID     string
	UserLabel  string
	InsertedAt int64 // epoch seconds
}

type slot struct {
	key   [7]byte
	entry Entry
}

// Cache is a fixed-capacity, oldest-inserted-eviction cache keyed by the
// tag's real 7-byte UID.
type Cache struct {
	clock      sysclock.Wall
	capacity   int
	ttlSeconds int64
	order      []slot // index 0 is the oldest insertion
}

// New constructs a Cache with the given capacity and TTL, backed by clock
// for both TTL expiry and InsertedAt stamping.
func New(clock sysclock.Wall, capacity int, ttlSeconds int64) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttlSeconds <= 0 {
		ttlSeconds = DefaultTTLSeconds
	}
	return &Cache{
		clock:      clock,
		capacity:   capacity,
		ttlSeconds: ttlSeconds,
		order:      make([]slot, 0, capacity),
	}
}

// NewDefault constructs a Cache with the spec-default capacity and TTL.
func NewDefault(clock sysclock.Wall) *Cache {
	return New(clock, DefaultCapacity, DefaultTTLSeconds)
}

func (c *Cache) indexOf(uid [7]byte) int {
	for i := range c.order {
		if c.order[i].key == uid {
			return i
		}
	}
	return -1
}

// Get returns the cached entry for uid, or (_, false) on a miss. An expired
// entry is treated as a miss and removed lazily.
func (c *Cache) Get(uid [7]byte) (Entry, bool) {
	i := c.indexOf(uid)
	if i < 0 {
		return Entry{}, false
	}
	e := c.order[i].entry
	if c.clock.NowEpochSeconds()-e.InsertedAt > c.ttlSeconds {
		c.order = append(c.order[:i], c.order[i+1:]...)
		return Entry{}, false
	}
	return e, true
}

// Put inserts or updates the entry for uid. Updating an existing key
// preserves its position in the insertion order (it is not treated as a
// fresh insertion for eviction purposes, matching spec §4.8 "insertion
// updates the entry if present"). Overflow on a genuinely new key evicts
// the oldest-inserted entry.
func (c *Cache) Put(uid [7]byte, entry Entry) {
	entry.InsertedAt = c.clock.NowEpochSeconds()
	if i := c.indexOf(uid); i >= 0 {
		c.order[i].entry = entry
		return
	}
	if len(c.order) >= c.capacity {
		c.order = c.order[1:]
	}
	c.order = append(c.order, slot{key: uid, entry: entry})
}

// Len returns the number of entries currently held, including any not yet
// lazily expired.
func (c *Cache) Len() int { return len(c.order) }
