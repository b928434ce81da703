// Package cache provides a mutex-guarded in-memory TTL cache with tag
// invalidation, used to shield the store from repeated list and stats reads.
package cache

import (
	"sync"
	"time"
)

// DefaultCleanupInterval is how often the background sweep runs.
const DefaultCleanupInterval = 60 * time.Second

type entry struct {
	value     any
	expiresAt time.Time
	tags      []string
}

// Stats holds cache hit/miss counters.
type Stats struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Sets      uint64  `json:"sets"`
	Deletes   uint64  `json:"deletes"`
	Evictions uint64  `json:"evictions"`
	Size      int     `json:"size"`
	HitRate   float64 `json:"hit_rate"`
}

// Cache is a bounded TTL cache. Absence is reported by nil/false/zero
// rather than errors; expired entries are deleted lazily on read and by
// the background sweep.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]entry
	maxSize  int
	interval time.Duration

	hits      uint64
	misses    uint64
	sets      uint64
	deletes   uint64
	evictions uint64

	stopCh chan struct{}
	wg     sync.WaitGroup
	now    func() time.Time
}

// New creates a cache bounded at maxSize entries. A maxSize of zero or
// less means unbounded.
func New(maxSize int) *Cache {
	return &Cache{
		entries:  make(map[string]entry),
		maxSize:  maxSize,
		interval: DefaultCleanupInterval,
		now:      time.Now,
	}
}

// Start launches the background cleanup sweep. Safe to call once.
func (c *Cache) Start() {
	c.mu.Lock()
	if c.stopCh != nil {
		c.mu.Unlock()
		return
	}
	c.stopCh = make(chan struct{})
	stop := c.stopCh
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Cleanup()
			case <-stop:
				return
			}
		}
	}()
}

// Stop halts the background sweep and waits for it to exit.
func (c *Cache) Stop() {
	c.mu.Lock()
	stop := c.stopCh
	c.stopCh = nil
	c.mu.Unlock()
	if stop != nil {
		close(stop)
		c.wg.Wait()
	}
}

// Set stores value under key for ttl. When the cache is full and key is
// new, the entry with the soonest expiry is evicted to make room.
func (c *Cache) Set(key string, value any, ttl time.Duration, tags ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && c.maxSize > 0 && len(c.entries) >= c.maxSize {
		c.evictSoonestLocked()
	}
	c.entries[key] = entry{
		value:     value,
		expiresAt: c.now().Add(ttl),
		tags:      tags,
	}
	c.sets++
}

// evictSoonestLocked removes the entry closest to expiry. Caller holds mu.
func (c *Cache) evictSoonestLocked() {
	var victim string
	var soonest time.Time
	for k, e := range c.entries {
		if victim == "" || e.expiresAt.Before(soonest) {
			victim = k
			soonest = e.expiresAt
		}
	}
	if victim != "" {
		delete(c.entries, victim)
		c.evictions++
	}
}

// Get returns the cached value, or nil when the key is missing or
// expired. Expired entries are deleted on the way out.
func (c *Cache) Get(key string) any {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		c.misses++
		return nil
	}
	c.hits++
	return e.value
}

// Has reports whether key holds an unexpired value. Does not count
// toward hit/miss stats.
func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return false
	}
	return true
}

// Delete removes key. Removing an absent key is a no-op.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.deletes++
	}
}

// Clear removes every entry. Counters are preserved.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes += uint64(len(c.entries))
	c.entries = make(map[string]entry)
}

// InvalidateByTag removes every entry carrying tag and returns how many
// were removed.
func (c *Cache) InvalidateByTag(tag string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		for _, t := range e.tags {
			if t == tag {
				delete(c.entries, k)
				c.deletes++
				removed++
				break
			}
		}
	}
	return removed
}

// Cleanup removes every expired entry and returns how many were removed.
func (c *Cache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// ExtendTTL adds ttl to key's existing expiry. Returns false when the
// key is missing or already expired.
func (c *Cache) ExtendTTL(key string, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || c.now().After(e.expiresAt) {
		return false
	}
	e.expiresAt = e.expiresAt.Add(ttl)
	c.entries[key] = e
	return true
}

// TimeLeft returns the remaining lifetime of key, or zero when missing
// or expired.
func (c *Cache) TimeLeft(key string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return 0
	}
	left := e.expiresAt.Sub(c.now())
	if left < 0 {
		return 0
	}
	return left
}

// Keys returns the unexpired keys in no particular order.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	keys := make([]string, 0, len(c.entries))
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			continue
		}
		keys = append(keys, k)
	}
	return keys
}

// Size returns the number of stored entries, expired ones included
// until the next sweep.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Sets:      c.sets,
		Deletes:   c.deletes,
		Evictions: c.evictions,
		Size:      len(c.entries),
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}
