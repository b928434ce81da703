package cache

import (
	"testing"
	"time"
)

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCache(maxSize int) (*Cache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	c := New(maxSize)
	c.now = clock.now
	return c, clock
}

func TestGetMissingReturnsNil(t *testing.T) {
	c, _ := newTestCache(0)
	if v := c.Get("nope"); v != nil {
		t.Fatalf("expected nil for missing key, got %v", v)
	}
	if s := c.Stats(); s.Misses != 1 {
		t.Fatalf("expected 1 miss, got %d", s.Misses)
	}
}

func TestSetGetWithinTTL(t *testing.T) {
	c, _ := newTestCache(0)
	c.Set("k", "v", time.Minute)
	if v := c.Get("k"); v != "v" {
		t.Fatalf("expected v, got %v", v)
	}
	if s := c.Stats(); s.Hits != 1 || s.Sets != 1 {
		t.Fatalf("unexpected stats: %+v", s)
	}
}

func TestExpiredEntryDeletedOnGet(t *testing.T) {
	c, clock := newTestCache(0)
	c.Set("k", "v", time.Minute)
	clock.advance(2 * time.Minute)

	if v := c.Get("k"); v != nil {
		t.Fatalf("expected nil after expiry, got %v", v)
	}
	if c.Size() != 0 {
		t.Fatalf("expected lazy delete on expired get, size = %d", c.Size())
	}
	if s := c.Stats(); s.Misses != 1 {
		t.Fatalf("expected expiry to count as miss, got %d", s.Misses)
	}
}

func TestHasDoesNotCountStats(t *testing.T) {
	c, clock := newTestCache(0)
	c.Set("k", "v", time.Minute)
	if !c.Has("k") {
		t.Fatal("expected Has to be true")
	}
	clock.advance(2 * time.Minute)
	if c.Has("k") {
		t.Fatal("expected Has to be false after expiry")
	}
	if c.Size() != 0 {
		t.Fatal("expected Has to lazily delete the expired entry")
	}
	if s := c.Stats(); s.Hits != 0 || s.Misses != 0 {
		t.Fatalf("Has must not touch hit/miss counters: %+v", s)
	}
}

func TestEvictionPicksSoonestExpiry(t *testing.T) {
	c, _ := newTestCache(2)
	c.Set("short", 1, time.Minute)
	c.Set("long", 2, time.Hour)
	c.Set("new", 3, 30*time.Minute)

	if c.Has("short") {
		t.Fatal("expected the soonest-expiring entry to be evicted")
	}
	if !c.Has("long") || !c.Has("new") {
		t.Fatal("expected surviving entries to remain")
	}
	if s := c.Stats(); s.Evictions != 1 {
		t.Fatalf("expected 1 eviction, got %d", s.Evictions)
	}
}

func TestOverwriteExistingKeyDoesNotEvict(t *testing.T) {
	c, _ := newTestCache(2)
	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)
	c.Set("a", 10, time.Minute)

	if s := c.Stats(); s.Evictions != 0 {
		t.Fatalf("overwriting a key must not evict, got %d evictions", s.Evictions)
	}
	if v := c.Get("a"); v != 10 {
		t.Fatalf("expected overwritten value 10, got %v", v)
	}
}

func TestInvalidateByTag(t *testing.T) {
	c, _ := newTestCache(0)
	c.Set("tasks", 1, time.Minute, "tasks")
	c.Set("task:a", 2, time.Minute, "tasks", "task:a")
	c.Set("stats", 3, time.Minute, "stats")

	if n := c.InvalidateByTag("tasks"); n != 2 {
		t.Fatalf("expected 2 invalidated, got %d", n)
	}
	if c.Has("tasks") || c.Has("task:a") {
		t.Fatal("expected tagged entries to be gone")
	}
	if !c.Has("stats") {
		t.Fatal("expected untagged entry to survive")
	}
}

func TestCleanupRemovesOnlyExpired(t *testing.T) {
	c, clock := newTestCache(0)
	c.Set("old", 1, time.Minute)
	c.Set("fresh", 2, time.Hour)
	clock.advance(2 * time.Minute)

	if n := c.Cleanup(); n != 1 {
		t.Fatalf("expected 1 removed, got %d", n)
	}
	if !c.Has("fresh") {
		t.Fatal("expected fresh entry to survive cleanup")
	}
}

func TestExtendTTL(t *testing.T) {
	c, clock := newTestCache(0)
	c.Set("k", "v", time.Hour)
	clock.advance(10 * time.Minute)

	// Extension adds to the remaining lifetime, it does not rebase it.
	if !c.ExtendTTL("k", time.Minute) {
		t.Fatal("expected extend to succeed on live entry")
	}
	if left := c.TimeLeft("k"); left != 51*time.Minute {
		t.Fatalf("expected 51m left, got %s", left)
	}
	clock.advance(30 * time.Minute)
	if v := c.Get("k"); v != "v" {
		t.Fatal("expected entry to survive after extension")
	}

	clock.advance(2 * time.Hour)
	if c.ExtendTTL("k", time.Hour) {
		t.Fatal("expected extend to fail on expired entry")
	}
	if c.ExtendTTL("missing", time.Hour) {
		t.Fatal("expected extend to fail on missing key")
	}
}

func TestTimeLeft(t *testing.T) {
	c, clock := newTestCache(0)
	c.Set("k", "v", time.Minute)
	clock.advance(20 * time.Second)

	if left := c.TimeLeft("k"); left != 40*time.Second {
		t.Fatalf("expected 40s left, got %s", left)
	}
	if left := c.TimeLeft("missing"); left != 0 {
		t.Fatalf("expected 0 for missing key, got %s", left)
	}
}

func TestKeysSkipsExpired(t *testing.T) {
	c, clock := newTestCache(0)
	c.Set("live", 1, time.Hour)
	c.Set("dead", 2, time.Minute)
	clock.advance(2 * time.Minute)

	keys := c.Keys()
	if len(keys) != 1 || keys[0] != "live" {
		t.Fatalf("expected [live], got %v", keys)
	}
}

func TestClearPreservesCounters(t *testing.T) {
	c, _ := newTestCache(0)
	c.Set("a", 1, time.Minute)
	c.Get("a")
	c.Clear()

	if c.Size() != 0 {
		t.Fatal("expected empty cache after clear")
	}
	if s := c.Stats(); s.Hits != 1 || s.Sets != 1 {
		t.Fatalf("expected counters preserved across clear: %+v", s)
	}
}

func TestHitRate(t *testing.T) {
	c, _ := newTestCache(0)
	c.Set("k", "v", time.Minute)
	c.Get("k")
	c.Get("k")
	c.Get("missing")
	c.Get("missing")

	if s := c.Stats(); s.HitRate != 0.5 {
		t.Fatalf("expected hit rate 0.5, got %f", s.HitRate)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	c := New(0)
	c.interval = 10 * time.Millisecond
	c.Start()
	c.Start()
	time.Sleep(25 * time.Millisecond)
	c.Stop()
	c.Stop()
}
