package cache

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestCache(size int, ttl time.Duration) (*LRUCache[string], *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache[string](size, ttl)
	c.now = clock.now
	return c, clock
}

func TestLRUCache_GetSet(t *testing.T) {
	c, _ := newTestCache(2, time.Minute)

	if _, ok := c.Get("missing"); ok {
		t.Fatal("empty cache returned a hit")
	}
	c.Set("a", "1")
	if v, ok := c.Get("a"); !ok || v != "1" {
		t.Fatalf("Get(a) = %q, %v", v, ok)
	}
	c.Set("a", "2")
	if v, _ := c.Get("a"); v != "2" {
		t.Fatalf("overwrite lost: %q", v)
	}
}

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newTestCache(2, time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")
	c.Get("a")
	c.Set("c", "3")

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a was recently used and should remain")
	}
	if c.Size() != 2 {
		t.Errorf("Size = %d, want 2", c.Size())
	}
}

func TestLRUCache_Expiry(t *testing.T) {
	c, clock := newTestCache(10, time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")

	clock.t = clock.t.Add(2 * time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Error("expired entry returned")
	}
	if n := c.CleanExpired(); n != 1 {
		t.Errorf("CleanExpired = %d, want 1", n)
	}
	if c.Size() != 0 {
		t.Errorf("Size = %d, want 0", c.Size())
	}
}

func TestLRUCache_PurgeRejectsStaleWrites(t *testing.T) {
	c, _ := newTestCache(10, time.Minute)
	c.Set("a", "1")

	gen := c.Generation()
	c.Purge()

	if c.Size() != 0 {
		t.Fatalf("Size after purge = %d", c.Size())
	}
	if c.SetIfGeneration("list", "stale", gen) {
		t.Fatal("write computed before purge was accepted")
	}
	if !c.SetIfGeneration("list", "fresh", c.Generation()) {
		t.Fatal("current generation write was refused")
	}
	if v, ok := c.Get("list"); !ok || v != "fresh" {
		t.Fatalf("Get(list) = %q, %v", v, ok)
	}
}

func TestManager_StopIsIdempotent(t *testing.T) {
	m := NewManager(nil)
	c, _ := newTestCache(1, time.Minute)
	m.Register(c)
	m.StartCleanup(time.Millisecond)
	m.Stop()
	m.Stop()

	unstarted := NewManager(nil)
	unstarted.Stop()
}
