package memcache

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestCache(ttl time.Duration, capacity int) (*Cache, *time.Time) {
	c := New(ttl, capacity, zerolog.Nop())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestGetSet(t *testing.T) {
	c, _ := newTestCache(time.Minute, 10)

	if _, ok := c.Get(Key("u1", "")); ok {
		t.Fatal("unexpected hit on empty cache")
	}
	c.Set(Key("u1", ""), "blob")
	got, ok := c.Get(Key("u1", ""))
	if !ok || got != "blob" {
		t.Fatalf("got %q ok=%v", got, ok)
	}
}

func TestGet_ExpiredEntryEvicted(t *testing.T) {
	c, now := newTestCache(time.Minute, 10)

	c.Set(Key("u1", ""), "blob")
	*now = now.Add(61 * time.Second)

	if _, ok := c.Get(Key("u1", "")); ok {
		t.Fatal("expired entry returned")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry not evicted, len=%d", c.Len())
	}
}

func TestSet_CapacityEvictsOldest(t *testing.T) {
	c, now := newTestCache(time.Hour, 2)

	c.Set("u1:latest", "a")
	*now = now.Add(time.Second)
	c.Set("u2:latest", "b")
	*now = now.Add(time.Second)
	c.Set("u3:latest", "c")

	if c.Len() != 2 {
		t.Fatalf("len = %d, want 2", c.Len())
	}
	if _, ok := c.Get("u1:latest"); ok {
		t.Error("oldest entry survived capacity eviction")
	}
	if _, ok := c.Get("u3:latest"); !ok {
		t.Error("newest entry missing")
	}
}

func TestSet_RefreshDoesNotEvict(t *testing.T) {
	c, now := newTestCache(time.Hour, 2)

	c.Set("u1:latest", "a")
	*now = now.Add(time.Second)
	c.Set("u2:latest", "b")
	*now = now.Add(time.Second)
	c.Set("u1:latest", "a2")

	if c.Len() != 2 {
		t.Fatalf("refresh changed cardinality: %d", c.Len())
	}
	got, _ := c.Get("u1:latest")
	if got != "a2" {
		t.Errorf("refresh lost: %q", got)
	}
}

func TestInvalidate_PrefixOnly(t *testing.T) {
	c, _ := newTestCache(time.Hour, 10)

	c.Set(Key("u1", ""), "a")
	c.Set(Key("u1", "v2"), "b")
	c.Set(Key("u10", ""), "c")

	if n := c.Invalidate("u1"); n != 2 {
		t.Fatalf("invalidated %d, want 2", n)
	}
	if _, ok := c.Get(Key("u10", "")); !ok {
		t.Error("unrelated user evicted")
	}
}

func TestSweep(t *testing.T) {
	c, now := newTestCache(time.Minute, 10)

	c.Set("u1:latest", "a")
	*now = now.Add(30 * time.Second)
	c.Set("u2:latest", "b")
	*now = now.Add(45 * time.Second)

	if n := c.Sweep(); n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	if _, ok := c.Get("u2:latest"); !ok {
		t.Error("fresh entry swept")
	}
}

func TestKey(t *testing.T) {
	if Key("u1", "") != "u1:latest" {
		t.Errorf("default token: %q", Key("u1", ""))
	}
	if Key("u1", "v7") != "u1:v7" {
		t.Errorf("explicit token: %q", Key("u1", "v7"))
	}
}
