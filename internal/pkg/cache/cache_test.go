package cache

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func TestGetExpires(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	c := New[string, int](5 * time.Second).WithClock(clk.now)
	c.Set("balance", 42)

	if v, ok := c.Get("balance"); !ok || v != 42 {
		t.Fatalf("fresh get = %v,%v", v, ok)
	}
	clk.t = clk.t.Add(5 * time.Second)
	if _, ok := c.Get("balance"); !ok {
		t.Fatalf("entry at exactly ttl should still be fresh")
	}
	clk.t = clk.t.Add(time.Millisecond)
	if _, ok := c.Get("balance"); ok {
		t.Fatalf("entry should be expired")
	}
	if v, ok := c.Stale("balance"); !ok || v != 42 {
		t.Fatalf("stale should still return last value")
	}
	if n := c.Purge(); n != 1 || c.Len() != 0 {
		t.Fatalf("purge removed %d, len=%d", n, c.Len())
	}
}

func TestZeroTTLNeverExpires(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	c := New[int, string](0).WithClock(clk.now)
	c.Set(1, "x")
	clk.t = clk.t.Add(24 * time.Hour)
	if v, ok := c.Get(1); !ok || v != "x" {
		t.Fatalf("zero ttl entry expired")
	}
	c.Delete(1)
	if _, ok := c.Get(1); ok {
		t.Fatalf("delete failed")
	}
}

func TestNilCacheIsSafe(t *testing.T) {
	var c *Cache[string, int]
	c.Set("a", 1)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("nil cache returned value")
	}
	if c.Len() != 0 || c.Purge() != 0 {
		t.Fatalf("nil cache len/purge")
	}
}
