package cache

import (
	"testing"
	"time"
)

func TestTTLCacheExpiresEntries(t *testing.T) {
	c := NewTTLCache[string, int]()

	c.Set("hot", 42, 20*time.Millisecond)
	if got, ok := c.Get("hot"); !ok || got != 42 {
		t.Fatalf("Get(hot) = %d, %v; want 42, true", got, ok)
	}

	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get("hot"); ok {
		t.Fatalf("expected entry to expire")
	}
	if n := c.Len(); n != 0 {
		t.Fatalf("Len() = %d after expiry read, want 0", n)
	}
}

func TestTTLCacheZeroTTLNeverExpires(t *testing.T) {
	c := NewTTLCache[string, string]()

	c.Set("pinned", "value", 0)
	time.Sleep(10 * time.Millisecond)
	if got, ok := c.Get("pinned"); !ok || got != "value" {
		t.Fatalf("Get(pinned) = %q, %v; want value, true", got, ok)
	}
}

func TestTTLCacheDelete(t *testing.T) {
	c := NewTTLCache[string, int]()

	c.Set("a", 1, time.Minute)
	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected deleted entry to be gone")
	}

	var nilCache *TTLCache[string, int]
	if _, ok := nilCache.Get("a"); ok {
		t.Fatalf("nil cache Get should report miss")
	}
	nilCache.Set("a", 1, time.Minute)
	nilCache.Delete("a")
}
