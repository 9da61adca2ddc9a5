package cache

import (
	"fmt"
	"testing"
	"time"
)

func TestGetSet(t *testing.T) {
	c := New[string, int](Config{MaxItems: 10, DefaultTTL: time.Minute})

	if _, ok := c.Get("a"); ok {
		t.Fatal("unexpected hit on empty cache")
	}
	c.Set("a", 1, 0)
	got, ok := c.Get("a")
	if !ok || got != 1 {
		t.Fatalf("Get(a) = %d, %v", got, ok)
	}

	c.Set("a", 2, 0)
	if got, _ := c.Get("a"); got != 2 {
		t.Fatalf("Get(a) after overwrite = %d", got)
	}
	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}
}

func TestTTLExpiry(t *testing.T) {
	c := New[string, string](Config{MaxItems: 10, DefaultTTL: time.Minute})

	c.Set("k", "v", 10*time.Millisecond)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("entry expired immediately")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatal("entry survived past its TTL")
	}
	if c.Len() != 0 {
		t.Fatalf("Len after expiry = %d", c.Len())
	}
}

func TestLRUEviction(t *testing.T) {
	c := New[int, int](Config{MaxItems: 3, DefaultTTL: time.Minute})

	for i := 0; i < 3; i++ {
		c.Set(i, i, 0)
	}
	// Touch 0 so 1 becomes the eviction candidate.
	c.Get(0)
	c.Set(3, 3, 0)

	if _, ok := c.Get(1); ok {
		t.Fatal("least recently used entry survived eviction")
	}
	for _, key := range []int{0, 2, 3} {
		if _, ok := c.Get(key); !ok {
			t.Fatalf("entry %d evicted unexpectedly", key)
		}
	}
}

func TestRemove(t *testing.T) {
	c := New[string, int](Config{MaxItems: 10, DefaultTTL: time.Minute})
	c.Set("a", 1, 0)
	c.Remove("a")
	if _, ok := c.Get("a"); ok {
		t.Fatal("entry survived Remove")
	}
	// Removing a missing key is a no-op.
	c.Remove("b")
}

func TestStats(t *testing.T) {
	c := New[string, int](Config{MaxItems: 10, DefaultTTL: time.Minute})
	c.Set("a", 1, 0)
	c.Get("a")
	c.Get("a")
	c.Get("missing")

	hits, misses := c.Stats()
	if hits != 2 || misses != 1 {
		t.Fatalf("Stats = %d hits, %d misses", hits, misses)
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New[string, int](Config{MaxItems: 100, DefaultTTL: time.Minute})

	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", i%50)
				c.Set(key, g, 0)
				c.Get(key)
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}
	if c.Len() > 100 {
		t.Fatalf("Len = %d exceeds max", c.Len())
	}
}
