// ABOUTME: Tests for the seen-message cache.
// ABOUTME: Validates TTL expiry, size eviction, atomic check-and-remember, and concurrency.

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestCacheSeenOrRemember(t *testing.T) {
	t.Run("first sighting is not a duplicate", func(t *testing.T) {
		c := New(time.Minute, 100)

		if c.SeenOrRemember(Key("personal", "msg-1")) {
			t.Error("first sighting reported as seen")
		}
		if !c.SeenOrRemember(Key("personal", "msg-1")) {
			t.Error("second sighting not reported as seen")
		}
	})

	t.Run("keys are scoped per session", func(t *testing.T) {
		c := New(time.Minute, 100)

		c.SeenOrRemember(Key("a", "msg-1"))
		if c.SeenOrRemember(Key("b", "msg-1")) {
			t.Error("same message id in another session reported as seen")
		}
	})

	t.Run("expired keys are forgotten", func(t *testing.T) {
		c := New(10*time.Millisecond, 100)

		c.SeenOrRemember("k")
		time.Sleep(25 * time.Millisecond)
		if c.SeenOrRemember("k") {
			t.Error("expired key still reported as seen")
		}
	})
}

func TestCacheSeen(t *testing.T) {
	c := New(time.Minute, 100)

	if c.Seen("k") {
		t.Error("unseen key reported as seen")
	}
	c.SeenOrRemember("k")
	if !c.Seen("k") {
		t.Error("remembered key not reported as seen")
	}
}

func TestCacheEviction(t *testing.T) {
	t.Run("oldest entry is evicted at capacity", func(t *testing.T) {
		c := New(time.Minute, 3)

		for i := 0; i < 4; i++ {
			c.SeenOrRemember(fmt.Sprintf("k%d", i))
		}

		if c.Len() != 3 {
			t.Fatalf("expected 3 entries, got %d", c.Len())
		}
		if c.Seen("k0") {
			t.Error("oldest key should have been evicted")
		}
		if !c.Seen("k3") {
			t.Error("newest key should be present")
		}
	})

	t.Run("refresh protects a key from eviction", func(t *testing.T) {
		c := New(time.Minute, 3)

		c.SeenOrRemember("k0")
		c.SeenOrRemember("k1")
		c.SeenOrRemember("k2")
		c.SeenOrRemember("k0") // refresh, k1 becomes oldest
		c.SeenOrRemember("k3")

		if !c.Seen("k0") {
			t.Error("refreshed key was evicted")
		}
		if c.Seen("k1") {
			t.Error("expected k1 to be evicted")
		}
	})

	t.Run("expired entries are pruned on insert", func(t *testing.T) {
		c := New(10*time.Millisecond, 100)

		c.SeenOrRemember("old1")
		c.SeenOrRemember("old2")
		time.Sleep(25 * time.Millisecond)
		c.SeenOrRemember("new")

		if c.Len() != 1 {
			t.Errorf("expected expired entries pruned, got %d entries", c.Len())
		}
	})
}

func TestCacheConcurrency(t *testing.T) {
	c := New(time.Minute, 1000)
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.SeenOrRemember(Key("s", fmt.Sprintf("%d-%d", n, j)))
				c.Seen(Key("s", fmt.Sprintf("%d-%d", n, j)))
			}
		}(i)
	}
	wg.Wait()

	if c.Len() != 1000 {
		t.Errorf("expected 1000 entries, got %d", c.Len())
	}
}
