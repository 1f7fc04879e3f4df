package cooldown

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(ttl time.Duration, max int) (*Cache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	c := New(ttl, max)
	c.now = clock.Now
	return c, clock
}

func TestCache_MarkAndExpire(t *testing.T) {
	c, clock := newTestCache(time.Minute, 0)

	if c.Seen("evt_1") {
		t.Fatal("expected unseen key")
	}
	c.Mark("evt_1")
	if !c.Seen("evt_1") {
		t.Fatal("expected key to be seen after Mark")
	}

	clock.Advance(59 * time.Second)
	if !c.Seen("evt_1") {
		t.Error("expected key to be seen before TTL")
	}

	clock.Advance(time.Second)
	if c.Seen("evt_1") {
		t.Error("expected key to expire at TTL")
	}
}

func TestCache_TryAcquire(t *testing.T) {
	c, clock := newTestCache(10*time.Second, 0)

	if !c.TryAcquire("cs_1") {
		t.Fatal("first acquire should succeed")
	}
	if c.TryAcquire("cs_1") {
		t.Fatal("second acquire within TTL should fail")
	}
	clock.Advance(10 * time.Second)
	if !c.TryAcquire("cs_1") {
		t.Fatal("acquire after TTL should succeed")
	}
}

func TestCache_Sweep(t *testing.T) {
	c, clock := newTestCache(time.Minute, 0)
	c.Mark("a")
	clock.Advance(30 * time.Second)
	c.Mark("b")
	clock.Advance(40 * time.Second)

	if removed := c.Sweep(); removed != 1 {
		t.Errorf("Sweep() removed %d, want 1", removed)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
	if !c.Seen("b") {
		t.Error("expected b to survive sweep")
	}
}

func TestCache_BoundedEvictsOldest(t *testing.T) {
	c, clock := newTestCache(time.Hour, 3)
	for i := 0; i < 3; i++ {
		c.Mark(fmt.Sprintf("k%d", i))
		clock.Advance(time.Second)
	}
	c.Mark("k3")

	if c.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", c.Len())
	}
	if c.Seen("k0") {
		t.Error("expected oldest key to be evicted")
	}
	for _, k := range []string{"k1", "k2", "k3"} {
		if !c.Seen(k) {
			t.Errorf("expected %s to remain", k)
		}
	}
}

func TestCache_RemarkDoesNotEvict(t *testing.T) {
	c, _ := newTestCache(time.Hour, 2)
	c.Mark("a")
	c.Mark("b")
	c.Mark("a")
	if !c.Seen("b") {
		t.Error("re-marking an existing key must not evict another")
	}
}

func TestCache_Concurrent(t *testing.T) {
	c := New(time.Minute, 100)
	var wg sync.WaitGroup
	acquired := make(chan string, 1000)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("k%d", j%20)
				if c.TryAcquire(key) {
					acquired <- key
				}
			}
		}()
	}
	wg.Wait()
	close(acquired)

	seen := make(map[string]int)
	for k := range acquired {
		seen[k]++
	}
	for k, n := range seen {
		if n != 1 {
			t.Errorf("key %s acquired %d times, want 1", k, n)
		}
	}
	if len(seen) != 20 {
		t.Errorf("acquired %d distinct keys, want 20", len(seen))
	}
}

func TestCache_RunStopsOnCancel(t *testing.T) {
	c := New(time.Millisecond, 0)
	c.Mark("a")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for c.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c.Len() != 0 {
		t.Error("expected background sweep to remove expired entry")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
