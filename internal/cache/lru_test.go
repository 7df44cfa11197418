package cache

import (
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
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type evictLog struct {
	mu      sync.Mutex
	keys    []string
	reasons []EvictReason
}

func (l *evictLog) record(key string, _ int, reason EvictReason) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	l.reasons = append(l.reasons, reason)
}

func TestLRUCapacityEviction(t *testing.T) {
	var log evictLog
	c := NewLRUCache[int](2, time.Minute, WithEvictFunc[int](log.record))

	c.Set("a", 1)
	c.Set("b", 2)
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a")
	}
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Fatal("b should have been evicted as least recently used")
	}
	if c.Size() != 2 {
		t.Fatalf("expected size 2, got %d", c.Size())
	}
	if len(log.keys) != 1 || log.keys[0] != "b" || log.reasons[0] != EvictCapacity {
		t.Fatalf("unexpected evictions: %v %v", log.keys, log.reasons)
	}
}

func TestLRUExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	var log evictLog
	c := NewLRUCache[int](10, time.Minute, WithEvictFunc[int](log.record), WithClock[int](clock.Now))

	c.Set("a", 1)
	c.Set("b", 2)
	clock.Advance(2 * time.Minute)

	if _, ok := c.Get("a"); ok {
		t.Fatal("a should be expired")
	}
	if n := c.CleanExpired(); n != 1 {
		t.Fatalf("expected 1 cleaned entry, got %d", n)
	}
	if c.Size() != 0 {
		t.Fatalf("expected empty cache, got %d", c.Size())
	}
	for _, r := range log.reasons {
		if r != EvictExpired {
			t.Fatalf("unexpected reason %v", r)
		}
	}
	if len(log.keys) != 2 {
		t.Fatalf("expected 2 evictions, got %v", log.keys)
	}
}

func TestLRUSlidingTTL(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := NewLRUCache[int](10, time.Minute, WithSlidingTTL[int](), WithClock[int](clock.Now))

	c.Set("a", 1)
	for range 5 {
		clock.Advance(40 * time.Second)
		if _, ok := c.Get("a"); !ok {
			t.Fatal("sliding entry expired while in use")
		}
	}
	clock.Advance(61 * time.Second)
	if _, ok := c.Get("a"); ok {
		t.Fatal("idle entry should expire")
	}
}

func TestLRUDeleteAndReplace(t *testing.T) {
	var log evictLog
	c := NewLRUCache[int](10, time.Minute, WithEvictFunc[int](log.record))

	c.Set("a", 1)
	c.Set("a", 2)
	if v, _ := c.Get("a"); v != 2 {
		t.Fatalf("expected replaced value 2, got %d", v)
	}
	if !c.Delete("a") {
		t.Fatal("expected delete to report presence")
	}
	if c.Delete("a") {
		t.Fatal("second delete should report absence")
	}
	want := []EvictReason{EvictReplaced, EvictDeleted}
	if len(log.reasons) != len(want) {
		t.Fatalf("unexpected evictions %v", log.reasons)
	}
	for i := range want {
		if log.reasons[i] != want[i] {
			t.Fatalf("eviction %d: got %v want %v", i, log.reasons[i], want[i])
		}
	}
}

func TestLRUPurge(t *testing.T) {
	var log evictLog
	c := NewLRUCache[int](10, time.Minute, WithEvictFunc[int](log.record))
	c.Set("a", 1)
	c.Set("b", 2)
	if n := c.Purge(); n != 2 {
		t.Fatalf("expected 2 purged, got %d", n)
	}
	if c.Size() != 0 || len(log.keys) != 2 {
		t.Fatalf("purge incomplete: size=%d evictions=%v", c.Size(), log.keys)
	}
}

func TestEvictCallbackMayReenterCache(t *testing.T) {
	var c *LRUCache[int]
	c = NewLRUCache[int](1, time.Minute, WithEvictFunc[int](func(key string, _ int, _ EvictReason) {
		_ = c.Size()
	}))
	c.Set("a", 1)
	c.Set("b", 2)
	c.Delete("b")
}

func TestManagerCleanup(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := NewLRUCache[int](10, time.Second, WithClock[int](clock.Now))
	c.Set("a", 1)
	clock.Advance(time.Minute)

	m := NewManager(nil)
	m.Register(c)
	m.StartCleanup(5 * time.Millisecond)
	defer m.Stop()

	deadline := time.Now().Add(time.Second)
	for c.Size() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("manager did not clean expired entries")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestManagerStopWithoutStart(t *testing.T) {
	m := NewManager(nil)
	m.Stop()
	m.Stop()
}

func TestManagerCleanAllWithCleanerFunc(t *testing.T) {
	m := NewManager(nil)
	calls := 0
	m.Register(CleanerFunc(func() int {
		calls++
		return 3
	}))
	if got := m.CleanAll(); got != 3 || calls != 1 {
		t.Fatalf("CleanAll = %d, calls = %d", got, calls)
	}
}
