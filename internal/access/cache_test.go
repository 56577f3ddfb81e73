package access

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/majorcontext/rampart/internal/event"
)

func TestCacheDo(t *testing.T) {
	c := NewCache()
	key := Key{Op: event.OpOpen, Path: "/work/a"}

	var calls atomic.Int32
	fn := func() CheckResult {
		calls.Add(1)
		return CheckResult{Allowed: true, Report: true}
	}

	r1, hit1 := c.Do(key, fn)
	r2, hit2 := c.Do(key, fn)

	if hit1 {
		t.Error("first Do should not be a hit")
	}
	if !hit2 {
		t.Error("second Do should be a hit")
	}
	if r1 != r2 {
		t.Errorf("results differ: %+v vs %+v", r1, r2)
	}
	if calls.Load() != 1 {
		t.Errorf("fn ran %d times, want 1", calls.Load())
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestCacheDo_ConcurrentSingleExecution(t *testing.T) {
	c := NewCache()
	key := Key{Op: event.OpOpen, Path: "/work/hot"}

	var calls atomic.Int32
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			c.Do(key, func() CheckResult {
				calls.Add(1)
				return CheckResult{Allowed: true}
			})
		}()
	}
	close(start)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("fn ran %d times under contention, want exactly 1", calls.Load())
	}
}

func TestCacheKeysAreScoped(t *testing.T) {
	c := NewCache()
	run := func() CheckResult { return CheckResult{} }

	c.Do(Key{Op: event.OpOpen, Path: "/a"}, run)
	c.Do(Key{Op: event.OpWrite, Path: "/a"}, run)
	c.Do(Key{Op: event.OpOpen, Path: "/b"}, run)

	if c.Len() != 3 {
		t.Errorf("Len = %d, want 3 distinct keys", c.Len())
	}
}
