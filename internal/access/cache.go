package access

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/majorcontext/rampart/internal/event"
)

// Key identifies one logical access for de-duplication: the operation plus
// the canonicalized path. The flight key serializes as "<operation>,<path>".
type Key struct {
	Op   event.Kind
	Path string
}

func (k Key) flightKey() string { return fmt.Sprintf("%d,%s", k.Op, k.Path) }

// Cache is a pip-scoped decision cache. The check-then-insert is race-free:
// of any number of concurrent callers racing on the same key, exactly one
// runs the expensive lookup-check-report function; the rest share its
// result. Once inserted, a decision is final for the pip's lifetime.
type Cache struct {
	mu      sync.Mutex
	entries map[Key]CheckResult
	group   singleflight.Group
}

// NewCache creates an empty decision cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[Key]CheckResult)}
}

// Do returns the cached decision for key, or runs fn to produce it. The
// second return is true when the decision came from the cache or from
// another in-flight caller (fn was not run by this call).
func (c *Cache) Do(key Key, fn func() CheckResult) (CheckResult, bool) {
	c.mu.Lock()
	if r, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return r, true
	}
	c.mu.Unlock()

	var ran atomic.Bool
	v, _, _ := c.group.Do(key.flightKey(), func() (any, error) {
		ran.Store(true)
		r := fn()
		c.mu.Lock()
		c.entries[key] = r
		c.mu.Unlock()
		return r, nil
	})
	return v.(CheckResult), !ran.Load()
}

// Len returns the number of distinct logical accesses decided so far.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
