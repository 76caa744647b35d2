package intent

import (
	"sync"
	"time"

	"github.com/sandevgo/percept/internal/core"
)

type cacheEntry struct {
	intent  core.ParsedIntent
	expires time.Time
}

// Cache keeps LLM classifications for a short time, keyed by normalized command.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	now     func() time.Time
}

func NewCache(now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{
		entries: make(map[string]cacheEntry),
		now:     now,
	}
}

func (c *Cache) Get(key string) (core.ParsedIntent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expires) {
		return core.ParsedIntent{}, false
	}
	// Copy so callers cannot mutate the cached params.
	return cloneIntent(e.intent), true
}

// Put stores intent for ttl and drops entries that have expired.
func (c *Cache) Put(key string, intent core.ParsedIntent, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = cacheEntry{intent: cloneIntent(intent), expires: now.Add(ttl)}
}

func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func cloneIntent(in core.ParsedIntent) core.ParsedIntent {
	out := in
	out.Params = make(map[string]any, len(in.Params))
	for k, v := range in.Params {
		out.Params[k] = v
	}
	return out
}
