package factory

import (
	"sync"

	"github.com/die-net/proxysock/internal/settings"
)

// Cache maps destination "host:port" keys to the settings that last worked.
// It is safe for concurrent use. Concurrent callers may race to fill or evict
// the same key; the last write wins.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]settings.Settings
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]settings.Settings)}
}

func (c *Cache) Get(key string) (settings.Settings, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.entries[key]
	return s, ok
}

func (c *Cache) Put(key string, s settings.Settings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = s
}

// Evict removes key and reports whether it was present.
func (c *Cache) Evict(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
