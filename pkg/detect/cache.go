package detect

import (
	"sync"
)

// SelectorCache caches detection results per host so a listing is not re-detected on every page
type SelectorCache struct {
	mu    sync.RWMutex
	cache map[string]DetectionResult
}

// NewSelectorCache creates a new selector cache
func NewSelectorCache() *SelectorCache {
	return &SelectorCache{
		cache: make(map[string]DetectionResult),
	}
}

func (c *SelectorCache) Get(key string) (DetectionResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result, ok := c.cache[key]
	return result, ok
}

func (c *SelectorCache) Set(key string, result DetectionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = result
}

// Clear removes all cached entries
func (c *SelectorCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]DetectionResult)
}

func (c *SelectorCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}
