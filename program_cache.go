package hydra

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ProgramCache stores compiled expression programs keyed by source text so
// repeated resolutions skip recompilation. Implementations must be safe for
// concurrent use.
type ProgramCache interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

// MapProgramCache is an unbounded in-memory ProgramCache.
type MapProgramCache struct {
	mu       sync.RWMutex
	programs map[string]any
}

// NewMapProgramCache creates an empty map-backed cache.
func NewMapProgramCache() *MapProgramCache {
	return &MapProgramCache{programs: make(map[string]any)}
}

// Get implements ProgramCache.
func (c *MapProgramCache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	program, ok := c.programs[key]
	return program, ok
}

// Set implements ProgramCache.
func (c *MapProgramCache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.programs[key] = value
}

// Len returns the number of cached programs.
func (c *MapProgramCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.programs)
}

// LRUProgramCache bounds the cache to a fixed number of programs, evicting
// the least recently used entry when full.
type LRUProgramCache struct {
	cache *lru.Cache[string, any]
}

// NewLRUProgramCache creates a bounded cache holding up to size programs.
func NewLRUProgramCache(size int) (*LRUProgramCache, error) {
	cache, err := lru.New[string, any](size)
	if err != nil {
		return nil, err
	}
	return &LRUProgramCache{cache: cache}, nil
}

// Get implements ProgramCache.
func (c *LRUProgramCache) Get(key string) (any, bool) {
	return c.cache.Get(key)
}

// Set implements ProgramCache.
func (c *LRUProgramCache) Set(key string, value any) {
	c.cache.Add(key, value)
}

// Len returns the number of cached programs.
func (c *LRUProgramCache) Len() int {
	return c.cache.Len()
}
