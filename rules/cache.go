package rules

import (
	"sync"
	"time"
)

// RulesCache holds the active rule list of an engine so that resolving a
// draft does not hit the store on every keystroke.
type RulesCache interface {
	// Get returns the cached rules, or nil on a miss or after expiry.
	Get() []*Rule

	// Set replaces the cached rules.
	Set(rules []*Rule)

	// Invalidate clears the cache, forcing a reload on next Get.
	Invalidate()

	// IsValid reports whether Get would hit.
	IsValid() bool
}

// CacheConfig holds configuration for cache behavior.
type CacheConfig struct {
	// TTL is the time-to-live for cached entries.
	// Zero means entries live until invalidated by a rule mutation.
	TTL time.Duration
}

// DefaultCacheConfig keeps rules until a mutation invalidates them.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 0}
}

// InMemoryRulesCache is a RulesCache backed by a slice. Safe for concurrent use.
type InMemoryRulesCache struct {
	rules    []*Rule
	cachedAt time.Time
	config   CacheConfig
	valid    bool
	now      func() time.Time
	mu       sync.RWMutex
}

// NewInMemoryRulesCache creates an empty cache.
func NewInMemoryRulesCache(config CacheConfig) *InMemoryRulesCache {
	return &InMemoryRulesCache{config: config, now: time.Now}
}

func (c *InMemoryRulesCache) fresh() bool {
	if !c.valid {
		return false
	}
	if c.config.TTL > 0 && c.now().Sub(c.cachedAt) > c.config.TTL {
		return false
	}
	return true
}

// Get returns copies of the cached rules.
func (c *InMemoryRulesCache) Get() []*Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.fresh() {
		return nil
	}
	out := make([]*Rule, len(c.rules))
	for i, r := range c.rules {
		out[i] = r.clone()
	}
	return out
}

// Set stores copies of rules.
func (c *InMemoryRulesCache) Set(rules []*Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rules = make([]*Rule, len(rules))
	for i, r := range rules {
		c.rules[i] = r.clone()
	}
	c.cachedAt = c.now()
	c.valid = true
}

// Invalidate drops the cached rules.
func (c *InMemoryRulesCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.valid = false
	c.rules = nil
}

// IsValid reports whether the cache currently holds usable rules.
func (c *InMemoryRulesCache) IsValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fresh()
}
