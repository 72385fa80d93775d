package rules

import (
	gocache "github.com/patrickmn/go-cache"
)

const cacheKeyPrefix = "rules:active:v1:"

// InMemoryRulesCache implements RulesCache on top of go-cache.
// Thread-safe for concurrent access.
type InMemoryRulesCache struct {
	cache  *gocache.Cache
	config CacheConfig
}

// NewInMemoryRulesCache creates a new in-memory rules cache
func NewInMemoryRulesCache(config CacheConfig) *InMemoryRulesCache {
	ttl := config.TTL
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &InMemoryRulesCache{
		cache:  gocache.New(ttl, config.CleanupInterval),
		config: config,
	}
}

// Get retrieves a tenant's cached rules.
// Returns nil if the entry is missing or expired.
func (c *InMemoryRulesCache) Get(tenantID string) []*Rule {
	v, ok := c.cache.Get(cacheKeyPrefix + tenantID)
	if !ok {
		return nil
	}
	cached := v.([]*Rule)

	// Return copy to prevent external modifications
	rulesCopy := make([]*Rule, len(cached))
	copy(rulesCopy, cached)
	return rulesCopy
}

// Set stores a tenant's rules. An empty list is cached as a hit.
func (c *InMemoryRulesCache) Set(tenantID string, rules []*Rule) {
	// Store copy to prevent external modifications
	stored := make([]*Rule, len(rules))
	copy(stored, rules)
	c.cache.Set(cacheKeyPrefix+tenantID, stored, gocache.DefaultExpiration)
}

// Invalidate clears a tenant's entry
func (c *InMemoryRulesCache) Invalidate(tenantID string) {
	c.cache.Delete(cacheKeyPrefix + tenantID)
}

// IsValid returns true if the tenant has a live entry
func (c *InMemoryRulesCache) IsValid(tenantID string) bool {
	_, ok := c.cache.Get(cacheKeyPrefix + tenantID)
	return ok
}
