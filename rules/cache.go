package rules

import "time"

// RulesCache caches each tenant's active, priority-sorted rule list.
// This allows swapping between in-memory, Redis, or other caching implementations.
type RulesCache interface {
	// Get retrieves a tenant's cached rules, returns nil on a miss or expiry
	Get(tenantID string) []*Rule

	// Set stores a tenant's rules
	Set(tenantID string, rules []*Rule)

	// Invalidate drops a tenant's entry, forcing a reload on next Get
	Invalidate(tenantID string)

	// IsValid returns true if the tenant has a live entry
	IsValid(tenantID string) bool
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries
	// Set to 0 for no expiration (manual invalidation only)
	TTL time.Duration

	// CleanupInterval is how often expired entries are purged
	CleanupInterval time.Duration
}

// DefaultCacheConfig returns sensible defaults for rule caching
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:             0, // No TTL - only invalidate on mutations
		CleanupInterval: 10 * time.Minute,
	}
}
