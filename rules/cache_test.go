package rules

import (
	"testing"
	"time"
)

func TestInMemoryRulesCache(t *testing.T) {
	cache := NewInMemoryRulesCache(DefaultCacheConfig())

	if cache.Get("tenant-a") != nil || cache.IsValid("tenant-a") {
		t.Fatal("empty cache should miss")
	}

	cache.Set("tenant-a", []*Rule{newRule("r1", 1), newRule("r2", 2)})
	cache.Set("tenant-b", []*Rule{})

	got := cache.Get("tenant-a")
	if len(got) != 2 || got[0].ID != "r1" {
		t.Fatalf("Get(tenant-a) = %v", got)
	}

	// an empty rule list is a hit, not a miss
	if b := cache.Get("tenant-b"); b == nil || len(b) != 0 {
		t.Errorf("Get(tenant-b) = %v, want empty non-nil", b)
	}

	got[0] = nil
	if again := cache.Get("tenant-a"); again[0] == nil {
		t.Error("Get() should return a copy of the cached slice")
	}

	cache.Invalidate("tenant-a")
	if cache.IsValid("tenant-a") {
		t.Error("tenant-a should be invalidated")
	}
	if !cache.IsValid("tenant-b") {
		t.Error("invalidating tenant-a should not touch tenant-b")
	}
}

func TestInMemoryRulesCacheTTL(t *testing.T) {
	cache := NewInMemoryRulesCache(CacheConfig{TTL: 20 * time.Millisecond, CleanupInterval: time.Minute})

	cache.Set("t", []*Rule{newRule("r1", 1)})
	if !cache.IsValid("t") {
		t.Fatal("entry should be live right after Set")
	}

	time.Sleep(50 * time.Millisecond)
	if cache.Get("t") != nil {
		t.Error("entry should expire after TTL")
	}
}
