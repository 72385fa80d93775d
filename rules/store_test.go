package rules

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// TestRuleStoreInterfaceExists verifies InMemoryRuleStore implements RuleStore
func TestRuleStoreInterfaceExists(t *testing.T) {
	var _ RuleStore = (*InMemoryRuleStore)(nil)
	var _ RuleStore = (*PostgresRuleStore)(nil)
}

func newRule(id string, priority int) *Rule {
	return &Rule{
		ID:       id,
		Name:     "rule " + id,
		Priority: priority,
		Active:   true,
		ConditionGroups: []ConditionGroup{{
			LogicOperator: LogicAnd,
			Conditions:    []Condition{{Field: "reason", Operator: OpEquals, Value: "defective"}},
		}},
		Actions: Actions{AutoApprove{}},
	}
}

func TestInMemoryRuleStoreAdd(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryRuleStore("tenant-a")

	rule := newRule("r1", 1)
	if err := store.Add(ctx, rule); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	if rule.TenantID != "tenant-a" || rule.Seq != 1 || rule.CreatedAt.IsZero() {
		t.Errorf("Add() should stamp tenant, seq and timestamps: %+v", rule)
	}

	retrieved, err := store.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get() failed after Add(): %v", err)
	}
	if retrieved.Name != rule.Name || retrieved.TenantID != "tenant-a" {
		t.Errorf("retrieved = %+v", retrieved)
	}
}

func TestInMemoryRuleStoreAddDuplicate(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryRuleStore("tenant-a")

	first := newRule("dup", 1)
	second := newRule("dup", 2)
	second.Name = "Second Rule"

	if err := store.Add(ctx, first); err != nil {
		t.Fatalf("first Add() should succeed: %v", err)
	}
	err := store.Add(ctx, second)
	if !errors.Is(err, ErrRuleExists) {
		t.Fatalf("duplicate Add() error = %v, want ErrRuleExists", err)
	}

	retrieved, _ := store.Get(ctx, "dup")
	if retrieved.Name != first.Name {
		t.Errorf("rule should not have been overwritten, Name = %s", retrieved.Name)
	}
}

func TestInMemoryRuleStoreGetNotFound(t *testing.T) {
	_, err := NewInMemoryRuleStore("t").Get(context.Background(), "missing")
	if !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("Get() error = %v, want ErrRuleNotFound", err)
	}
}

func TestInMemoryRuleStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryRuleStore("t")

	rule := newRule("r1", 1)
	if err := store.Add(ctx, rule); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	rule.Name = "mutated after add"

	got, _ := store.Get(ctx, "r1")
	got.Priority = 99

	again, _ := store.Get(ctx, "r1")
	if again.Name != "rule r1" || again.Priority != 1 {
		t.Errorf("stored rule was modified through a caller's pointer: %+v", again)
	}
}

// TestInMemoryRuleStoreListActiveOrder verifies priority order with ties in insertion order
func TestInMemoryRuleStoreListActiveOrder(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryRuleStore("t")

	for _, r := range []*Rule{newRule("p5-first", 5), newRule("p1", 1), newRule("p5-second", 5), newRule("p3", 3)} {
		if err := store.Add(ctx, r); err != nil {
			t.Fatalf("Add(%s) failed: %v", r.ID, err)
		}
	}

	active, err := store.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive() failed: %v", err)
	}

	var ids []string
	for _, r := range active {
		ids = append(ids, r.ID)
	}
	if fmt.Sprint(ids) != "[p1 p3 p5-first p5-second]" {
		t.Errorf("ListActive() order = %v", ids)
	}
}

func TestInMemoryRuleStoreDeactivate(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryRuleStore("t")

	for _, r := range []*Rule{newRule("keep", 1), newRule("drop", 2)} {
		if err := store.Add(ctx, r); err != nil {
			t.Fatalf("Add() failed: %v", err)
		}
	}

	if err := store.Deactivate(ctx, "drop"); err != nil {
		t.Fatalf("Deactivate() failed: %v", err)
	}

	active, _ := store.ListActive(ctx)
	if len(active) != 1 || active[0].ID != "keep" {
		t.Errorf("ListActive() after deactivate = %v", active)
	}

	all, _ := store.List(ctx)
	if len(all) != 2 {
		t.Errorf("List() should still return deactivated rules, got %d", len(all))
	}

	dropped, err := store.Get(ctx, "drop")
	if err != nil {
		t.Fatalf("deactivated rule should still be retrievable: %v", err)
	}
	if dropped.Active {
		t.Error("deactivated rule should be inactive")
	}

	if err := store.Deactivate(ctx, "missing"); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("Deactivate(missing) error = %v, want ErrRuleNotFound", err)
	}
}

func TestInMemoryRuleStoreUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryRuleStore("t")

	original := newRule("r1", 1)
	if err := store.Add(ctx, original); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	updated := newRule("r1", 7)
	updated.Name = "Renamed"
	updated.Actions = Actions{Deny{Reason: "policy"}}
	if err := store.Update(ctx, updated); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	got, _ := store.Get(ctx, "r1")
	if got.Name != "Renamed" || got.Priority != 7 {
		t.Errorf("Update() did not apply: %+v", got)
	}
	if got.Seq != original.Seq || !got.CreatedAt.Equal(original.CreatedAt) {
		t.Errorf("Update() should keep seq and CreatedAt: %+v", got)
	}
	if len(got.Actions) != 1 || got.Actions[0].Type() != ActionDeny {
		t.Errorf("actions = %v", got.Actions.Types())
	}

	if err := store.Update(ctx, newRule("ghost", 1)); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("Update(ghost) error = %v, want ErrRuleNotFound", err)
	}
}

func TestInMemoryRuleStoreConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryRuleStore("t")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if err := store.Add(ctx, newRule(fmt.Sprintf("r%d", i), i%3)); err != nil {
				t.Errorf("Add() failed: %v", err)
			}
		}(i)
		go func() {
			defer wg.Done()
			if _, err := store.ListActive(ctx); err != nil {
				t.Errorf("ListActive() failed: %v", err)
			}
		}()
	}
	wg.Wait()

	all, _ := store.List(ctx)
	if len(all) != 20 {
		t.Errorf("List() = %d rules, want 20", len(all))
	}
	seen := map[int64]bool{}
	for _, r := range all {
		if seen[r.Seq] {
			t.Errorf("duplicate seq %d", r.Seq)
		}
		seen[r.Seq] = true
	}
}
