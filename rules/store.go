package rules

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrRuleNotFound is returned when a rule ID does not exist for the tenant
	ErrRuleNotFound = errors.New("rule not found")
	// ErrRuleExists is returned when adding a rule whose ID is taken
	ErrRuleExists = errors.New("rule already exists")
)

// RuleStore manages the rules of one tenant. Rules are never deleted, only
// deactivated, because audit history keeps referring to them.
type RuleStore interface {
	// Add a new rule
	Add(ctx context.Context, rule *Rule) error

	// Get a rule by ID
	Get(ctx context.Context, id string) (*Rule, error)

	// List all rules, active or not, in evaluation order
	List(ctx context.Context) ([]*Rule, error)

	// ListActive returns active rules sorted by priority, ties in insertion order
	ListActive(ctx context.Context) ([]*Rule, error)

	// Update an existing rule
	Update(ctx context.Context, rule *Rule) error

	// Deactivate a rule
	Deactivate(ctx context.Context, id string) error
}

// SortByPriority orders rules by ascending priority. Equal priorities keep
// insertion order (Seq), then their order in the slice.
func SortByPriority(rules []*Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].Seq < rules[j].Seq
	})
}

// InMemoryRuleStore implements RuleStore with a map. Stored rules are copied
// on the way in and out.
type InMemoryRuleStore struct {
	tenantID string
	rules    map[string]*Rule
	seq      int64
	mu       sync.RWMutex
}

// NewInMemoryRuleStore creates an in-memory rule store for a tenant
func NewInMemoryRuleStore(tenantID string) *InMemoryRuleStore {
	return &InMemoryRuleStore{
		tenantID: tenantID,
		rules:    make(map[string]*Rule),
	}
}

// Add stores a new rule, stamping tenant, timestamps and insertion order
func (s *InMemoryRuleStore) Add(_ context.Context, rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("rule with ID %s: %w", rule.ID, ErrRuleExists)
	}

	now := time.Now()
	s.seq++
	rule.TenantID = s.tenantID
	rule.CreatedAt = now
	rule.UpdatedAt = now
	rule.Seq = s.seq

	stored := *rule
	s.rules[rule.ID] = &stored
	return nil
}

// Get retrieves a rule by ID
func (s *InMemoryRuleStore) Get(_ context.Context, id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("rule with ID %s: %w", id, ErrRuleNotFound)
	}
	out := *rule
	return &out, nil
}

// List returns every rule in evaluation order
func (s *InMemoryRuleStore) List(_ context.Context) ([]*Rule, error) {
	return s.collect(false), nil
}

// ListActive returns active rules in evaluation order
func (s *InMemoryRuleStore) ListActive(_ context.Context) ([]*Rule, error) {
	return s.collect(true), nil
}

func (s *InMemoryRuleStore) collect(activeOnly bool) []*Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Rule, 0, len(s.rules))
	for _, rule := range s.rules {
		if activeOnly && !rule.Active {
			continue
		}
		r := *rule
		out = append(out, &r)
	}
	SortByPriority(out)
	return out
}

// Update replaces an existing rule, preserving CreatedAt and insertion order
func (s *InMemoryRuleStore) Update(_ context.Context, rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[rule.ID]
	if !exists {
		return fmt.Errorf("rule with ID %s: %w", rule.ID, ErrRuleNotFound)
	}

	rule.TenantID = s.tenantID
	rule.CreatedAt = existing.CreatedAt
	rule.Seq = existing.Seq
	rule.UpdatedAt = time.Now()

	stored := *rule
	s.rules[rule.ID] = &stored
	return nil
}

// Deactivate marks a rule inactive
func (s *InMemoryRuleStore) Deactivate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[id]
	if !exists {
		return fmt.Errorf("rule with ID %s: %w", id, ErrRuleNotFound)
	}

	updated := *existing
	updated.Active = false
	updated.UpdatedAt = time.Now()
	s.rules[id] = &updated
	return nil
}
