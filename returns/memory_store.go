package returns

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/liamcoop/returns/lifecycle"
)

// InMemoryStore implements Store with maps guarded by one mutex, so a
// version check and the write it guards happen atomically
type InMemoryStore struct {
	returns     map[string]*Return
	audit       map[string][]lifecycle.AuditEntry
	resolutions map[string]*lifecycle.Resolution
	mu          sync.RWMutex
}

// NewInMemoryStore creates an empty in-memory store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		returns:     make(map[string]*Return),
		audit:       make(map[string][]lifecycle.AuditEntry),
		resolutions: make(map[string]*lifecycle.Resolution),
	}
}

func key(tenantID, id string) string {
	return tenantID + "/" + id
}

// Create stores a new return in its initial status
func (s *InMemoryStore) Create(_ context.Context, r *Return) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(r.TenantID, r.ID)
	if _, exists := s.returns[k]; exists {
		return fmt.Errorf("return %s: %w", r.ID, ErrReturnExists)
	}

	now := time.Now().UTC()
	if r.Status == "" {
		r.Status = lifecycle.InitialStatus
	}
	r.Version = 1
	r.CreatedAt = now
	r.UpdatedAt = now

	stored := *r
	s.returns[k] = &stored
	return nil
}

// Get retrieves a return by ID
func (s *InMemoryStore) Get(_ context.Context, tenantID, id string) (*Return, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.returns[key(tenantID, id)]
	if !ok {
		return nil, fmt.Errorf("return %s: %w", id, ErrNotFound)
	}
	out := *r
	return &out, nil
}

// ApplyTransition moves the return to result.Status if it is still at
// version and still in the status the transition started from
func (s *InMemoryStore) ApplyTransition(_ context.Context, tenantID, id string, version int, result *lifecycle.TransitionResult, preceding ...lifecycle.AuditEntry) (*Return, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(tenantID, id)
	r, ok := s.returns[k]
	if !ok {
		return nil, fmt.Errorf("return %s: %w", id, ErrNotFound)
	}
	if r.Version != version || r.Status != result.Audit.FromStatus {
		return nil, fmt.Errorf("return %s at version %d, expected %d: %w", id, r.Version, version, ErrConcurrentUpdate)
	}
	if result.Resolution != nil {
		if _, exists := s.resolutions[k]; exists {
			return nil, fmt.Errorf("return %s: %w", id, ErrResolutionExists)
		}
		res := *result.Resolution
		s.resolutions[k] = &res
	}

	updated := *r
	updated.Status = result.Status
	updated.Version++
	updated.UpdatedAt = result.Audit.Timestamp
	s.returns[k] = &updated
	s.audit[k] = append(s.audit[k], preceding...)
	s.audit[k] = append(s.audit[k], result.Audit)

	out := updated
	return &out, nil
}

// AppendAudit adds audit entries for existing returns
func (s *InMemoryStore) AppendAudit(_ context.Context, entries ...lifecycle.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		k := key(e.TenantID, e.ReturnID)
		if _, ok := s.returns[k]; !ok {
			return fmt.Errorf("return %s: %w", e.ReturnID, ErrNotFound)
		}
	}
	for _, e := range entries {
		k := key(e.TenantID, e.ReturnID)
		s.audit[k] = append(s.audit[k], e)
	}
	return nil
}

// ListAudit returns a copy of the audit trail in insertion order
func (s *InMemoryStore) ListAudit(_ context.Context, tenantID, returnID string) ([]lifecycle.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k := key(tenantID, returnID)
	if _, ok := s.returns[k]; !ok {
		return nil, fmt.Errorf("return %s: %w", returnID, ErrNotFound)
	}
	return append([]lifecycle.AuditEntry{}, s.audit[k]...), nil
}

// GetResolution returns the resolution, or ErrNotFound if there is none
func (s *InMemoryStore) GetResolution(_ context.Context, tenantID, returnID string) (*lifecycle.Resolution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, ok := s.resolutions[key(tenantID, returnID)]
	if !ok {
		return nil, fmt.Errorf("resolution of return %s: %w", returnID, ErrNotFound)
	}
	out := *res
	return &out, nil
}

// UpdateResolutionStatus advances the stored resolution when it is still at from
func (s *InMemoryStore) UpdateResolutionStatus(_ context.Context, res *lifecycle.Resolution, from lifecycle.ResolutionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.resolutions[key(res.TenantID, res.ReturnID)]
	if !ok {
		return fmt.Errorf("resolution of return %s: %w", res.ReturnID, ErrNotFound)
	}
	if stored.Status != from {
		return fmt.Errorf("resolution of return %s is %s, not %s: %w", res.ReturnID, stored.Status, from, ErrConcurrentUpdate)
	}
	stored.Status = res.Status
	stored.UpdatedAt = res.UpdatedAt
	return nil
}
