package returns

import (
	"context"
	"errors"
	"time"

	"github.com/liamcoop/returns/lifecycle"
)

var (
	// ErrNotFound is returned when a return does not exist for the tenant
	ErrNotFound = errors.New("return not found")
	// ErrConcurrentUpdate is returned when the return changed since it was read
	ErrConcurrentUpdate = errors.New("return was modified concurrently")
	// ErrResolutionExists is returned when a return already has a resolution
	ErrResolutionExists = errors.New("return already has a resolution")
	// ErrReturnExists is returned when creating a return whose ID is taken
	ErrReturnExists = errors.New("return already exists")
)

// Return is a customer's return request as it moves through its lifecycle.
// Version increases by one on every persisted transition.
type Return struct {
	ID        string           `json:"id"`
	TenantID  string           `json:"tenant_id"`
	OrderID   string           `json:"order_id"`
	Status    lifecycle.Status `json:"status"`
	Version   int              `json:"version"`
	Request   Request          `json:"request"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Store persists returns with their audit trail and resolution. All reads and
// writes are scoped to one tenant.
type Store interface {
	// Create stores a new return with version 1
	Create(ctx context.Context, r *Return) error

	// Get retrieves a return by ID
	Get(ctx context.Context, tenantID, id string) (*Return, error)

	// ApplyTransition writes a transition result, conditioned on the return
	// still being at version. The preceding entries, the transition's audit
	// entry and any resolution are written together with the status change,
	// or not at all.
	ApplyTransition(ctx context.Context, tenantID, id string, version int, result *lifecycle.TransitionResult, preceding ...lifecycle.AuditEntry) (*Return, error)

	// AppendAudit adds entries that do not change status, such as rule matches
	AppendAudit(ctx context.Context, entries ...lifecycle.AuditEntry) error

	// ListAudit returns a return's audit trail, oldest first
	ListAudit(ctx context.Context, tenantID, returnID string) ([]lifecycle.AuditEntry, error)

	// GetResolution returns the resolution of a resolved return
	GetResolution(ctx context.Context, tenantID, returnID string) (*lifecycle.Resolution, error)

	// UpdateResolutionStatus stores res's status and UpdatedAt if the stored
	// resolution is still at from
	UpdateResolutionStatus(ctx context.Context, res *lifecycle.Resolution, from lifecycle.ResolutionStatus) error
}
