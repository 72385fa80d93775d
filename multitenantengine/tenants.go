package multitenantengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrTenantNotFound is returned for operations on an unknown tenant
var ErrTenantNotFound = errors.New("tenant not found")

// Tenant is a merchant using the service
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TenantStore persists tenants
type TenantStore interface {
	Create(ctx context.Context, name string) (*Tenant, error)
	Get(ctx context.Context, id string) (*Tenant, error)
	List(ctx context.Context) ([]Tenant, error)
}

// InMemoryTenantStore implements TenantStore with a map
type InMemoryTenantStore struct {
	tenants map[string]Tenant
	mu      sync.RWMutex
}

// NewInMemoryTenantStore creates an empty tenant store
func NewInMemoryTenantStore() *InMemoryTenantStore {
	return &InMemoryTenantStore{tenants: make(map[string]Tenant)}
}

func (s *InMemoryTenantStore) Create(_ context.Context, name string) (*Tenant, error) {
	now := time.Now().UTC()
	t := Tenant{ID: uuid.NewString(), Name: name, CreatedAt: now, UpdatedAt: now}

	s.mu.Lock()
	s.tenants[t.ID] = t
	s.mu.Unlock()
	return &t, nil
}

func (s *InMemoryTenantStore) Get(_ context.Context, id string) (*Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tenants[id]
	if !ok {
		return nil, fmt.Errorf("tenant %s: %w", id, ErrTenantNotFound)
	}
	return &t, nil
}

// List returns tenants newest first
func (s *InMemoryTenantStore) List(_ context.Context) ([]Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// PostgresTenantStore implements TenantStore backed by the tenants table
type PostgresTenantStore struct {
	db *sql.DB
}

// NewPostgresTenantStore creates a PostgreSQL-backed TenantStore
func NewPostgresTenantStore(db *sql.DB) *PostgresTenantStore {
	return &PostgresTenantStore{db: db}
}

func (s *PostgresTenantStore) Create(ctx context.Context, name string) (*Tenant, error) {
	var t Tenant
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tenants (name, created_at, updated_at)
		VALUES ($1, NOW(), NOW())
		RETURNING id, name, created_at, updated_at
	`, name).Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}
	return &t, nil
}

func (s *PostgresTenantStore) Get(ctx context.Context, id string) (*Tenant, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("tenant %s: %w", id, ErrTenantNotFound)
	}

	var t Tenant
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at, updated_at FROM tenants WHERE id = $1
	`, id).Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tenant %s: %w", id, ErrTenantNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return &t, nil
}

func (s *PostgresTenantStore) List(ctx context.Context) ([]Tenant, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, created_at, updated_at FROM tenants ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	tenants := []Tenant{}
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tenant row: %w", err)
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tenant rows: %w", err)
	}
	return tenants, nil
}
