package returns

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/liamcoop/returns/lifecycle"
)

const returnColumns = `id, tenant_id, order_id, status, version, request, created_at, updated_at`

// PostgresStore implements Store backed by PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed Store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create inserts a new return at version 1
func (s *PostgresStore) Create(ctx context.Context, r *Return) error {
	request, err := json.Marshal(r.Request)
	if err != nil {
		return fmt.Errorf("encode return request: %w", err)
	}

	now := time.Now().UTC()
	if r.Status == "" {
		r.Status = lifecycle.InitialStatus
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO returns (id, tenant_id, order_id, status, version, request, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 1, $5, $6, $6)
	`, r.ID, r.TenantID, r.OrderID, string(r.Status), request, now)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("return %s: %w", r.ID, ErrReturnExists)
	}
	if err != nil {
		return fmt.Errorf("failed to insert return: %w", err)
	}

	r.Version = 1
	r.CreatedAt = now
	r.UpdatedAt = now
	return nil
}

// Get retrieves a return by ID
func (s *PostgresStore) Get(ctx context.Context, tenantID, id string) (*Return, error) {
	if !validTenant(tenantID) {
		return nil, fmt.Errorf("return %s: %w", id, ErrNotFound)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+returnColumns+`
		FROM returns
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID)

	r, err := scanReturn(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("return %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get return: %w", err)
	}
	return r, nil
}

// ApplyTransition updates status and version, then inserts the preceding
// entries, the audit entry and the resolution, all in one transaction. A
// version or status mismatch rolls back with ErrConcurrentUpdate.
func (s *PostgresStore) ApplyTransition(ctx context.Context, tenantID, id string, version int, result *lifecycle.TransitionResult, preceding ...lifecycle.AuditEntry) (*Return, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		UPDATE returns
		SET status = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND tenant_id = $4 AND version = $5 AND status = $6
		RETURNING `+returnColumns,
		string(result.Status), result.Audit.Timestamp, id, tenantID, version, string(result.Audit.FromStatus))

	updated, err := scanReturn(row)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.Get(ctx, tenantID, id); errors.Is(getErr, ErrNotFound) {
			return nil, getErr
		}
		return nil, fmt.Errorf("return %s at version %d: %w", id, version, ErrConcurrentUpdate)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update return status: %w", err)
	}

	for _, e := range preceding {
		if err := insertAudit(ctx, tx, e); err != nil {
			return nil, err
		}
	}
	if err := insertAudit(ctx, tx, result.Audit); err != nil {
		return nil, err
	}
	if result.Resolution != nil {
		if err := insertResolution(ctx, tx, result.Resolution); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}
	return updated, nil
}

// AppendAudit inserts audit entries in one transaction
func (s *PostgresStore) AppendAudit(ctx context.Context, entries ...lifecycle.AuditEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entries {
		if err := insertAudit(ctx, tx, e); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit entries: %w", err)
	}
	return nil
}

// ListAudit returns the audit trail oldest first
func (s *PostgresStore) ListAudit(ctx context.Context, tenantID, returnID string) ([]lifecycle.AuditEntry, error) {
	if _, err := s.Get(ctx, tenantID, returnID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, return_id, tenant_id, from_status, to_status, event_type, user_id, notes, created_at
		FROM audit_log
		WHERE return_id = $1 AND tenant_id = $2
		ORDER BY seq ASC
	`, returnID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []lifecycle.AuditEntry{}
	for rows.Next() {
		var e lifecycle.AuditEntry
		if err := rows.Scan(&e.ID, &e.ReturnID, &e.TenantID, &e.FromStatus, &e.ToStatus,
			&e.EventType, &e.UserID, &e.Notes, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}
	return entries, nil
}

// GetResolution returns the resolution of a return
func (s *PostgresStore) GetResolution(ctx context.Context, tenantID, returnID string) (*lifecycle.Resolution, error) {
	if !validTenant(tenantID) {
		return nil, fmt.Errorf("resolution of return %s: %w", returnID, ErrNotFound)
	}

	var (
		res     lifecycle.Resolution
		details []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, return_id, tenant_id, type, status, details, created_at, updated_at
		FROM resolutions
		WHERE return_id = $1 AND tenant_id = $2
	`, returnID, tenantID).Scan(&res.ID, &res.ReturnID, &res.TenantID, &res.Type, &res.Status,
		&details, &res.CreatedAt, &res.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("resolution of return %s: %w", returnID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resolution: %w", err)
	}

	var target any
	switch res.Type {
	case lifecycle.ResolutionRefund:
		res.Refund = &lifecycle.RefundDetails{}
		target = res.Refund
	case lifecycle.ResolutionExchange:
		res.Exchange = &lifecycle.ExchangeDetails{}
		target = res.Exchange
	case lifecycle.ResolutionStoreCredit:
		res.StoreCredit = &lifecycle.StoreCreditDetails{}
		target = res.StoreCredit
	default:
		return nil, fmt.Errorf("resolution %s has unknown type %q", res.ID, res.Type)
	}
	if err := json.Unmarshal(details, target); err != nil {
		return nil, fmt.Errorf("decode resolution %s: %w", res.ID, err)
	}
	return &res, nil
}

// UpdateResolutionStatus advances the stored resolution when it is still at from
func (s *PostgresStore) UpdateResolutionStatus(ctx context.Context, res *lifecycle.Resolution, from lifecycle.ResolutionStatus) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE resolutions
		SET status = $1, updated_at = $2
		WHERE return_id = $3 AND tenant_id = $4 AND status = $5
	`, string(res.Status), res.UpdatedAt, res.ReturnID, res.TenantID, string(from))
	if err != nil {
		return fmt.Errorf("failed to update resolution: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	if _, err := s.GetResolution(ctx, res.TenantID, res.ReturnID); err != nil {
		return err
	}
	return fmt.Errorf("resolution of return %s is no longer %s: %w", res.ReturnID, from, ErrConcurrentUpdate)
}

// validTenant reports whether tenantID can be cast to the tenant_id column
func validTenant(tenantID string) bool {
	_, err := uuid.Parse(tenantID)
	return err == nil
}

func insertAudit(ctx context.Context, tx *sql.Tx, e lifecycle.AuditEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_log (id, return_id, tenant_id, from_status, to_status, event_type, user_id, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.ReturnID, e.TenantID, string(e.FromStatus), string(e.ToStatus), string(e.EventType), e.UserID, e.Notes, e.Timestamp)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23503" {
		return fmt.Errorf("return %s: %w", e.ReturnID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func insertResolution(ctx context.Context, tx *sql.Tx, res *lifecycle.Resolution) error {
	var payload any
	switch {
	case res.Refund != nil:
		payload = res.Refund
	case res.Exchange != nil:
		payload = res.Exchange
	case res.StoreCredit != nil:
		payload = res.StoreCredit
	}
	details, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode resolution: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO resolutions (id, return_id, tenant_id, type, status, details, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, res.ID, res.ReturnID, res.TenantID, string(res.Type), string(res.Status), details, res.CreatedAt, res.UpdatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("return %s: %w", res.ReturnID, ErrResolutionExists)
	}
	if err != nil {
		return fmt.Errorf("failed to insert resolution: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReturn(row rowScanner) (*Return, error) {
	var (
		r       Return
		request []byte
	)
	if err := row.Scan(&r.ID, &r.TenantID, &r.OrderID, &r.Status, &r.Version,
		&request, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(request, &r.Request); err != nil {
		return nil, fmt.Errorf("decode request of return %s: %w", r.ID, err)
	}
	return &r, nil
}
