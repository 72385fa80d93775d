package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const ruleColumns = `id, tenant_id, name, priority, active, condition_groups, actions, seq, created_at, updated_at`

// PostgresRuleStore implements RuleStore backed by PostgreSQL
type PostgresRuleStore struct {
	db       *sql.DB
	tenantID string
}

// NewPostgresRuleStore creates a new PostgreSQL-backed RuleStore for a specific tenant
func NewPostgresRuleStore(db *sql.DB, tenantID string) *PostgresRuleStore {
	return &PostgresRuleStore{
		db:       db,
		tenantID: tenantID,
	}
}

// Add inserts a new rule into the database
func (s *PostgresRuleStore) Add(ctx context.Context, rule *Rule) error {
	groups, actions, err := encodeRuleBody(rule)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO rules (id, tenant_id, name, priority, active, condition_groups, actions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING seq
	`, rule.ID, s.tenantID, rule.Name, rule.Priority, rule.Active, groups, actions, now).Scan(&rule.Seq)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("rule with ID %s: %w", rule.ID, ErrRuleExists)
	}
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}

	rule.TenantID = s.tenantID
	rule.CreatedAt = now
	rule.UpdatedAt = now
	return nil
}

// Get retrieves a rule by ID
func (s *PostgresRuleStore) Get(ctx context.Context, id string) (*Rule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+ruleColumns+`
		FROM rules
		WHERE id = $1 AND tenant_id = $2
	`, id, s.tenantID)

	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// List returns every rule of the tenant in evaluation order
func (s *PostgresRuleStore) List(ctx context.Context) ([]*Rule, error) {
	return s.query(ctx, `
		SELECT `+ruleColumns+`
		FROM rules
		WHERE tenant_id = $1
		ORDER BY priority ASC, seq ASC
	`)
}

// ListActive returns all active rules for the tenant in evaluation order
func (s *PostgresRuleStore) ListActive(ctx context.Context) ([]*Rule, error) {
	return s.query(ctx, `
		SELECT `+ruleColumns+`
		FROM rules
		WHERE tenant_id = $1 AND active = true
		ORDER BY priority ASC, seq ASC
	`)
}

func (s *PostgresRuleStore) query(ctx context.Context, query string) ([]*Rule, error) {
	rows, err := s.db.QueryContext(ctx, query, s.tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rulesList []*Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rulesList = append(rulesList, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return rulesList, nil
}

// Update modifies an existing rule
func (s *PostgresRuleStore) Update(ctx context.Context, rule *Rule) error {
	groups, actions, err := encodeRuleBody(rule)
	if err != nil {
		return err
	}

	rule.UpdatedAt = time.Now().UTC()
	err = s.db.QueryRowContext(ctx, `
		UPDATE rules
		SET name = $1, priority = $2, active = $3, condition_groups = $4, actions = $5, updated_at = $6
		WHERE id = $7 AND tenant_id = $8
		RETURNING seq, created_at
	`, rule.Name, rule.Priority, rule.Active, groups, actions, rule.UpdatedAt, rule.ID, s.tenantID).
		Scan(&rule.Seq, &rule.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrRuleNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	rule.TenantID = s.tenantID
	return nil
}

// Deactivate marks a rule inactive; the row stays for audit history
func (s *PostgresRuleStore) Deactivate(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE rules
		SET active = false, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2
	`, id, s.tenantID)
	if err != nil {
		return fmt.Errorf("failed to deactivate rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var (
		r       Rule
		groups  []byte
		actions []byte
	)
	if err := row.Scan(&r.ID, &r.TenantID, &r.Name, &r.Priority, &r.Active,
		&groups, &actions, &r.Seq, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(groups, &r.ConditionGroups); err != nil {
		return nil, fmt.Errorf("decode condition groups of rule %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(actions, &r.Actions); err != nil {
		return nil, fmt.Errorf("decode actions of rule %s: %w", r.ID, err)
	}
	return &r, nil
}

func encodeRuleBody(rule *Rule) ([]byte, []byte, error) {
	groups := rule.ConditionGroups
	if groups == nil {
		groups = []ConditionGroup{}
	}
	groupsJSON, err := json.Marshal(groups)
	if err != nil {
		return nil, nil, fmt.Errorf("encode condition groups: %w", err)
	}
	actionsJSON, err := json.Marshal(rule.Actions)
	if err != nil {
		return nil, nil, fmt.Errorf("encode actions: %w", err)
	}
	return groupsJSON, actionsJSON, nil
}
