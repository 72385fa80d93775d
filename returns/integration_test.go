//go:build integration

package returns_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/liamcoop/returns/lifecycle"
	"github.com/liamcoop/returns/returns"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/lib/pq"
)

func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "returns_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	connStr := fmt.Sprintf("host=%s port=%s user=test password=test dbname=returns_test sslmode=disable", host, port.Port())

	var db *sql.DB
	for i := 0; i < 30; i++ {
		db, err = sql.Open("postgres", connStr)
		if err == nil {
			if err = db.Ping(); err == nil {
				break
			}
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	migrationSQL, err := os.ReadFile(filepath.Join("..", "migrations", "000001_initial_schema.up.sql"))
	if err != nil {
		t.Fatalf("Failed to read migration file: %v", err)
	}
	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return db, func() {
		db.Close()
		container.Terminate(ctx)
	}
}

func createReturn(t *testing.T, db *sql.DB, store *returns.PostgresStore) *returns.Return {
	t.Helper()

	var tenantID string
	if err := db.QueryRow(`INSERT INTO tenants (name) VALUES ('acme') RETURNING id`).Scan(&tenantID); err != nil {
		t.Fatalf("Failed to create tenant: %v", err)
	}

	r := &returns.Return{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		OrderID:  "o-1",
		Request: returns.Request{
			Reason:        "damaged_in_shipping",
			ItemsToReturn: []string{"SKU-1"},
			RefundAmount:  decimal.RequireFromString("42.50"),
		},
	}
	if err := store.Create(context.Background(), r); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	return r
}

func TestPostgresStore_Lifecycle(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := returns.NewPostgresStore(db)
	m := lifecycle.NewMachine()
	r := createReturn(t, db, store)

	got, err := store.Get(ctx, r.TenantID, r.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Status != lifecycle.StatusRequested || got.Version != 1 || !got.Request.RefundAmount.Equal(decimal.RequireFromString("42.50")) {
		t.Errorf("Get() = %+v", got)
	}

	if err := store.AppendAudit(ctx, m.NewRuleMatchEntry(r.TenantID, r.ID, r.Status, "rule-1", "damaged")); err != nil {
		t.Fatalf("AppendAudit() failed: %v", err)
	}

	for _, target := range []lifecycle.Status{
		lifecycle.StatusApproved, lifecycle.StatusLabelIssued, lifecycle.StatusInTransit, lifecycle.StatusReceived,
	} {
		res, err := m.Transition(lifecycle.TransitionRequest{ReturnID: r.ID, TenantID: r.TenantID, Current: r.Status, Target: target})
		if err != nil {
			t.Fatalf("Transition(%s) failed: %v", target, err)
		}
		if r, err = store.ApplyTransition(ctx, r.TenantID, r.ID, r.Version, res); err != nil {
			t.Fatalf("ApplyTransition(%s) failed: %v", target, err)
		}
	}

	res, err := m.Transition(lifecycle.TransitionRequest{
		ReturnID: r.ID,
		TenantID: r.TenantID,
		Current:  r.Status,
		Target:   lifecycle.StatusResolved,
		Actor:    "merchant-1",
		Resolution: &lifecycle.ResolutionInput{
			Type:        lifecycle.ResolutionStoreCredit,
			StoreCredit: &lifecycle.StoreCreditInput{Amount: decimal.RequireFromString("42.50"), BonusPercent: decimal.NewFromInt(10)},
		},
	})
	if err != nil {
		t.Fatalf("Transition(resolved) failed: %v", err)
	}
	r, err = store.ApplyTransition(ctx, r.TenantID, r.ID, r.Version, res)
	if err != nil {
		t.Fatalf("ApplyTransition(resolved) failed: %v", err)
	}
	if r.Status != lifecycle.StatusResolved || r.Version != 6 {
		t.Errorf("final return = %+v", r)
	}

	resolution, err := store.GetResolution(ctx, r.TenantID, r.ID)
	if err != nil {
		t.Fatalf("GetResolution() failed: %v", err)
	}
	if resolution.StoreCredit == nil || !resolution.StoreCredit.Amount.Equal(decimal.RequireFromString("46.75")) {
		t.Errorf("resolution = %+v", resolution)
	}

	audit, err := store.ListAudit(ctx, r.TenantID, r.ID)
	if err != nil {
		t.Fatalf("ListAudit() failed: %v", err)
	}
	if len(audit) != 6 {
		t.Fatalf("audit entries = %d, want 6", len(audit))
	}
	if audit[0].EventType != lifecycle.EventRuleMatched || audit[5].ToStatus != lifecycle.StatusResolved || audit[5].UserID != "merchant-1" {
		t.Errorf("audit = %+v", audit)
	}

	completed, err := resolution.Advance(lifecycle.ResolutionCompleted, time.Now().UTC())
	if err != nil {
		t.Fatalf("Advance() failed: %v", err)
	}
	if err := store.UpdateResolutionStatus(ctx, &completed, lifecycle.ResolutionPending); err != nil {
		t.Fatalf("UpdateResolutionStatus() failed: %v", err)
	}
	if err := store.UpdateResolutionStatus(ctx, &completed, lifecycle.ResolutionPending); !errors.Is(err, returns.ErrConcurrentUpdate) {
		t.Errorf("stale UpdateResolutionStatus() error = %v, want ErrConcurrentUpdate", err)
	}
	if resolution, _ = store.GetResolution(ctx, r.TenantID, r.ID); resolution.Status != lifecycle.ResolutionCompleted {
		t.Errorf("resolution status = %s, want completed", resolution.Status)
	}
}

func TestPostgresStore_ConcurrentTransitions(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := returns.NewPostgresStore(db)
	m := lifecycle.NewMachine()
	r := createReturn(t, db, store)

	var results []*lifecycle.TransitionResult
	for _, target := range []lifecycle.Status{lifecycle.StatusApproved, lifecycle.StatusDenied} {
		res, err := m.Transition(lifecycle.TransitionRequest{ReturnID: r.ID, TenantID: r.TenantID, Current: r.Status, Target: target})
		if err != nil {
			t.Fatalf("Transition(%s) failed: %v", target, err)
		}
		results = append(results, res)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(results))
	for i, res := range results {
		wg.Add(1)
		go func(i int, res *lifecycle.TransitionResult) {
			defer wg.Done()
			_, errs[i] = store.ApplyTransition(ctx, r.TenantID, r.ID, r.Version, res)
		}(i, res)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case !errors.Is(err, returns.ErrConcurrentUpdate):
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("succeeded = %d, want exactly 1 (errs = %v)", succeeded, errs)
	}

	audit, _ := store.ListAudit(ctx, r.TenantID, r.ID)
	if len(audit) != 1 {
		t.Errorf("audit entries = %d, want 1", len(audit))
	}
}

func TestPostgresStore_NotFound(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := returns.NewPostgresStore(db)
	r := createReturn(t, db, store)

	if _, err := store.Get(ctx, r.TenantID, "missing"); !errors.Is(err, returns.ErrNotFound) {
		t.Errorf("Get(missing) error = %v", err)
	}
	if _, err := store.GetResolution(ctx, r.TenantID, r.ID); !errors.Is(err, returns.ErrNotFound) {
		t.Errorf("GetResolution() error = %v", err)
	}
	if _, err := store.ListAudit(ctx, r.TenantID, "missing"); !errors.Is(err, returns.ErrNotFound) {
		t.Errorf("ListAudit(missing) error = %v", err)
	}
	if _, err := store.Get(ctx, "not-a-uuid", r.ID); !errors.Is(err, returns.ErrNotFound) {
		t.Errorf("Get(malformed tenant) error = %v", err)
	}
	if _, err := store.GetResolution(ctx, "not-a-uuid", r.ID); !errors.Is(err, returns.ErrNotFound) {
		t.Errorf("GetResolution(malformed tenant) error = %v", err)
	}
}

// TestPostgresStore_PrecedingEntriesRollBack verifies rule matches passed
// with a losing transition are not committed
func TestPostgresStore_PrecedingEntriesRollBack(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := returns.NewPostgresStore(db)
	m := lifecycle.NewMachine()
	r := createReturn(t, db, store)

	deny, err := m.Transition(lifecycle.TransitionRequest{ReturnID: r.ID, TenantID: r.TenantID, Current: r.Status, Target: lifecycle.StatusDenied, Actor: "merchant-1"})
	if err != nil {
		t.Fatalf("Transition(denied) failed: %v", err)
	}
	approve, err := m.Transition(lifecycle.TransitionRequest{ReturnID: r.ID, TenantID: r.TenantID, Current: r.Status, Target: lifecycle.StatusApproved})
	if err != nil {
		t.Fatalf("Transition(approved) failed: %v", err)
	}
	match := m.NewRuleMatchEntry(r.TenantID, r.ID, r.Status, "rule-1", "matched")

	if _, err := store.ApplyTransition(ctx, r.TenantID, r.ID, r.Version, deny); err != nil {
		t.Fatalf("ApplyTransition(denied) failed: %v", err)
	}
	if _, err := store.ApplyTransition(ctx, r.TenantID, r.ID, r.Version, approve, match); !errors.Is(err, returns.ErrConcurrentUpdate) {
		t.Fatalf("stale ApplyTransition() error = %v, want ErrConcurrentUpdate", err)
	}

	audit, err := store.ListAudit(ctx, r.TenantID, r.ID)
	if err != nil {
		t.Fatalf("ListAudit() failed: %v", err)
	}
	if len(audit) != 1 || audit[0].EventType == lifecycle.EventRuleMatched {
		t.Errorf("audit = %+v, want only the denial", audit)
	}
}
