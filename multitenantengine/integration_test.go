//go:build integration

package multitenantengine

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/liamcoop/returns/lifecycle"
	"github.com/liamcoop/returns/returns"
	"github.com/liamcoop/returns/rules"
)

// setupTestDB creates a PostgreSQL testcontainer and runs migrations
func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
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
		t.Fatalf("Failed to start container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dsn := fmt.Sprintf("host=%s port=%s user=test password=test dbname=returns_test sslmode=disable", host, port.Port())

	var db *sql.DB
	for i := 0; i < 30; i++ {
		db, err = sql.Open("postgres", dsn)
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

func newPostgresManager(db *sql.DB) *Manager {
	return NewManager(
		NewPostgresTenantStore(db),
		func(tenantID string) rules.RuleStore { return rules.NewPostgresRuleStore(db, tenantID) },
		returns.NewPostgresStore(db),
		rules.NewInMemoryRulesCache(rules.DefaultCacheConfig()),
		lifecycle.NewMachine(),
	)
}

func TestManager_PostgresLoadAllTenants(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	first := newPostgresManager(db)
	tenant, err := first.CreateTenant(ctx, "acme")
	if err != nil {
		t.Fatalf("CreateTenant() failed: %v", err)
	}
	if err := first.AddRule(ctx, tenant.ID, reasonRule("Damaged", 1, "damaged_in_shipping", rules.AutoApprove{})); err != nil {
		t.Fatalf("AddRule() failed: %v", err)
	}

	// a second instance sees the tenant and its rules
	second := newPostgresManager(db)
	if err := second.LoadAllTenants(ctx); err != nil {
		t.Fatalf("LoadAllTenants() failed: %v", err)
	}
	if second.LoadedTenants() != 1 {
		t.Errorf("LoadedTenants() = %d, want 1", second.LoadedTenants())
	}

	res, err := second.Simulate(ctx, tenant.ID, nil, sampleRequest("damaged_in_shipping").Document())
	if err != nil {
		t.Fatalf("Simulate() failed: %v", err)
	}
	if res.FinalStatus != rules.StatusApproved {
		t.Errorf("FinalStatus = %s, want approved", res.FinalStatus)
	}
}

func TestManager_PostgresEndToEnd(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	m := newPostgresManager(db)
	tenant, err := m.CreateTenant(ctx, "acme")
	if err != nil {
		t.Fatalf("CreateTenant() failed: %v", err)
	}
	if err := m.AddRule(ctx, tenant.ID, reasonRule("Damaged", 1, "damaged_in_shipping", rules.AutoApprove{})); err != nil {
		t.Fatalf("AddRule() failed: %v", err)
	}

	r, err := m.CreateReturn(ctx, tenant.ID, "o-1", sampleRequest("damaged_in_shipping"))
	if err != nil {
		t.Fatalf("CreateReturn() failed: %v", err)
	}
	eval, err := m.EvaluateReturn(ctx, tenant.ID, r.ID, sampleOrder())
	if err != nil {
		t.Fatalf("EvaluateReturn() failed: %v", err)
	}
	if eval.Return.Status != lifecycle.StatusApproved {
		t.Fatalf("status = %s, want approved", eval.Return.Status)
	}

	// concurrent merchant actions on the approved return: one wins
	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = m.TransitionReturn(ctx, tenant.ID, r.ID, TransitionInput{Target: lifecycle.StatusLabelIssued, Actor: "merchant"})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	if succeeded != 1 {
		t.Errorf("succeeded = %d, want 1 (%v)", succeeded, errs)
	}

	trail, err := m.AuditTrail(ctx, tenant.ID, r.ID)
	if err != nil {
		t.Fatalf("AuditTrail() failed: %v", err)
	}
	if len(trail) != 3 {
		t.Errorf("audit entries = %d, want 3", len(trail))
	}
}
