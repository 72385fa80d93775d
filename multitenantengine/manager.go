package multitenantengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/liamcoop/returns/internal/logger"
	"github.com/liamcoop/returns/lifecycle"
	"github.com/liamcoop/returns/returns"
	"github.com/liamcoop/returns/rules"
)

// RuleStoreFactory opens the rule store of one tenant
type RuleStoreFactory func(tenantID string) rules.RuleStore

// TenantEngine holds the per-tenant state the manager keeps loaded
type TenantEngine struct {
	Tenant Tenant
	Rules  rules.RuleStore
}

// Manager runs rule management, evaluation and lifecycle transitions for
// every tenant. Tenant engines are loaded lazily and kept for the life of
// the process; rule lists are served from the cache until a rule changes.
type Manager struct {
	tenants      TenantStore
	newRuleStore RuleStoreFactory
	returns      returns.Store
	cache        rules.RulesCache
	machine      *lifecycle.Machine
	now          func() time.Time

	engines map[string]*TenantEngine
	mu      sync.RWMutex

	// generations counts rule changes per tenant so a cache fill that
	// raced a change is discarded
	generations map[string]uint64
	genMu       sync.Mutex
}

// NewManager creates a manager over the given stores
func NewManager(tenants TenantStore, newRuleStore RuleStoreFactory, store returns.Store, cache rules.RulesCache, machine *lifecycle.Machine) *Manager {
	return &Manager{
		tenants:      tenants,
		newRuleStore: newRuleStore,
		returns:      store,
		cache:        cache,
		machine:      machine,
		now:          func() time.Time { return time.Now().UTC() },
		engines:      make(map[string]*TenantEngine),
		generations:  make(map[string]uint64),
	}
}

// NewInMemoryManager wires a manager to in-memory stores
func NewInMemoryManager(opts ...lifecycle.Option) *Manager {
	return NewManager(
		NewInMemoryTenantStore(),
		func(tenantID string) rules.RuleStore { return rules.NewInMemoryRuleStore(tenantID) },
		returns.NewInMemoryStore(),
		rules.NewInMemoryRulesCache(rules.DefaultCacheConfig()),
		lifecycle.NewMachine(opts...),
	)
}

// LoadAllTenants registers an engine for every stored tenant
func (m *Manager) LoadAllTenants(ctx context.Context) error {
	tenants, err := m.tenants.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch tenants: %w", err)
	}
	for _, t := range tenants {
		m.register(t)
	}
	logger.Info("tenants loaded", "count", len(tenants))
	return nil
}

// CreateTenant stores a tenant and registers its engine
func (m *Manager) CreateTenant(ctx context.Context, name string) (*Tenant, error) {
	t, err := m.tenants.Create(ctx, name)
	if err != nil {
		return nil, err
	}
	m.register(*t)
	logger.Info("tenant created", "tenant_id", t.ID)
	return t, nil
}

// ListTenants returns every stored tenant
func (m *Manager) ListTenants(ctx context.Context) ([]Tenant, error) {
	return m.tenants.List(ctx)
}

// LoadedTenants reports how many tenant engines are loaded
func (m *Manager) LoadedTenants() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.engines)
}

func (m *Manager) register(t Tenant) *TenantEngine {
	m.mu.Lock()
	defer m.mu.Unlock()

	if te, ok := m.engines[t.ID]; ok {
		return te
	}
	te := &TenantEngine{Tenant: t, Rules: m.newRuleStore(t.ID)}
	m.engines[t.ID] = te
	return te
}

// engine returns the tenant's engine, loading it from the tenant store when
// another instance created the tenant
func (m *Manager) engine(ctx context.Context, tenantID string) (*TenantEngine, error) {
	m.mu.RLock()
	te, ok := m.engines[tenantID]
	m.mu.RUnlock()
	if ok {
		return te, nil
	}

	t, err := m.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return m.register(*t), nil
}

// AddRule validates and stores a new rule. An empty ID is assigned.
func (m *Manager) AddRule(ctx context.Context, tenantID string, rule *rules.Rule) error {
	te, err := m.engine(ctx, tenantID)
	if err != nil {
		return err
	}
	if err := ValidateRule(rule); err != nil {
		return err
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}

	if err := te.Rules.Add(ctx, rule); err != nil {
		return err
	}
	m.invalidate(tenantID)
	logger.Info("rule added", "tenant_id", tenantID, "rule_id", rule.ID, "priority", rule.Priority)
	return nil
}

// UpdateRule validates and replaces a stored rule
func (m *Manager) UpdateRule(ctx context.Context, tenantID string, rule *rules.Rule) error {
	te, err := m.engine(ctx, tenantID)
	if err != nil {
		return err
	}
	if err := ValidateRule(rule); err != nil {
		return err
	}

	if err := te.Rules.Update(ctx, rule); err != nil {
		return err
	}
	m.invalidate(tenantID)
	logger.Info("rule updated", "tenant_id", tenantID, "rule_id", rule.ID)
	return nil
}

// DeactivateRule takes a rule out of evaluation, keeping it for audit history
func (m *Manager) DeactivateRule(ctx context.Context, tenantID, ruleID string) error {
	te, err := m.engine(ctx, tenantID)
	if err != nil {
		return err
	}
	if err := te.Rules.Deactivate(ctx, ruleID); err != nil {
		return err
	}
	m.invalidate(tenantID)
	logger.Info("rule deactivated", "tenant_id", tenantID, "rule_id", ruleID)
	return nil
}

// GetRule returns a rule of the tenant
func (m *Manager) GetRule(ctx context.Context, tenantID, ruleID string) (*rules.Rule, error) {
	te, err := m.engine(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return te.Rules.Get(ctx, ruleID)
}

// ListRules returns every rule of the tenant, active or not
func (m *Manager) ListRules(ctx context.Context, tenantID string) ([]*rules.Rule, error) {
	te, err := m.engine(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return te.Rules.List(ctx)
}

func (m *Manager) generation(tenantID string) uint64 {
	m.genMu.Lock()
	defer m.genMu.Unlock()
	return m.generations[tenantID]
}

// invalidate drops the tenant's cached rules after a rule change
func (m *Manager) invalidate(tenantID string) {
	m.genMu.Lock()
	m.generations[tenantID]++
	m.genMu.Unlock()
	m.cache.Invalidate(tenantID)
}

// fill caches a rule list read at generation gen, unless a rule changed
// since the read
func (m *Manager) fill(tenantID string, gen uint64, active []*rules.Rule) {
	m.genMu.Lock()
	defer m.genMu.Unlock()
	if m.generations[tenantID] != gen {
		return
	}
	m.cache.Set(tenantID, active)
}

// activeRules serves the tenant's sorted active rules from the cache
func (m *Manager) activeRules(ctx context.Context, tenantID string) ([]*rules.Rule, error) {
	if cached := m.cache.Get(tenantID); cached != nil {
		return cached, nil
	}

	te, err := m.engine(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	gen := m.generation(tenantID)
	active, err := te.Rules.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	rules.SortByPriority(active)
	if active == nil {
		active = []*rules.Rule{}
	}
	m.fill(tenantID, gen, active)
	return active, nil
}

// Simulate runs the tenant's active rules against the documents with a
// step for every rule. Nothing is persisted.
func (m *Manager) Simulate(ctx context.Context, tenantID string, order, req rules.Document) (*rules.EvaluationResult, error) {
	active, err := m.activeRules(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return rules.NewEvaluator().Simulate(active, order, req), nil
}

// CreateReturn opens a return in its initial status
func (m *Manager) CreateReturn(ctx context.Context, tenantID, orderID string, req returns.Request) (*returns.Return, error) {
	if _, err := m.engine(ctx, tenantID); err != nil {
		return nil, err
	}

	r := &returns.Return{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		OrderID:  orderID,
		Status:   lifecycle.InitialStatus,
		Request:  req,
	}
	if err := m.returns.Create(ctx, r); err != nil {
		return nil, err
	}
	logger.Info("return created", "tenant_id", tenantID, "return_id", r.ID, "order_id", orderID)
	return r, nil
}

// GetReturn returns a return of the tenant
func (m *Manager) GetReturn(ctx context.Context, tenantID, returnID string) (*returns.Return, error) {
	if _, err := m.engine(ctx, tenantID); err != nil {
		return nil, err
	}
	return m.returns.Get(ctx, tenantID, returnID)
}

// Evaluation is the outcome of evaluating a stored return
type Evaluation struct {
	Result     *rules.EvaluationResult     `json:"result"`
	Return     *returns.Return             `json:"return"`
	Transition *lifecycle.TransitionResult `json:"transition,omitempty"`
}

// ErrNotEvaluable is returned when evaluating a return that has already left
// the requested status
var ErrNotEvaluable = errors.New("return is not awaiting a decision")

// EvaluateReturn runs the tenant's rules against a requested return and the
// order it was made against. Every matched rule is recorded in the audit
// trail. An approve or deny decision is applied as the system actor, with
// the rule matches written in the same store call; a manual review or no
// decision leaves the return requested.
func (m *Manager) EvaluateReturn(ctx context.Context, tenantID, returnID string, order returns.Order) (*Evaluation, error) {
	r, err := m.GetReturn(ctx, tenantID, returnID)
	if err != nil {
		return nil, err
	}
	if r.Status != lifecycle.StatusRequested {
		return nil, fmt.Errorf("return %s is %s: %w", returnID, r.Status, ErrNotEvaluable)
	}

	active, err := m.activeRules(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	result := rules.NewEvaluator().Evaluate(active, order.Document(m.now()), r.Request.Document())
	logger.Evaluations.Add(1)
	logger.RulesMatched.Add(int64(len(result.RulesMatched)))

	var matches []lifecycle.AuditEntry
	for _, st := range result.Steps {
		if st.Matched && !st.AfterDecision {
			matches = append(matches, m.machine.NewRuleMatchEntry(tenantID, returnID, r.Status, st.RuleID, st.Reason))
		}
	}

	for _, e := range result.Effects {
		logger.Info("rule effect requested", "tenant_id", tenantID, "return_id", returnID,
			"rule_id", e.RuleID, "kind", e.Kind, "url", e.URL)
	}

	eval := &Evaluation{Result: result, Return: r}

	var target lifecycle.Status
	switch result.FinalStatus {
	case rules.StatusApproved:
		target = lifecycle.StatusApproved
	case rules.StatusDenied:
		target = lifecycle.StatusDenied
	default:
		if len(matches) > 0 {
			if err := m.returns.AppendAudit(ctx, matches...); err != nil {
				return nil, fmt.Errorf("failed to record rule matches: %w", err)
			}
		}
		logger.Info("return evaluated", "tenant_id", tenantID, "return_id", returnID,
			"final_status", result.FinalStatus, "rules_matched", len(result.RulesMatched))
		return eval, nil
	}

	updated, tr, err := m.apply(ctx, r, lifecycle.TransitionRequest{
		ReturnID: returnID,
		TenantID: tenantID,
		Current:  r.Status,
		Target:   target,
		Notes:    result.FinalNotes,
	}, matches...)
	if err != nil {
		return nil, err
	}
	eval.Return = updated
	eval.Transition = tr

	logger.Info("return evaluated", "tenant_id", tenantID, "return_id", returnID,
		"final_status", result.FinalStatus, "rules_matched", len(result.RulesMatched))
	return eval, nil
}

// TransitionInput is a merchant's request to move a return
type TransitionInput struct {
	Target     lifecycle.Status
	Actor      string
	Notes      string
	Forced     bool
	Resolution *lifecycle.ResolutionInput
}

// TransitionReturn applies a merchant transition to the return's current
// status. A concurrent change to the return fails with
// returns.ErrConcurrentUpdate and nothing is written.
func (m *Manager) TransitionReturn(ctx context.Context, tenantID, returnID string, in TransitionInput) (*returns.Return, *lifecycle.TransitionResult, error) {
	r, err := m.GetReturn(ctx, tenantID, returnID)
	if err != nil {
		return nil, nil, err
	}

	return m.apply(ctx, r, lifecycle.TransitionRequest{
		ReturnID:   returnID,
		TenantID:   tenantID,
		Current:    r.Status,
		Target:     in.Target,
		Actor:      in.Actor,
		Notes:      in.Notes,
		Forced:     in.Forced,
		Resolution: in.Resolution,
	})
}

// apply validates the transition and persists it together with the
// preceding audit entries
func (m *Manager) apply(ctx context.Context, r *returns.Return, req lifecycle.TransitionRequest, preceding ...lifecycle.AuditEntry) (*returns.Return, *lifecycle.TransitionResult, error) {
	tr, err := m.machine.Transition(req)
	if err != nil {
		logger.TransitionsRejected.Add(1)
		logger.Warn("transition rejected", "tenant_id", req.TenantID, "return_id", req.ReturnID,
			"from", req.Current, "to", req.Target, "error", err)
		return nil, nil, err
	}

	updated, err := m.returns.ApplyTransition(ctx, req.TenantID, req.ReturnID, r.Version, tr, preceding...)
	if errors.Is(err, returns.ErrConcurrentUpdate) {
		logger.ConcurrentUpdates.Add(1)
		logger.Warn("concurrent transition lost", "tenant_id", req.TenantID, "return_id", req.ReturnID,
			"from", req.Current, "to", req.Target, "version", r.Version)
		return nil, nil, err
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to persist transition: %w", err)
	}

	logger.TransitionsApplied.Add(1)
	logger.Info("return transitioned", "tenant_id", req.TenantID, "return_id", req.ReturnID,
		"from", req.Current, "to", tr.Status, "actor", tr.Audit.UserID, "event", tr.Audit.EventType)
	for _, e := range tr.Effects {
		logger.Debug("side effect requested", "return_id", req.ReturnID, "kind", e.Kind)
	}
	return updated, tr, nil
}

// AllowedTransitions lists the statuses the return can move to next
func (m *Manager) AllowedTransitions(ctx context.Context, tenantID, returnID string) ([]lifecycle.Status, error) {
	r, err := m.GetReturn(ctx, tenantID, returnID)
	if err != nil {
		return nil, err
	}
	return lifecycle.Next(r.Status), nil
}

// AuditTrail returns the return's audit entries, oldest first
func (m *Manager) AuditTrail(ctx context.Context, tenantID, returnID string) ([]lifecycle.AuditEntry, error) {
	if _, err := m.engine(ctx, tenantID); err != nil {
		return nil, err
	}
	return m.returns.ListAudit(ctx, tenantID, returnID)
}

// GetResolution returns the resolution of a resolved return
func (m *Manager) GetResolution(ctx context.Context, tenantID, returnID string) (*lifecycle.Resolution, error) {
	if _, err := m.engine(ctx, tenantID); err != nil {
		return nil, err
	}
	return m.returns.GetResolution(ctx, tenantID, returnID)
}

// AdvanceResolution moves a resolution's completion status forward, for
// example once a refund has been paid out
func (m *Manager) AdvanceResolution(ctx context.Context, tenantID, returnID string, to lifecycle.ResolutionStatus) (*lifecycle.Resolution, error) {
	res, err := m.GetResolution(ctx, tenantID, returnID)
	if err != nil {
		return nil, err
	}

	next, err := res.Advance(to, m.now())
	if err != nil {
		return nil, err
	}
	if err := m.returns.UpdateResolutionStatus(ctx, &next, res.Status); err != nil {
		if errors.Is(err, returns.ErrConcurrentUpdate) {
			logger.ConcurrentUpdates.Add(1)
		}
		return nil, err
	}

	logger.Info("resolution advanced", "tenant_id", tenantID, "return_id", returnID,
		"resolution_id", next.ID, "from", res.Status, "to", next.Status)
	return &next, nil
}
