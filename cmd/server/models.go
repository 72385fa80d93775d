package main

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/liamcoop/returns/lifecycle"
	"github.com/liamcoop/returns/multitenantengine"
	"github.com/liamcoop/returns/returns"
	"github.com/liamcoop/returns/rules"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// CreateTenantRequest represents the request body for creating a tenant
type CreateTenantRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

func (r *CreateTenantRequest) Validate() error {
	return validate.Struct(r)
}

// TenantsListResponse represents the response for listing tenants
type TenantsListResponse struct {
	Tenants []multitenantengine.Tenant `json:"tenants"`
}

// RuleRequest is the body for creating or replacing a rule
type RuleRequest struct {
	Name            string                 `json:"name" validate:"required,max=200"`
	Priority        *int                   `json:"priority" validate:"required,min=0"`
	Active          *bool                  `json:"is_active,omitempty"`
	ConditionGroups []rules.ConditionGroup `json:"condition_groups" validate:"max=20"`
	Actions         rules.Actions          `json:"actions" validate:"required,min=1,max=20"`
}

func (r *RuleRequest) Validate() error {
	return validate.Struct(r)
}

// ToRule builds the rule; a missing is_active means active
func (r *RuleRequest) ToRule(id string) *rules.Rule {
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	return &rules.Rule{
		ID:              id,
		Name:            r.Name,
		Priority:        *r.Priority,
		Active:          active,
		ConditionGroups: r.ConditionGroups,
		Actions:         r.Actions,
	}
}

// RulesListResponse represents the response for listing rules
type RulesListResponse struct {
	Rules []*rules.Rule `json:"rules"`
}

// SimulateRequest carries raw order and return documents
type SimulateRequest struct {
	Order  rules.Document `json:"order"`
	Return rules.Document `json:"return" validate:"required"`
}

func (r *SimulateRequest) Validate() error {
	return validate.Struct(r)
}

// CreateReturnRequest opens a return against an order
type CreateReturnRequest struct {
	OrderID       string          `json:"order_id" validate:"required,max=200"`
	Reason        string          `json:"reason" validate:"required,max=100"`
	ItemsToReturn []string        `json:"items_to_return" validate:"required,min=1,dive,required"`
	RefundAmount  decimal.Decimal `json:"refund_amount"`
	Notes         string          `json:"notes,omitempty" validate:"max=2000"`
}

func (r *CreateReturnRequest) Validate() error {
	return validate.Struct(r)
}

func (r *CreateReturnRequest) ToRequest() returns.Request {
	return returns.Request{
		Reason:        r.Reason,
		ItemsToReturn: r.ItemsToReturn,
		RefundAmount:  r.RefundAmount,
		Notes:         r.Notes,
	}
}

// EvaluateReturnRequest supplies the order a stored return is evaluated against
type EvaluateReturnRequest struct {
	Order returns.Order `json:"order"`
}

func (r *EvaluateReturnRequest) Validate() error {
	return validate.Var(r.Order.ID, "required")
}

// TransitionRequest is a merchant's status change
type TransitionRequest struct {
	Target     string                     `json:"target" validate:"required"`
	Actor      string                     `json:"actor" validate:"required,max=200"`
	Notes      string                     `json:"notes,omitempty" validate:"max=2000"`
	Force      bool                       `json:"force,omitempty"`
	Resolution *lifecycle.ResolutionInput `json:"resolution,omitempty"`
}

func (r *TransitionRequest) Validate() error {
	return validate.Struct(r)
}

// AdvanceResolutionRequest moves a resolution towards completion
type AdvanceResolutionRequest struct {
	Status string `json:"status" validate:"required,oneof=processing completed failed"`
}

func (r *AdvanceResolutionRequest) Validate() error {
	return validate.Struct(r)
}

// TransitionResponse is the persisted return plus what the transition produced
type TransitionResponse struct {
	Return     *returns.Return             `json:"return"`
	Transition *lifecycle.TransitionResult `json:"transition"`
}

// AllowedTransitionsResponse lists the legal next statuses
type AllowedTransitionsResponse struct {
	Transitions []lifecycle.Status `json:"transitions"`
}

// AuditResponse is a return's audit trail
type AuditResponse struct {
	Entries []lifecycle.AuditEntry `json:"entries"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status        string           `json:"status"`
	TenantsLoaded int              `json:"tenantsLoaded"`
	Counters      map[string]int64 `json:"counters"`
	CheckedAt     time.Time        `json:"checkedAt"`
}
