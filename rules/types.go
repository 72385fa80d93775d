package rules

import "time"

// Document is an already-fetched order or return request, as plain key/value data
type Document map[string]any

// LogicOperator combines the conditions of one group
type LogicOperator string

const (
	LogicAnd LogicOperator = "and"
	LogicOr  LogicOperator = "or"
)

// Operator is a condition comparison operator
type Operator string

const (
	OpEquals             Operator = "equals"
	OpNotEquals          Operator = "not_equals"
	OpGreaterThan        Operator = "greater_than"
	OpLessThan           Operator = "less_than"
	OpGreaterThanOrEqual Operator = "greater_than_or_equal"
	OpLessThanOrEqual    Operator = "less_than_or_equal"
	OpContains           Operator = "contains"
	OpIn                 Operator = "in"
	OpNotIn              Operator = "not_in"
	OpRegex              Operator = "regex"

	// OpExpression evaluates Value as a CEL boolean expression with the
	// merged context bound to the variable ctx. Field is ignored.
	OpExpression Operator = "expression"
)

// KnownOperators lists every operator the evaluator understands
var KnownOperators = []Operator{
	OpEquals, OpNotEquals,
	OpGreaterThan, OpLessThan, OpGreaterThanOrEqual, OpLessThanOrEqual,
	OpContains, OpIn, OpNotIn, OpRegex, OpExpression,
}

// IsKnown reports whether the evaluator implements op
func (op Operator) IsKnown() bool {
	for _, k := range KnownOperators {
		if k == op {
			return true
		}
	}
	return false
}

// Condition is a single field/operator/value check
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// ConditionGroup is a set of conditions combined by one logic operator.
// A nil Conditions slice means the group was stored without its conditions
// and never matches.
type ConditionGroup struct {
	LogicOperator LogicOperator `json:"logic_operator"`
	Conditions    []Condition   `json:"conditions"`
}

// Rule is a tenant-scoped return policy record
type Rule struct {
	ID              string           `json:"id"`
	TenantID        string           `json:"tenant_id"`
	Name            string           `json:"name"`
	Priority        int              `json:"priority"`
	Active          bool             `json:"is_active"`
	ConditionGroups []ConditionGroup `json:"condition_groups"`
	Actions         Actions          `json:"actions"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`

	// Seq records insertion order and breaks priority ties
	Seq int64 `json:"-"`
}

// FinalStatus is the status an evaluation recommends for the return
type FinalStatus string

const (
	// StatusRequested means no rule decided anything; the return stays as it is
	StatusRequested FinalStatus = "requested"
	StatusApproved  FinalStatus = "approved"
	StatusDenied    FinalStatus = "denied"
	// StatusPending means a matched rule asked for manual review
	StatusPending FinalStatus = "pending"
)

// EvaluationResult is the outcome of evaluating a rule set against one return
type EvaluationResult struct {
	RulesEvaluated int         `json:"rules_evaluated"`
	RulesMatched   []string    `json:"rules_matched"`
	FinalStatus    FinalStatus `json:"final_status"`
	FinalNotes     string      `json:"final_notes"`
	ManualReview   bool        `json:"manual_review"`
	Effects        []Effect    `json:"effects,omitempty"`
	Steps          []Step      `json:"steps"`
}

// Step explains the evaluation of one rule
type Step struct {
	RuleID   string       `json:"rule_id"`
	RuleName string       `json:"rule_name"`
	Priority int          `json:"priority"`
	Matched  bool         `json:"matched"`
	Reason   string       `json:"reason"`
	Groups   []GroupTrace `json:"groups"`
	Actions  []ActionType `json:"actions,omitempty"`

	// Decision is the status this rule's actions produced, if any
	Decision FinalStatus `json:"decision,omitempty"`

	// AfterDecision marks steps past the point where Evaluate stops.
	// Only Simulate returns such steps.
	AfterDecision bool `json:"after_decision,omitempty"`
}

// GroupTrace explains the evaluation of one condition group
type GroupTrace struct {
	LogicOperator LogicOperator    `json:"logic_operator"`
	Matched       bool             `json:"matched"`
	Reason        string           `json:"reason,omitempty"`
	Conditions    []ConditionTrace `json:"conditions,omitempty"`
}

// ConditionTrace explains the evaluation of one condition
type ConditionTrace struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Passed   bool     `json:"passed"`
	Reason   string   `json:"reason,omitempty"`
}

// EffectKind identifies a side effect requested by a matched rule
type EffectKind string

const (
	EffectNote    EffectKind = "note"
	EffectWebhook EffectKind = "webhook"
)

// Effect is a side effect requested by a matched rule. The evaluator never
// performs it; the caller decides whether and how.
type Effect struct {
	Kind            EffectKind `json:"kind"`
	RuleID          string     `json:"rule_id"`
	Note            string     `json:"note,omitempty"`
	URL             string     `json:"url,omitempty"`
	PayloadTemplate string     `json:"payload_template,omitempty"`
}
