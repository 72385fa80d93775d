package rules

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// Evaluator decides the outcome of a return request from a tenant's rules.
// It holds no tenant state: build one per request with NewEvaluator and pass
// the rules in. Compiled regex patterns and CEL programs are memoized for the
// lifetime of the value, which is safe for concurrent use.
type Evaluator struct {
	envOnce  sync.Once
	env      *cel.Env
	envErr   error
	programs map[string]cel.Program // expression -> compiled program
	regexes  map[string]*regexp.Regexp
	mu       sync.RWMutex
}

// NewEvaluator creates an evaluator
func NewEvaluator() *Evaluator {
	return &Evaluator{
		programs: make(map[string]cel.Program),
		regexes:  make(map[string]*regexp.Regexp),
	}
}

// Evaluate runs rules, which must already be the tenant's active rules sorted
// by priority, against the order and return request. Evaluation stops at the
// first rule that approves or denies; Steps covers the rules up to and
// including that one.
func (ev *Evaluator) Evaluate(rules []*Rule, order, req Document) *EvaluationResult {
	result, stop := ev.run(rules, order, req)
	result.Steps = result.Steps[:stop]
	return result
}

// Simulate is Evaluate with a step for every rule, including the rules after
// the point where Evaluate stops. Every other field is identical.
func (ev *Evaluator) Simulate(rules []*Rule, order, req Document) *EvaluationResult {
	result, _ := ev.run(rules, order, req)
	return result
}

// run evaluates every rule, then walks the trace in order to derive the
// decision. It returns the result with the full trace and the number of
// steps Evaluate keeps.
func (ev *Evaluator) run(rules []*Rule, order, req Document) (*EvaluationResult, int) {
	ctx := NewContext(order, req)

	steps := make([]Step, len(rules))
	for i, r := range rules {
		steps[i] = ev.evaluateRule(r, ctx)
	}

	result := &EvaluationResult{
		RulesMatched: []string{},
		FinalStatus:  StatusRequested,
	}

	var d decider
	stop := len(rules)
	for i, r := range rules {
		if !steps[i].Matched {
			continue
		}
		result.RulesMatched = append(result.RulesMatched, r.ID)
		if d.apply(r, &steps[i]) {
			stop = i + 1
			break
		}
	}

	for i := stop; i < len(steps); i++ {
		steps[i].AfterDecision = true
	}

	result.RulesEvaluated = stop
	result.Steps = steps
	result.Effects = d.effects
	result.ManualReview = d.review

	switch {
	case d.decision != "":
		result.FinalStatus = d.decision
	case d.review:
		result.FinalStatus = StatusPending
	}

	switch {
	case len(result.RulesMatched) == 0:
		result.FinalNotes = "No rule applied; return remains requested"
	case len(d.notes) == 0:
		result.FinalNotes = fmt.Sprintf("%d rule(s) matched without a status decision", len(result.RulesMatched))
	default:
		result.FinalNotes = strings.Join(d.notes, "; ")
	}

	return result, stop
}

// decider accumulates the effect of matched rules' actions
type decider struct {
	decision FinalStatus
	review   bool
	notes    []string
	effects  []Effect
}

// apply runs a matched rule's actions in order and reports whether the rule
// produced a terminal decision. A manual review requested by an earlier
// rule holds: later approvals are recorded but suppressed, while a denial
// still applies. Nil actions are skipped.
func (d *decider) apply(r *Rule, st *Step) bool {
	for _, a := range r.Actions {
		if a == nil {
			continue
		}
		switch a := a.(type) {
		case AutoApprove:
			if d.review {
				d.notes = append(d.notes, fmt.Sprintf("Auto-approval by rule %q suppressed pending manual review", r.Name))
				st.Reason += "; auto-approval suppressed by manual review"
				continue
			}
			d.notes = append(d.notes, withDetail(fmt.Sprintf("Auto-approved by rule %q", r.Name), a.Note))
			d.decision = StatusApproved
			st.Decision = StatusApproved
			return true

		case Deny:
			d.notes = append(d.notes, withDetail(fmt.Sprintf("Denied by rule %q", r.Name), a.Reason))
			d.decision = StatusDenied
			st.Decision = StatusDenied
			return true

		case ManualReview:
			d.review = true
			d.notes = append(d.notes, withDetail(fmt.Sprintf("Manual review required by rule %q", r.Name), a.ReasonHint))
			st.Decision = StatusPending

		case AddNote:
			d.notes = append(d.notes, a.Note)
			d.effects = append(d.effects, Effect{Kind: EffectNote, RuleID: r.ID, Note: a.Note})

		case Webhook:
			d.effects = append(d.effects, Effect{
				Kind:            EffectWebhook,
				RuleID:          r.ID,
				URL:             a.URL,
				PayloadTemplate: a.PayloadTemplate,
			})
		}
	}
	return false
}

func withDetail(msg, detail string) string {
	if detail == "" {
		return msg
	}
	return msg + ": " + detail
}

// evaluateRule evaluates every group of a rule. A rule without groups matches
// every return.
func (ev *Evaluator) evaluateRule(r *Rule, ctx Context) Step {
	if r == nil {
		return Step{Reason: "rule is nil"}
	}

	st := Step{
		RuleID:   r.ID,
		RuleName: r.Name,
		Priority: r.Priority,
		Matched:  true,
		Groups:   make([]GroupTrace, 0, len(r.ConditionGroups)),
		Actions:  r.Actions.Types(),
	}

	var failed []string
	for i, g := range r.ConditionGroups {
		gt := ev.evaluateGroup(g, ctx)
		st.Groups = append(st.Groups, gt)
		if !gt.Matched {
			st.Matched = false
			failed = append(failed, fmt.Sprintf("group %d: %s", i+1, gt.Reason))
		}
	}

	if st.Matched {
		st.Reason = fmt.Sprintf("all %d condition group(s) matched", len(r.ConditionGroups))
	} else {
		st.Reason = strings.Join(failed, "; ")
	}
	return st
}

// evaluateGroup evaluates every condition of a group, even after the outcome
// is known, so the trace is complete
func (ev *Evaluator) evaluateGroup(g ConditionGroup, ctx Context) GroupTrace {
	gt := GroupTrace{LogicOperator: g.LogicOperator}

	if len(g.Conditions) == 0 {
		gt.Reason = "group has no conditions"
		return gt
	}
	if g.LogicOperator != LogicAnd && g.LogicOperator != LogicOr {
		gt.Reason = fmt.Sprintf("unknown logic operator %q", g.LogicOperator)
		return gt
	}

	passed := 0
	var failures []string
	for _, c := range g.Conditions {
		ok, reason := ev.evaluateCondition(c, ctx)
		gt.Conditions = append(gt.Conditions, ConditionTrace{
			Field:    c.Field,
			Operator: c.Operator,
			Passed:   ok,
			Reason:   reason,
		})
		if ok {
			passed++
		} else {
			failures = append(failures, fmt.Sprintf("%s %s: %s", c.Field, c.Operator, reason))
		}
	}

	if g.LogicOperator == LogicAnd {
		gt.Matched = passed == len(g.Conditions)
	} else {
		gt.Matched = passed > 0
	}
	if !gt.Matched {
		gt.Reason = strings.Join(failures, ", ")
	}
	return gt
}
