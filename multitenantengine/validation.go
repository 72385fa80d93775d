package multitenantengine

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/liamcoop/returns/rules"
)

// ErrInvalidRule wraps every rule validation failure
var ErrInvalidRule = errors.New("invalid rule")

const (
	maxRuleNameLength  = 200
	maxConditionGroups = 20
	maxConditions      = 50
	maxActions         = 20
	maxPathSegments    = 10
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateRule checks a rule definition before it is stored. The evaluator
// tolerates anything a stored rule contains; this is where malformed rules
// are rejected.
func ValidateRule(rule *rules.Rule) error {
	if err := validateRule(rule); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return nil
}

func validateRule(rule *rules.Rule) error {
	if rule == nil {
		return fmt.Errorf("rule is required")
	}

	name := strings.TrimSpace(rule.Name)
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if len(name) > maxRuleNameLength {
		return fmt.Errorf("name length %d exceeds maximum of %d characters", len(name), maxRuleNameLength)
	}
	if rule.Priority < 0 {
		return fmt.Errorf("priority must not be negative, got %d", rule.Priority)
	}

	if len(rule.ConditionGroups) > maxConditionGroups {
		return fmt.Errorf("rule contains %d condition groups, maximum allowed is %d", len(rule.ConditionGroups), maxConditionGroups)
	}
	for i, g := range rule.ConditionGroups {
		if err := validateGroup(g); err != nil {
			return fmt.Errorf("condition group %d: %w", i+1, err)
		}
	}

	if len(rule.Actions) == 0 {
		return fmt.Errorf("rule must have at least one action")
	}
	if len(rule.Actions) > maxActions {
		return fmt.Errorf("rule contains %d actions, maximum allowed is %d", len(rule.Actions), maxActions)
	}
	for i, a := range rule.Actions {
		if a == nil {
			return fmt.Errorf("action %d is empty", i+1)
		}
	}
	return nil
}

func validateGroup(g rules.ConditionGroup) error {
	if g.LogicOperator != rules.LogicAnd && g.LogicOperator != rules.LogicOr {
		return fmt.Errorf("logic operator must be %q or %q, got %q", rules.LogicAnd, rules.LogicOr, g.LogicOperator)
	}
	if len(g.Conditions) == 0 {
		return fmt.Errorf("group must contain at least one condition")
	}
	if len(g.Conditions) > maxConditions {
		return fmt.Errorf("group contains %d conditions, maximum allowed is %d", len(g.Conditions), maxConditions)
	}
	for i, c := range g.Conditions {
		if err := validateCondition(c); err != nil {
			return fmt.Errorf("condition %d: %w", i+1, err)
		}
	}
	return nil
}

func validateCondition(c rules.Condition) error {
	if !c.Operator.IsKnown() {
		return fmt.Errorf("unknown operator %q", c.Operator)
	}

	if c.Operator == rules.OpExpression {
		expr, ok := c.Value.(string)
		if !ok || strings.TrimSpace(expr) == "" {
			return fmt.Errorf("expression must be a non-empty string")
		}
		env, err := rules.NewExpressionEnv()
		if err != nil {
			return err
		}
		if _, err := rules.CompileExpression(env, expr); err != nil {
			return err
		}
		return nil
	}

	if err := validateFieldPath(c.Field); err != nil {
		return fmt.Errorf("invalid field %q: %w", c.Field, err)
	}

	switch c.Operator {
	case rules.OpIn, rules.OpNotIn:
		if !isList(c.Value) {
			return fmt.Errorf("%s requires a list value", c.Operator)
		}
	case rules.OpRegex:
		pattern, ok := c.Value.(string)
		if !ok {
			return fmt.Errorf("regex requires a string pattern")
		}
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("invalid regex: %w", err)
		}
	case rules.OpGreaterThan, rules.OpLessThan, rules.OpGreaterThanOrEqual, rules.OpLessThanOrEqual:
		if !isNumeric(c.Value) {
			return fmt.Errorf("%s requires a numeric value", c.Operator)
		}
	}
	return nil
}

// validateFieldPath accepts dotted paths of identifiers and list indexes,
// such as customer.country or order_items.0.sku
func validateFieldPath(path string) error {
	if path == "" {
		return fmt.Errorf("field path cannot be empty")
	}
	segments := strings.Split(path, ".")
	if len(segments) > maxPathSegments {
		return fmt.Errorf("field path has %d segments, maximum allowed is %d", len(segments), maxPathSegments)
	}
	for i, seg := range segments {
		if i > 0 {
			if _, err := strconv.Atoi(seg); err == nil {
				continue
			}
		}
		if err := validateIdentifier(seg); err != nil {
			return err
		}
	}
	return nil
}

// validateIdentifier validates one path segment
func validateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > 100 {
		return fmt.Errorf("identifier length %d exceeds maximum of 100 characters", len(name))
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("%q must match pattern ^[a-zA-Z_][a-zA-Z0-9_]*$ (start with letter or underscore, followed by letters, digits, or underscores)", name)
	}
	return nil
}

func isList(v any) bool {
	switch v.(type) {
	case []any, []string, []float64, []int:
		return true
	}
	return false
}

func isNumeric(v any) bool {
	switch n := v.(type) {
	case float64, float32, int, int64, int32:
		return true
	case string:
		_, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return err == nil
	}
	return false
}
