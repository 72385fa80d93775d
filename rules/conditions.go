package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// evaluateCondition never fails: anything that cannot be evaluated is
// reported as a non-passing condition with a reason.
func (ev *Evaluator) evaluateCondition(c Condition, ctx Context) (bool, string) {
	if c.Operator == OpExpression {
		return ev.evaluateExpression(c.Value, ctx)
	}

	actual, ok := ctx.Resolve(c.Field)
	if !ok {
		return false, fmt.Sprintf("field %q not found", c.Field)
	}

	switch c.Operator {
	case OpEquals:
		return verdict(valuesEqual(actual, c.Value), "value differs")
	case OpNotEquals:
		return verdict(!valuesEqual(actual, c.Value), "value is equal")

	case OpGreaterThan, OpLessThan, OpGreaterThanOrEqual, OpLessThanOrEqual:
		left, lok := toDecimal(actual)
		right, rok := toDecimal(c.Value)
		if !lok || !rok {
			return false, "operands are not numeric"
		}
		return verdict(compareNumeric(c.Operator, left.Cmp(right)), "comparison is false")

	case OpContains:
		return verdict(contains(actual, c.Value), "value not contained")

	case OpIn:
		list, ok := toList(c.Value)
		if !ok {
			return false, "value is not a list"
		}
		return verdict(anyIn(actual, list), "value not in list")

	case OpNotIn:
		list, ok := toList(c.Value)
		if !ok {
			return false, "value is not a list"
		}
		return verdict(!anyIn(actual, list), "value in list")

	case OpRegex:
		pattern, ok := c.Value.(string)
		if !ok {
			return false, "pattern is not a string"
		}
		re, err := ev.regex(pattern)
		if err != nil {
			return false, fmt.Sprintf("invalid pattern: %v", err)
		}
		s, ok := scalarString(actual)
		if !ok {
			return false, "field is not a scalar"
		}
		return verdict(re.MatchString(s), "pattern does not match")
	}

	return false, fmt.Sprintf("unknown operator %q", c.Operator)
}

func verdict(passed bool, failure string) (bool, string) {
	if passed {
		return true, ""
	}
	return false, failure
}

func compareNumeric(op Operator, cmp int) bool {
	switch op {
	case OpGreaterThan:
		return cmp > 0
	case OpLessThan:
		return cmp < 0
	case OpGreaterThanOrEqual:
		return cmp >= 0
	case OpLessThanOrEqual:
		return cmp <= 0
	}
	return false
}

// maxExponent bounds the scale of parsed numeric strings. Comparing decimals
// rescales them, which is unbounded work for exponents like 1e10000000.
const maxExponent = 64

// toDecimal coerces numbers and numeric strings. Booleans, NaN, infinities
// and strings with an exponent beyond maxExponent are not numeric.
func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case *decimal.Decimal:
		if n == nil {
			return decimal.Zero, false
		}
		return *n, true
	case json.Number:
		return parseDecimal(n.String())
	case string:
		return parseDecimal(strings.TrimSpace(n))
	case float32:
		return floatDecimal(float64(n))
	case float64:
		return floatDecimal(n)
	case bool, nil:
		return decimal.Zero, false
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return decimal.NewFromInt(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(rv.Uint()), 0), true
	}
	return decimal.Zero, false
}

func parseDecimal(s string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if exp := d.Exponent(); exp > maxExponent || exp < -maxExponent {
		return decimal.Zero, false
	}
	return d, true
}

func floatDecimal(f float64) (decimal.Decimal, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(f), true
}

func isNumberType(v any) bool {
	if _, ok := v.(string); ok {
		return false
	}
	_, ok := toDecimal(v)
	return ok
}

// valuesEqual compares numbers numerically (150 == 150.0) when at least one
// side is a number, strings exactly, and everything else structurally.
func valuesEqual(a, b any) bool {
	if isNumberType(a) || isNumberType(b) {
		da, aok := toDecimal(a)
		db, bok := toDecimal(b)
		return aok && bok && da.Equal(db)
	}
	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		return ok && sa == sb
	}
	return reflect.DeepEqual(a, b)
}

func contains(haystack, needle any) bool {
	if s, ok := haystack.(string); ok {
		n, ok := needle.(string)
		return ok && strings.Contains(s, n)
	}
	if list, ok := toList(haystack); ok {
		for _, item := range list {
			if valuesEqual(item, needle) {
				return true
			}
		}
		return false
	}
	rv := reflect.ValueOf(haystack)
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
		key, ok := needle.(string)
		if !ok {
			return false
		}
		return rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key())).IsValid()
	}
	return false
}

// anyIn reports whether v is one of list. A list-valued v is in the list
// when any of its elements is.
func anyIn(v any, list []any) bool {
	if items, ok := toList(v); ok {
		for _, item := range items {
			if anyIn(item, list) {
				return true
			}
		}
		return false
	}
	for _, candidate := range list {
		if valuesEqual(v, candidate) {
			return true
		}
	}
	return false
}

func toList(v any) ([]any, bool) {
	if list, ok := v.([]any); ok {
		return list, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func scalarString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case bool:
		return fmt.Sprint(s), true
	}
	if d, ok := toDecimal(v); ok {
		return d.String(), true
	}
	return "", false
}

func (ev *Evaluator) regex(pattern string) (*regexp.Regexp, error) {
	ev.mu.RLock()
	re, ok := ev.regexes[pattern]
	ev.mu.RUnlock()
	if ok {
		return re, nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	ev.mu.Lock()
	ev.regexes[pattern] = re
	ev.mu.Unlock()
	return re, nil
}
