package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// celCostLimit bounds the work a single expression can do
const celCostLimit = 1000000

// NewExpressionEnv creates the CEL environment expression conditions are
// compiled in. The merged context is bound to the dynamic variable ctx, so an
// expression reads like `ctx.order_amount > 100.0 && ctx.reason != "changed_mind"`.
func NewExpressionEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("ctx", cel.DynType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// CompileExpression compiles an expression condition, returning a
// descriptive error when it does not parse, type-check or yield a bool
func CompileExpression(env *cel.Env, expression string) (cel.Program, error) {
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("expression must evaluate to bool, got %s", out)
	}

	prog, err := env.Program(ast, cel.CostLimit(celCostLimit))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}
	return prog, nil
}

func (ev *Evaluator) program(expression string) (cel.Program, error) {
	ev.envOnce.Do(func() {
		ev.env, ev.envErr = NewExpressionEnv()
	})
	if ev.envErr != nil {
		return nil, ev.envErr
	}

	ev.mu.RLock()
	prog, ok := ev.programs[expression]
	ev.mu.RUnlock()
	if ok {
		return prog, nil
	}

	prog, err := CompileExpression(ev.env, expression)
	if err != nil {
		return nil, err
	}

	ev.mu.Lock()
	ev.programs[expression] = prog
	ev.mu.Unlock()
	return prog, nil
}

// evaluateExpression treats compile errors, evaluation errors and non-bool
// results as a failed condition
func (ev *Evaluator) evaluateExpression(value any, ctx Context) (bool, string) {
	expression, ok := value.(string)
	if !ok || expression == "" {
		return false, "expression must be a non-empty string"
	}

	prog, err := ev.program(expression)
	if err != nil {
		return false, err.Error()
	}

	out, _, err := prog.Eval(map[string]any{"ctx": map[string]any(ctx)})
	if err != nil {
		return false, fmt.Sprintf("evaluation error: %v", err)
	}

	matched, ok := out.Value().(bool)
	if !ok {
		return false, "expression did not evaluate to bool"
	}
	return verdict(matched, "expression is false")
}
