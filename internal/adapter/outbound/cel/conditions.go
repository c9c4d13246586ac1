// Package cel compiles policy.Condition values into cached CEL programs,
// grounded on the teacher's internal/adapter/outbound/cel.Evaluator
// (a cost budget and a per-evaluation timeout carried over unchanged).
package cel

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/toolgateway/gatekeeper/internal/domain/policy"
)

const (
	maxCostBudget      = 100_000
	interruptCheckFreq = 100
	evalTimeout        = 2 * time.Second
)

// ConditionEvaluator compiles policy.Condition expressions to CEL programs
// and caches them by operator: the field's value and the condition's operand
// are passed in as variables, so one program serves every condition with
// that operator.
type ConditionEvaluator struct {
	env *cel.Env

	mu    sync.Mutex
	cache map[string]cel.Program
}

// NewConditionEvaluator builds a ConditionEvaluator with a CEL environment
// declaring the two variables every compiled condition expression needs:
// "value" (the argument under test) and "target" (the condition's operand).
func NewConditionEvaluator() (*ConditionEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("value", cel.DynType),
		cel.Variable("target", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("cel: build environment: %w", err)
	}
	return &ConditionEvaluator{env: env, cache: make(map[string]cel.Program)}, nil
}

// Matches reports whether every condition holds for the given arguments.
// A condition whose field is absent from args fails outright, for every
// operator, without invoking CEL (spec: "a condition whose parameter is
// absent from args fails"). A condition that cannot be evaluated at all —
// an invalid regex, a non-array "in" operand — also fails rather than
// propagating an error: this single condition does not match, so the rule
// it belongs to is skipped and walking continues to the next rule, instead
// of aborting the whole policy evaluation.
func (e *ConditionEvaluator) Matches(ctx context.Context, conditions []policy.Condition, args map[string]interface{}) (bool, error) {
	for _, c := range conditions {
		value, present := args[c.Field]
		if !present {
			return false, nil
		}
		if c.Operator == policy.OpIn && !isArray(c.Value) {
			return false, nil
		}
		ok, err := e.evalOne(ctx, c, value)
		if err != nil {
			return false, nil
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func isArray(v interface{}) bool {
	if v == nil {
		return false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Slice, reflect.Array:
		return true
	default:
		return false
	}
}

func (e *ConditionEvaluator) evalOne(ctx context.Context, c policy.Condition, value interface{}) (bool, error) {
	prg, err := e.compile(c.Operator)
	if err != nil {
		return false, err
	}

	evalCtx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	out, _, err := prg.ContextEval(evalCtx, map[string]interface{}{
		"value":  value,
		"target": c.Value,
	})
	if err != nil {
		return false, fmt.Errorf("cel: evaluate %s condition on %q: %w", c.Operator, c.Field, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("cel: condition on %q did not evaluate to bool", c.Field)
	}
	return b, nil
}

func (e *ConditionEvaluator) compile(op policy.Operator) (cel.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.cache[string(op)]; ok {
		return prg, nil
	}

	expr, err := expressionFor(op)
	if err != nil {
		return nil, err
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel: compile %q condition: %w", op, issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("cel: build program for %q condition: %w", op, err)
	}
	e.cache[string(op)] = prg
	return prg, nil
}

func expressionFor(op policy.Operator) (string, error) {
	switch op {
	case policy.OpEq:
		// String-coerced equality per spec §4.2: a numeric argument and a
		// string operand compare equal if their string forms match,
		// rather than raising a typed-comparison error.
		return "string(value) == string(target)", nil
	case policy.OpNeq:
		return "string(value) != string(target)", nil
	case policy.OpIn:
		return "value in target", nil
	case policy.OpRegex:
		return "string(value).matches(string(target))", nil
	default:
		return "", errors.New("cel: unknown condition operator " + string(op))
	}
}
