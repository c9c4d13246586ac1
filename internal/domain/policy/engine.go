package policy

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
)

// ErrNoMatch names the no-rule-matched outcome. Engine.Evaluate does not
// return it: when no rule matches it returns the default-deny Decision.
var ErrNoMatch = errors.New("policy: no rule matched")

// ConditionEvaluator evaluates a rule's argument conditions. The cel
// package's ConditionEvaluator implements this.
type ConditionEvaluator interface {
	Matches(ctx context.Context, conditions []Condition, args map[string]interface{}) (bool, error)
}

// DecisionCache memoizes decisions for identical evaluation contexts.
// internal/adapter/outbound/memory's xxhash-keyed LRU implements this.
type DecisionCache interface {
	Get(evalCtx EvaluationContext) (Decision, bool)
	Put(evalCtx EvaluationContext, d Decision)
}

// Engine evaluates tool calls against a hot-reloadable rule set, most
// specific rule first, with an implicit default-deny. Rule ordering and the
// atomic.Value snapshot swap mirror the teacher's PolicyService.
type Engine struct {
	rules      atomic.Value // []Rule, pre-sorted by descending specificity
	conditions ConditionEvaluator
	cache      DecisionCache
}

// NewEngine builds an Engine. cache may be nil to disable memoization.
func NewEngine(conditions ConditionEvaluator, cache DecisionCache) *Engine {
	e := &Engine{conditions: conditions, cache: cache}
	e.rules.Store([]Rule{})
	return e
}

// SetRules atomically replaces the loaded rule set, pre-sorting it by
// descending specificity of (ServerMatch, ToolMatch) so the most specific
// applicable rule is always considered first. Callers may call this
// repeatedly; in-flight Evaluate calls see either the old or
// the new snapshot, never a partial one.
func (e *Engine) SetRules(rules []Rule) {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		si := specificity(sorted[i].ServerMatch) + specificity(sorted[i].ToolMatch)
		sj := specificity(sorted[j].ServerMatch) + specificity(sorted[j].ToolMatch)
		return si > sj
	})
	e.rules.Store(sorted)
}

// Evaluate walks the loaded rules in specificity order and returns the
// first match's effect, or a default-deny Decision if nothing matches.
func (e *Engine) Evaluate(ctx context.Context, evalCtx EvaluationContext) (Decision, error) {
	if e.cache != nil {
		if d, ok := e.cache.Get(evalCtx); ok {
			return d, nil
		}
	}

	decision, err := e.evaluateUncached(ctx, evalCtx)
	if err != nil {
		return Decision{}, err
	}

	if e.cache != nil {
		e.cache.Put(evalCtx, decision)
	}
	return decision, nil
}

func (e *Engine) evaluateUncached(ctx context.Context, evalCtx EvaluationContext) (Decision, error) {
	rules, _ := e.rules.Load().([]Rule)

	for _, r := range rules {
		if !globMatch(r.ServerMatch, evalCtx.ServerID) {
			continue
		}
		if !globMatch(r.ToolMatch, evalCtx.Tool) {
			continue
		}
		if !rolesMatch(r.Roles, evalCtx.Roles) {
			continue
		}
		if len(r.Conditions) > 0 {
			ok, err := e.conditions.Matches(ctx, r.Conditions, evalCtx.Arguments)
			if err != nil {
				return Decision{}, err
			}
			if !ok {
				continue
			}
		}
		return Decision{
			Allowed: r.Effect == Allow,
			RuleID:  r.ID,
			Reason:  "matched rule " + r.ID,
		}, nil
	}

	return Decision{Allowed: false, Reason: "default deny: no rule matched"}, nil
}

func rolesMatch(required, held []string) bool {
	if len(required) == 0 {
		return true
	}
	for _, want := range required {
		for _, have := range held {
			if want == "*" || want == have || have == "*" {
				return true
			}
		}
	}
	return false
}
