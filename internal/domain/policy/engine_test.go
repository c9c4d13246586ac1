package policy

import (
	"context"
	"testing"
)

type stubConditions struct {
	result bool
	err    error
}

func (s stubConditions) Matches(_ context.Context, _ []Condition, _ map[string]interface{}) (bool, error) {
	return s.result, s.err
}

func TestEngineDefaultDeny(t *testing.T) {
	e := NewEngine(stubConditions{result: true}, nil)
	e.SetRules(nil)

	d, err := e.Evaluate(context.Background(), EvaluationContext{ServerID: "fs", Tool: "read_file"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected default-deny decision")
	}
}

func TestEngineSpecificityOrdering(t *testing.T) {
	e := NewEngine(stubConditions{result: true}, nil)
	e.SetRules([]Rule{
		{ID: "wildcard-allow", ServerMatch: "*", ToolMatch: "*", Effect: Allow},
		{ID: "specific-deny", ServerMatch: "fs", ToolMatch: "delete_*", Effect: Deny},
	})

	d, err := e.Evaluate(context.Background(), EvaluationContext{ServerID: "fs", Tool: "delete_file"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed || d.RuleID != "specific-deny" {
		t.Fatalf("expected the more specific deny rule to win, got %+v", d)
	}

	d2, err := e.Evaluate(context.Background(), EvaluationContext{ServerID: "fs", Tool: "read_file"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d2.Allowed || d2.RuleID != "wildcard-allow" {
		t.Fatalf("expected the wildcard allow rule to apply, got %+v", d2)
	}
}

func TestEngineRoleFiltering(t *testing.T) {
	e := NewEngine(stubConditions{result: true}, nil)
	e.SetRules([]Rule{
		{ID: "admin-only", ServerMatch: "*", ToolMatch: "*", Roles: []string{"admin"}, Effect: Allow},
	})

	d, err := e.Evaluate(context.Background(), EvaluationContext{ServerID: "fs", Tool: "read_file", Roles: []string{"reader"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected deny: caller lacks required role")
	}
}

func TestEngineConditionFailureFallsThrough(t *testing.T) {
	e := NewEngine(stubConditions{result: false}, nil)
	e.SetRules([]Rule{
		{ID: "conditional", ServerMatch: "*", ToolMatch: "*", Conditions: []Condition{{Field: "path", Operator: OpEq, Value: "/etc/passwd"}}, Effect: Deny},
		{ID: "fallback", ServerMatch: "*", ToolMatch: "*", Effect: Allow},
	})

	d, err := e.Evaluate(context.Background(), EvaluationContext{ServerID: "fs", Tool: "read_file"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed || d.RuleID != "fallback" {
		t.Fatalf("expected fallback rule when condition does not match, got %+v", d)
	}
}
