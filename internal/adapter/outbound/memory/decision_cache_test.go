package memory

import (
	"testing"

	"github.com/toolgateway/gatekeeper/internal/domain/policy"
)

func TestDecisionCacheGetPut(t *testing.T) {
	c := NewDecisionCache(2)
	ctx1 := policy.EvaluationContext{ServerID: "fs", Tool: "read_file", ConsumerID: "acme"}
	ctx2 := policy.EvaluationContext{ServerID: "fs", Tool: "write_file", ConsumerID: "acme"}

	if _, ok := c.Get(ctx1); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.Put(ctx1, policy.Decision{Allowed: true, RuleID: "r1"})
	got, ok := c.Get(ctx1)
	if !ok || got.RuleID != "r1" {
		t.Fatalf("expected cached hit, got %+v ok=%v", got, ok)
	}

	c.Put(ctx2, policy.Decision{Allowed: false, RuleID: "r2"})
	if c.Size() != 2 {
		t.Fatalf("expected size 2, got %d", c.Size())
	}
}

func TestDecisionCacheEviction(t *testing.T) {
	c := NewDecisionCache(1)
	ctx1 := policy.EvaluationContext{ServerID: "fs", Tool: "a"}
	ctx2 := policy.EvaluationContext{ServerID: "fs", Tool: "b"}

	c.Put(ctx1, policy.Decision{RuleID: "r1"})
	c.Put(ctx2, policy.Decision{RuleID: "r2"})

	if _, ok := c.Get(ctx1); ok {
		t.Fatal("expected ctx1 evicted")
	}
	if _, ok := c.Get(ctx2); !ok {
		t.Fatal("expected ctx2 still cached")
	}
}
