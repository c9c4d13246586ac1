package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/toolgateway/gatekeeper/internal/adapter/outbound/cel"
	"github.com/toolgateway/gatekeeper/internal/adapter/outbound/memory"
	"github.com/toolgateway/gatekeeper/internal/domain/audit"
	"github.com/toolgateway/gatekeeper/internal/domain/backend"
	"github.com/toolgateway/gatekeeper/internal/domain/caller"
	"github.com/toolgateway/gatekeeper/internal/domain/meter"
	"github.com/toolgateway/gatekeeper/internal/domain/policy"
	"github.com/toolgateway/gatekeeper/internal/domain/ratelimit"
)

type stubRegistry struct {
	owner map[string]string
}

func (s stubRegistry) Descriptors() []backend.Descriptor                  { return nil }
func (s stubRegistry) State(string) (backend.RuntimeState, bool)          { return backend.RuntimeState{}, false }
func (s stubRegistry) States() []backend.RuntimeState                     { return nil }
func (s stubRegistry) Start(context.Context, string) error                { return nil }
func (s stubRegistry) Stop(context.Context, string) error                 { return nil }
func (s stubRegistry) StartAll(context.Context)                           {}
func (s stubRegistry) StopAll(context.Context)                            {}
func (s stubRegistry) FindServerForTool(tool string) (string, bool) {
	id, ok := s.owner[tool]
	return id, ok
}

type stubInvoker struct {
	result json.RawMessage
	err    error
}

func (s stubInvoker) CallTool(context.Context, string, string, map[string]interface{}) (json.RawMessage, error) {
	return s.result, s.err
}

func newTestOrchestrator(t *testing.T, invoker stubInvoker, rules []policy.Rule) (*Orchestrator, *memory.AuditStore) {
	t.Helper()
	conditions, err := cel.NewConditionEvaluator()
	if err != nil {
		t.Fatalf("NewConditionEvaluator: %v", err)
	}
	engine := policy.NewEngine(conditions, nil)
	engine.SetRules(rules)

	auditStore := memory.NewAuditStore()
	recorder := audit.NewRecorder(auditStore)
	meterStore := memory.NewMeterStore()
	m := meter.New(meterStore, time.Hour, nil)

	orc := NewOrchestrator(
		stubRegistry{owner: map[string]string{"read_file": "fs"}},
		invoker,
		engine,
		memory.NewRateLimiter(time.Hour, time.Hour),
		ratelimit.Config{Rate: 100, BurstMultiplier: 1, Window: time.Minute},
		recorder,
		m,
		nil,
	)
	return orc, auditStore
}

func TestOrchestratorAllowsAndAudits(t *testing.T) {
	orc, store := newTestOrchestrator(t, stubInvoker{result: json.RawMessage(`{"ok":true}`)}, []policy.Rule{
		{ID: "allow-all", ServerMatch: "*", ToolMatch: "*", Effect: policy.Allow},
	})

	c := &caller.Context{ConsumerID: "acme", Roles: []string{"reader"}}
	result, err := orc.CallTool(context.Background(), c, "", "read_file", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result) != `{"ok":true}` {
		t.Fatalf("unexpected result: %s", result)
	}

	entries, _ := store.All(context.Background())
	if len(entries) != 1 || entries[0].Status != audit.StatusSuccess {
		t.Fatalf("expected one success audit entry, got %+v", entries)
	}
}

func TestOrchestratorDeniesByDefault(t *testing.T) {
	orc, store := newTestOrchestrator(t, stubInvoker{}, nil)

	c := &caller.Context{ConsumerID: "acme"}
	_, err := orc.CallTool(context.Background(), c, "", "read_file", nil)
	if err == nil {
		t.Fatal("expected denial")
	}

	entries, _ := store.All(context.Background())
	if len(entries) != 1 || entries[0].Status != audit.StatusDenied {
		t.Fatalf("expected one denied audit entry, got %+v", entries)
	}
}

func TestOrchestratorUnknownToolAudited(t *testing.T) {
	orc, store := newTestOrchestrator(t, stubInvoker{}, nil)

	c := &caller.Context{ConsumerID: "acme"}
	_, err := orc.CallTool(context.Background(), c, "", "unknown_tool", nil)
	if err == nil {
		t.Fatal("expected error")
	}

	entries, _ := store.All(context.Background())
	if len(entries) != 1 || entries[0].Status != audit.StatusError {
		t.Fatalf("expected one error audit entry, got %+v", entries)
	}
}
