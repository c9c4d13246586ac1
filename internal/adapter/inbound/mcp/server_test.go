package mcp

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
	"github.com/toolgateway/gatekeeper/internal/service"
)

type stubAuth struct {
	ctx *caller.Context
	err error
}

func (s stubAuth) Authenticate(context.Context, string) (*caller.Context, error) {
	return s.ctx, s.err
}

type stubRegistry struct {
	owner  map[string]string
	states []backend.RuntimeState
}

func (s stubRegistry) Descriptors() []backend.Descriptor         { return nil }
func (s stubRegistry) State(string) (backend.RuntimeState, bool) { return backend.RuntimeState{}, false }
func (s stubRegistry) States() []backend.RuntimeState            { return s.states }
func (s stubRegistry) Start(context.Context, string) error       { return nil }
func (s stubRegistry) Stop(context.Context, string) error        { return nil }
func (s stubRegistry) StartAll(context.Context)                  {}
func (s stubRegistry) StopAll(context.Context)                   {}
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

func newTestServer(t *testing.T, rules []policy.Rule, invoker stubInvoker, auth stubAuth) (*Server, *memory.AuditStore) {
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

	reg := stubRegistry{
		owner: map[string]string{"read_file": "fs"},
		states: []backend.RuntimeState{
			{Descriptor: backend.Descriptor{ID: "fs"}, Status: backend.StatusRunning, ToolNames: []string{"read_file"}},
		},
	}

	orc := service.NewOrchestrator(
		reg, invoker, engine,
		memory.NewRateLimiter(time.Hour, time.Hour),
		ratelimit.Config{Rate: 100, BurstMultiplier: 1, Window: time.Minute},
		recorder, m, nil,
	)

	return New(auth, reg, engine, orc, recorder, auditStore, m, nil), auditStore
}

func TestCallSuccess(t *testing.T) {
	c := &caller.Context{ConsumerID: "acme", Roles: []string{"reader"}}
	s, _ := newTestServer(t, []policy.Rule{
		{ID: "allow-all", ServerMatch: "*", ToolMatch: "*", Effect: policy.Allow},
	}, stubInvoker{result: json.RawMessage(`{"ok":true}`)}, stubAuth{ctx: c})

	_, out, err := s.call(context.Background(), nil, CallInput{Tool: "read_file", Args: `{"path":"/tmp/x"}`})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != "success" || string(out.Result) != `{"ok":true}` {
		t.Fatalf("unexpected output: %+v", out)
	}
}

func TestCallDeniedIsStructuredNotError(t *testing.T) {
	c := &caller.Context{ConsumerID: "acme"}
	s, store := newTestServer(t, nil, stubInvoker{}, stubAuth{ctx: c})

	_, out, err := s.call(context.Background(), nil, CallInput{Tool: "read_file"})
	if err != nil {
		t.Fatalf("expected nil Go error for a denial, got %v", err)
	}
	if out.Status != "denied" {
		t.Fatalf("expected denied status, got %+v", out)
	}

	entries, _ := store.All(context.Background())
	if len(entries) != 1 || entries[0].Status != audit.StatusDenied {
		t.Fatalf("expected one denied audit entry, got %+v", entries)
	}
}

func TestCallAuthFailurePropagatesAsError(t *testing.T) {
	s, _ := newTestServer(t, nil, stubInvoker{}, stubAuth{err: errUnauthorized})

	_, _, err := s.call(context.Background(), nil, CallInput{Tool: "read_file"})
	if err == nil {
		t.Fatal("expected an error for an authentication failure")
	}
}

func TestListToolsFiltersByPolicy(t *testing.T) {
	c := &caller.Context{ConsumerID: "acme", Roles: []string{"reader"}}
	s, _ := newTestServer(t, []policy.Rule{
		{ID: "allow-fs", ServerMatch: "fs", ToolMatch: "read_file", Effect: policy.Allow, Roles: []string{"reader"}},
	}, stubInvoker{}, stubAuth{ctx: c})

	_, out, err := s.listTools(context.Background(), nil, ListToolsInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Tools) != 1 || out.Tools[0].Tool != "read_file" {
		t.Fatalf("unexpected tools: %+v", out.Tools)
	}
}

func TestListServers(t *testing.T) {
	s, _ := newTestServer(t, nil, stubInvoker{}, stubAuth{ctx: caller.Anonymous()})

	_, out, err := s.listServers(context.Background(), nil, ListServersInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Servers) != 1 || out.Servers[0].ID != "fs" || out.Servers[0].Status != "running" {
		t.Fatalf("unexpected servers: %+v", out.Servers)
	}
}

func TestAuditVerifyAndStats(t *testing.T) {
	c := &caller.Context{ConsumerID: "acme", Roles: []string{"reader"}}
	s, _ := newTestServer(t, []policy.Rule{
		{ID: "allow-all", ServerMatch: "*", ToolMatch: "*", Effect: policy.Allow},
	}, stubInvoker{result: json.RawMessage(`{}`)}, stubAuth{ctx: c})

	if _, _, err := s.call(context.Background(), nil, CallInput{Tool: "read_file"}); err != nil {
		t.Fatalf("call: %v", err)
	}

	_, verify, err := s.auditVerify(context.Background(), nil, AuditVerifyInput{})
	if err != nil {
		t.Fatalf("auditVerify: %v", err)
	}
	if !verify.Valid {
		t.Fatalf("expected valid chain: %+v", verify)
	}

	_, stats, err := s.auditStats(context.Background(), nil, AuditStatsInput{})
	if err != nil {
		t.Fatalf("auditStats: %v", err)
	}
	if stats.Total != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestUsage(t *testing.T) {
	c := &caller.Context{ConsumerID: "acme", Roles: []string{"reader"}}
	s, _ := newTestServer(t, []policy.Rule{
		{ID: "allow-all", ServerMatch: "*", ToolMatch: "*", Effect: policy.Allow},
	}, stubInvoker{result: json.RawMessage(`{}`)}, stubAuth{ctx: c})

	if _, _, err := s.call(context.Background(), nil, CallInput{Tool: "read_file"}); err != nil {
		t.Fatalf("call: %v", err)
	}

	_, summary, err := s.usage(context.Background(), nil, UsageInput{Consumer: "acme"})
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if summary.TotalCalls != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

var errUnauthorized = &authError{"invalid credential"}

type authError struct{ msg string }

func (e *authError) Error() string { return e.msg }
