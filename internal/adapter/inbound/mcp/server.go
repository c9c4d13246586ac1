// Package mcp exposes the gateway itself as an MCP tool provider: the
// southbound surface named in spec §6, advertising call, list_tools,
// list_servers, server_status, audit_log, audit_verify, audit_stats, and
// usage. Grounded on Aureuma-si/tools/credentials-mcp's mcp.NewServer /
// mcp.AddTool / mcp.NewStreamableHTTPHandler wiring; unlike that teacher,
// every handler here builds its *mcp.CallToolResult explicitly so results
// are always a single-element content array carrying JSON text, per the
// wire contract spec §6 names.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/toolgateway/gatekeeper/internal/domain/audit"
	"github.com/toolgateway/gatekeeper/internal/domain/backend"
	"github.com/toolgateway/gatekeeper/internal/domain/caller"
	"github.com/toolgateway/gatekeeper/internal/domain/meter"
	"github.com/toolgateway/gatekeeper/internal/domain/policy"
	"github.com/toolgateway/gatekeeper/internal/service"
)

// Authenticator is the subset of auth.Authenticator this package depends
// on, narrowed so tests can fake it without building a real credential
// store.
type Authenticator interface {
	Authenticate(ctx context.Context, presented string) (*caller.Context, error)
}

// Server is the gateway's own MCP tool surface. It wraps the orchestrator,
// registry, policy engine, audit recorder, and meter behind the eight
// tools spec §6 names, and holds no state of its own.
type Server struct {
	auth     Authenticator
	registry backend.Registry
	engine   *policy.Engine
	orch     *service.Orchestrator
	recorder *audit.Recorder
	store    audit.Store
	meter    *meter.Meter
	logger   *slog.Logger
}

// New builds a Server. store is the same audit.Store backing recorder, used
// for the read-only audit_log/audit_stats tools.
func New(
	authenticator Authenticator,
	registry backend.Registry,
	engine *policy.Engine,
	orch *service.Orchestrator,
	recorder *audit.Recorder,
	store audit.Store,
	m *meter.Meter,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		auth: authenticator, registry: registry, engine: engine,
		orch: orch, recorder: recorder, store: store, meter: m, logger: logger,
	}
}

// Build constructs the underlying *mcp.Server with every southbound tool
// registered.
func (s *Server) Build() *mcp.Server {
	impl := &mcp.Implementation{
		Name:    "gatekeeper",
		Title:   "Gatekeeper Tool Gateway",
		Version: "1.0.0",
	}
	srv := mcp.NewServer(impl, &mcp.ServerOptions{HasTools: true})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "call",
		Description: "Invoke a tool on a registered backend through the gateway's full policy/rate-limit/audit pipeline.",
	}, s.call)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_tools",
		Description: "List tools exposed by running backends that the presented credential is permitted to call.",
	}, s.listTools)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_servers",
		Description: "List configured backend servers and the tools each currently exposes.",
	}, s.listServers)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "server_status",
		Description: "Report the runtime status of every configured backend.",
	}, s.serverStatus)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "audit_log",
		Description: "Query the tamper-evident audit log.",
	}, s.auditLog)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "audit_verify",
		Description: "Verify the audit log's hash chain end to end.",
	}, s.auditVerify)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "audit_stats",
		Description: "Summarize the audit log (counts by status, chain validity).",
	}, s.auditStats)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "usage",
		Description: "Summarize metered usage, optionally scoped to one consumer.",
	}, s.usage)

	return srv
}

// Handler wraps Build's server in a streamable-HTTP handler, the transport
// credentials-mcp uses; the caller chooses the path it is mounted at.
func (s *Server) Handler() http.Handler {
	srv := s.Build()
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return srv
	}, &mcp.StreamableHTTPOptions{JSONResponse: true})
}

// jsonResult wraps out as the single-element JSON-text content array every
// tool in this package returns.
func jsonResult[T any](out T) (*mcp.CallToolResult, T, error) {
	data, err := json.Marshal(out)
	if err != nil {
		return nil, out, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, out, nil
}

// CallInput is the call tool's input.
type CallInput struct {
	Tool       string `json:"tool"`
	Server     string `json:"server,omitempty"`
	Args       string `json:"args,omitempty"`
	Credential string `json:"credential,omitempty"`
}

// CallOutput is the call tool's output. Denials, rate limits, and backend
// errors are reported here with Status/Reason rather than as a tool error,
// per spec §7: they are structured results, not exceptions.
type CallOutput struct {
	Status string          `json:"status"`
	Reason string          `json:"reason,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

func (s *Server) call(ctx context.Context, _ *mcp.CallToolRequest, in CallInput) (*mcp.CallToolResult, CallOutput, error) {
	if in.Tool == "" {
		return jsonResult(CallOutput{Status: "error", Reason: "tool is required"})
	}
	c, err := s.auth.Authenticate(ctx, in.Credential)
	if err != nil {
		return nil, CallOutput{}, err
	}

	args := map[string]interface{}{}
	if in.Args != "" {
		if err := json.Unmarshal([]byte(in.Args), &args); err != nil {
			return jsonResult(CallOutput{Status: "error", Reason: "args: " + err.Error()})
		}
	}

	result, callErr := s.orch.CallTool(ctx, c, in.Server, in.Tool, args)
	switch {
	case callErr == nil:
		return jsonResult(CallOutput{Status: "success", Result: result})
	case errors.Is(callErr, service.ErrDenied):
		return jsonResult(CallOutput{Status: "denied", Reason: callErr.Error()})
	case errors.Is(callErr, service.ErrRateLimited):
		return jsonResult(CallOutput{Status: "rate_limited", Reason: callErr.Error()})
	default:
		return jsonResult(CallOutput{Status: "error", Reason: callErr.Error()})
	}
}

// ListToolsInput is the list_tools tool's input.
type ListToolsInput struct {
	Credential string `json:"credential,omitempty"`
}

// ToolSummary names one tool exposed by one backend.
type ToolSummary struct {
	Server string `json:"server"`
	Tool   string `json:"tool"`
}

// ListToolsOutput is the list_tools tool's output.
type ListToolsOutput struct {
	Tools []ToolSummary `json:"tools"`
}

func (s *Server) listTools(ctx context.Context, _ *mcp.CallToolRequest, in ListToolsInput) (*mcp.CallToolResult, ListToolsOutput, error) {
	c, err := s.auth.Authenticate(ctx, in.Credential)
	if err != nil {
		return nil, ListToolsOutput{}, err
	}

	out := ListToolsOutput{Tools: []ToolSummary{}}
	for _, state := range s.registry.States() {
		if state.Status != backend.StatusRunning {
			continue
		}
		for _, tool := range state.ToolNames {
			decision, evalErr := s.engine.Evaluate(ctx, policy.EvaluationContext{
				ConsumerID: c.ConsumerID,
				Roles:      c.Roles,
				ServerID:   state.Descriptor.ID,
				Tool:       tool,
				Arguments:  nil,
			})
			if evalErr != nil || !decision.Allowed {
				continue
			}
			out.Tools = append(out.Tools, ToolSummary{Server: state.Descriptor.ID, Tool: tool})
		}
	}
	return jsonResult(out)
}

// ListServersInput is the list_servers tool's input (no parameters).
type ListServersInput struct{}

// ServerSummary describes one configured backend.
type ServerSummary struct {
	ID     string   `json:"id"`
	Status string   `json:"status"`
	Tools  []string `json:"tools"`
}

// ListServersOutput is the list_servers tool's output.
type ListServersOutput struct {
	Servers []ServerSummary `json:"servers"`
}

func (s *Server) listServers(_ context.Context, _ *mcp.CallToolRequest, _ ListServersInput) (*mcp.CallToolResult, ListServersOutput, error) {
	out := ListServersOutput{Servers: []ServerSummary{}}
	for _, state := range s.registry.States() {
		out.Servers = append(out.Servers, ServerSummary{
			ID:     state.Descriptor.ID,
			Status: string(state.Status),
			Tools:  append([]string(nil), state.ToolNames...),
		})
	}
	return jsonResult(out)
}

// ServerStatusInput is the server_status tool's input (no parameters).
type ServerStatusInput struct{}

// ServerStatusEntry is one backend's runtime detail.
type ServerStatusEntry struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	LastError    string `json:"last_error,omitempty"`
	StderrTail   string `json:"stderr_tail,omitempty"`
	PID          int    `json:"pid,omitempty"`
	RestartCount int    `json:"restart_count"`
}

// ServerStatusOutput is the server_status tool's output.
type ServerStatusOutput struct {
	Servers []ServerStatusEntry `json:"servers"`
}

func (s *Server) serverStatus(_ context.Context, _ *mcp.CallToolRequest, _ ServerStatusInput) (*mcp.CallToolResult, ServerStatusOutput, error) {
	out := ServerStatusOutput{Servers: []ServerStatusEntry{}}
	for _, state := range s.registry.States() {
		out.Servers = append(out.Servers, ServerStatusEntry{
			ID:           state.Descriptor.ID,
			Status:       string(state.Status),
			LastError:    state.LastError,
			StderrTail:   state.StderrTail,
			PID:          state.PID,
			RestartCount: state.RestartCount,
		})
	}
	return jsonResult(out)
}

// AuditLogInput is the audit_log tool's input, mirroring audit.Filter.
type AuditLogInput struct {
	ConsumerID string `json:"consumer_id,omitempty"`
	ServerID   string `json:"server_id,omitempty"`
	Tool       string `json:"tool,omitempty"`
	Status     string `json:"status,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// AuditLogOutput is the audit_log tool's output.
type AuditLogOutput struct {
	Entries []audit.Entry `json:"entries"`
}

func (s *Server) auditLog(ctx context.Context, _ *mcp.CallToolRequest, in AuditLogInput) (*mcp.CallToolResult, AuditLogOutput, error) {
	entries, err := s.store.Query(ctx, audit.Filter{
		ConsumerID: in.ConsumerID,
		ServerID:   in.ServerID,
		Tool:       in.Tool,
		Status:     audit.Status(in.Status),
		Limit:      in.Limit,
	})
	if err != nil {
		return nil, AuditLogOutput{}, err
	}
	return jsonResult(AuditLogOutput{Entries: entries})
}

// AuditVerifyInput is the audit_verify tool's input (no parameters).
type AuditVerifyInput struct{}

// AuditVerifyOutput is the audit_verify tool's output.
type AuditVerifyOutput struct {
	Valid    bool `json:"valid"`
	BrokenAt int  `json:"broken_at"`
}

func (s *Server) auditVerify(ctx context.Context, _ *mcp.CallToolRequest, _ AuditVerifyInput) (*mcp.CallToolResult, AuditVerifyOutput, error) {
	valid, broken, err := s.recorder.VerifyIntegrity(ctx)
	if err != nil {
		return nil, AuditVerifyOutput{}, err
	}
	return jsonResult(AuditVerifyOutput{Valid: valid, BrokenAt: broken})
}

// AuditStatsInput is the audit_stats tool's input (no parameters).
type AuditStatsInput struct{}

func (s *Server) auditStats(ctx context.Context, _ *mcp.CallToolRequest, _ AuditStatsInput) (*mcp.CallToolResult, audit.Stats, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, audit.Stats{}, err
	}
	return jsonResult(stats)
}

// UsageInput is the usage tool's input.
type UsageInput struct {
	Consumer string `json:"consumer,omitempty"`
}

func (s *Server) usage(ctx context.Context, _ *mcp.CallToolRequest, in UsageInput) (*mcp.CallToolResult, meter.Summary, error) {
	summary, err := s.meter.GetSummary(ctx, in.Consumer)
	if err != nil {
		return nil, meter.Summary{}, err
	}
	return jsonResult(summary)
}
