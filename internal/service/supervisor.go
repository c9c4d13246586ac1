// Package service wires the gateway's domain ports together into the
// running pipeline: backend process supervision and the request
// orchestrator.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/toolgateway/gatekeeper/internal/adapter/outbound/toolproc"
	"github.com/toolgateway/gatekeeper/internal/domain/backend"
)

// restartBackoffBase and restartBackoffCap bound the exponential backoff
// applied between automatic restarts, following the teacher's
// UpstreamManager backoff parameters.
const (
	restartBackoffBase = 1 * time.Second
	restartBackoffCap  = 60 * time.Second
)

// protocolVersion is the canonical tool-protocol version advertised on the
// initialize handshake (spec §4.4).
const protocolVersion = "2024-11-05"

type connection struct {
	mu     sync.Mutex
	state  backend.RuntimeState
	proc   *toolproc.Process
	client *toolproc.Client
}

// Supervisor spawns and supervises backend child processes and routes tool
// calls to them over the correlation proxy. It implements both
// backend.Registry and port/outbound.ToolInvoker.
type Supervisor struct {
	mu          sync.RWMutex
	connections map[string]*connection
	order       []string
	toolOwner   map[string]string
	logger      *slog.Logger
}

// NewSupervisor builds a Supervisor for the given descriptors, all
// initially stopped.
func NewSupervisor(descriptors []backend.Descriptor, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Supervisor{
		connections: make(map[string]*connection, len(descriptors)),
		toolOwner:   make(map[string]string),
		logger:      logger,
	}
	for _, d := range descriptors {
		s.connections[d.ID] = &connection{state: backend.RuntimeState{Descriptor: d, Status: backend.StatusStopped}}
		s.order = append(s.order, d.ID)
	}
	return s
}

// Descriptors implements backend.Registry.
func (s *Supervisor) Descriptors() []backend.Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]backend.Descriptor, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.connections[id].state.Descriptor)
	}
	return out
}

// State implements backend.Registry.
func (s *Supervisor) State(id string) (backend.RuntimeState, bool) {
	s.mu.RLock()
	conn, ok := s.connections[id]
	s.mu.RUnlock()
	if !ok {
		return backend.RuntimeState{}, false
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	return conn.state, true
}

// States implements backend.Registry.
func (s *Supervisor) States() []backend.RuntimeState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]backend.RuntimeState, 0, len(s.order))
	for _, id := range s.order {
		conn := s.connections[id]
		conn.mu.Lock()
		out = append(out, conn.state)
		conn.mu.Unlock()
	}
	return out
}

// FindServerForTool implements backend.Registry.
func (s *Supervisor) FindServerForTool(tool string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.toolOwner[tool]
	return id, ok
}

// Start implements backend.Registry: it spawns the backend's process,
// performs the initialize/tools-list handshake, and registers the tools it
// exposes. First-registered-wins on a tool name collision: the original
// owner is kept and the collision is logged as a warning.
func (s *Supervisor) Start(ctx context.Context, id string) error {
	s.mu.RLock()
	conn, ok := s.connections[id]
	s.mu.RUnlock()
	if !ok {
		return backend.ErrNotFound
	}

	conn.mu.Lock()
	if conn.state.Status == backend.StatusRunning {
		conn.mu.Unlock()
		return nil
	}
	desc := conn.state.Descriptor
	conn.state.Status = backend.StatusStarting
	conn.mu.Unlock()

	startCtx := ctx
	if desc.StartTimeout > 0 {
		var cancel context.CancelFunc
		startCtx, cancel = context.WithTimeout(ctx, desc.StartTimeout)
		defer cancel()
	}

	proc, err := toolproc.Spawn(ctx, desc.Command, desc.Args, desc.Env)
	if err != nil {
		s.markFailed(conn, err)
		return fmt.Errorf("backend %s: spawn: %w", id, err)
	}

	client := toolproc.NewClient(proc.Stdin(), proc.Stdout(), s.logger.With("backend", id))
	toolNames, err := s.handshake(startCtx, client)
	if err != nil {
		_ = proc.Stop(desc.StopGrace)
		s.markFailed(conn, err)
		return fmt.Errorf("backend %s: handshake: %w", id, err)
	}

	s.registerTools(id, toolNames)

	conn.mu.Lock()
	conn.proc = proc
	conn.client = client
	conn.state.Status = backend.StatusRunning
	conn.state.LastError = ""
	conn.state.PID = proc.PID()
	conn.state.StartedAt = time.Now()
	conn.state.ToolNames = toolNames
	conn.mu.Unlock()

	go s.watch(id, conn, proc)
	return nil
}

func (s *Supervisor) handshake(ctx context.Context, client *toolproc.Client) ([]string, error) {
	initParams := map[string]interface{}{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    "gatekeeper",
			"version": protocolVersion,
		},
	}
	if _, err := client.Call(ctx, "initialize", initParams); err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}

	raw, err := client.Call(ctx, "tools/list", map[string]interface{}{})
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}

	var listed struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(raw, &listed); err != nil {
		return nil, fmt.Errorf("decode tools/list result: %w", err)
	}

	names := make([]string, 0, len(listed.Tools))
	for _, t := range listed.Tools {
		names = append(names, t.Name)
	}
	return names, nil
}

func (s *Supervisor) registerTools(backendID string, tools []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tool := range tools {
		if owner, ok := s.toolOwner[tool]; ok && owner != backendID {
			s.logger.Warn("tool name already owned by another backend, keeping original owner",
				"tool", tool, "owner", owner, "rejected", backendID)
			continue
		}
		s.toolOwner[tool] = backendID
	}
}

func (s *Supervisor) watch(id string, conn *connection, proc *toolproc.Process) {
	<-proc.Exited()

	conn.mu.Lock()
	if conn.proc != proc {
		// Already superseded by a later Start/Stop.
		conn.mu.Unlock()
		return
	}
	conn.state.Status = backend.StatusFailed
	conn.state.LastError = fmt.Sprintf("process exited: %v", proc.ExitErr())
	conn.state.StderrTail = proc.StderrTail()
	restarts := conn.state.RestartCount
	maxRestarts := conn.state.Descriptor.MaxRestarts
	conn.mu.Unlock()

	if restarts >= maxRestarts {
		return
	}

	backoff := restartBackoffBase << restarts
	if backoff > restartBackoffCap || backoff <= 0 {
		backoff = restartBackoffCap
	}
	time.Sleep(backoff)

	conn.mu.Lock()
	conn.state.RestartCount++
	conn.mu.Unlock()

	if err := s.Start(context.Background(), id); err != nil {
		s.logger.Error("backend automatic restart failed", "backend", id, "error", err)
	}
}

func (s *Supervisor) markFailed(conn *connection, err error) {
	conn.mu.Lock()
	conn.state.Status = backend.StatusFailed
	conn.state.LastError = err.Error()
	conn.mu.Unlock()
}

// Stop implements backend.Registry: it gracefully stops the backend,
// giving it up to its configured StopGrace before killing it.
func (s *Supervisor) Stop(_ context.Context, id string) error {
	s.mu.RLock()
	conn, ok := s.connections[id]
	s.mu.RUnlock()
	if !ok {
		return backend.ErrNotFound
	}

	conn.mu.Lock()
	proc := conn.proc
	grace := conn.state.Descriptor.StopGrace
	conn.proc = nil
	conn.client = nil
	conn.state.Status = backend.StatusStopped
	conn.mu.Unlock()

	if proc == nil {
		return nil
	}
	return proc.Stop(grace)
}

// StartAll implements backend.Registry. Backends are started one at a time
// in registration order, not concurrently: first-registered-wins tool
// ownership (registerTools) depends on that order being deterministic,
// not a race between whichever backend's handshake completes first
// (spec §4.5 "iteration order is registration order ... preserve it for
// test reproducibility").
func (s *Supervisor) StartAll(ctx context.Context) {
	s.mu.RLock()
	ids := append([]string(nil), s.order...)
	s.mu.RUnlock()

	for _, id := range ids {
		if err := s.Start(ctx, id); err != nil {
			s.logger.Error("backend start failed", "backend", id, "error", err)
		}
	}
}

// StopAll implements backend.Registry.
func (s *Supervisor) StopAll(ctx context.Context) {
	s.mu.RLock()
	ids := append([]string(nil), s.order...)
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := s.Stop(ctx, id); err != nil {
				s.logger.Error("backend stop failed", "backend", id, "error", err)
			}
		}(id)
	}
	wg.Wait()
}

// CallTool implements port/outbound.ToolInvoker.
func (s *Supervisor) CallTool(ctx context.Context, serverID, tool string, args map[string]interface{}) (json.RawMessage, error) {
	s.mu.RLock()
	conn, ok := s.connections[serverID]
	s.mu.RUnlock()
	if !ok {
		return nil, backend.ErrNotFound
	}

	conn.mu.Lock()
	client := conn.client
	status := conn.state.Status
	conn.mu.Unlock()

	if status != backend.StatusRunning || client == nil {
		return nil, fmt.Errorf("backend %s is not running (status=%s)", serverID, status)
	}

	return client.Call(ctx, "tools/call", map[string]interface{}{"name": tool, "arguments": args})
}
