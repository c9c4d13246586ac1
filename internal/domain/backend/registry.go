package backend

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no backend with the given ID is registered.
var ErrNotFound = errors.New("backend: not found")

// ErrToolOwned names a tool-name collision between backends. The Supervisor
// does not return it: on a collision it keeps the original owner
// (first-registered-wins) and logs a warning.
var ErrToolOwned = errors.New("backend: tool name already owned by another backend")

// Registry tracks configured backends and which tool names each currently
// exposes, resolving a tool name to its owning backend for the proxy.
type Registry interface {
	// Descriptors returns every configured backend's static descriptor.
	Descriptors() []Descriptor
	// State returns the current runtime state of one backend.
	State(id string) (RuntimeState, bool)
	// States returns the runtime state of every configured backend.
	States() []RuntimeState
	// FindServerForTool resolves which backend owns a tool name.
	FindServerForTool(tool string) (string, bool)
	// Start starts (or restarts) one backend by ID; it does nothing for a
	// backend that is already running.
	Start(ctx context.Context, id string) error
	// Stop gracefully stops one backend by ID.
	Stop(ctx context.Context, id string) error
	// StartAll starts every configured, currently-stopped backend.
	StartAll(ctx context.Context)
	// StopAll gracefully stops every running backend.
	StopAll(ctx context.Context)
}
