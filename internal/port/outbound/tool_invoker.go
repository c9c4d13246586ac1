// Package outbound collects the ports the orchestrator depends on that
// don't belong to a single domain package outright.
package outbound

import (
	"context"
	"encoding/json"
)

// ToolInvoker dispatches a tool call to a running backend by ID.
// internal/service.Supervisor implements this.
type ToolInvoker interface {
	CallTool(ctx context.Context, serverID, tool string, args map[string]interface{}) (json.RawMessage, error)
}
