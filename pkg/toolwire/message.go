// Package toolwire implements the backend-facing JSON-RPC 2.0 dialect the
// gateway speaks to tool-providing child processes: one line-delimited
// JSON object per message, as the teacher's pkg/mcp package delegates to
// github.com/modelcontextprotocol/go-sdk/jsonrpc for. That package's
// concrete Request/Response/ID field shapes aren't directly observed
// anywhere in this repository's corpus, so this package hand-rolls the
// same newline-delimited-JSON wire shape with plain encoding/json structs
// instead of depending on them unverified.
package toolwire

import "encoding/json"

// Version is the JSON-RPC protocol version every message declares.
const Version = "2.0"

// Request is one JSON-RPC request or notification sent to a backend.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no ID and therefore
// expects no response.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0
}

// Response is one JSON-RPC response received from a backend.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NewRequest builds a Request with the given numeric ID, JSON-encoding
// params.
func NewRequest(id int64, method string, params interface{}) (*Request, error) {
	var raw json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		raw = encoded
	}
	idBytes, err := json.Marshal(id)
	if err != nil {
		return nil, err
	}
	return &Request{JSONRPC: Version, ID: idBytes, Method: method, Params: raw}, nil
}
