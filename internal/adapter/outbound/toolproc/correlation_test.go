package toolproc

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"
)

// pipePair wires a Client to a fake backend implemented as a goroutine
// reading requests and writing canned responses.
func pipePair(t *testing.T, handle func(method string, id json.RawMessage, w io.Writer)) (*Client, func()) {
	t.Helper()
	clientToBackend, toBackend := io.Pipe()
	backendToClient, fromBackend := io.Pipe()

	go func() {
		dec := newTestDecoder(clientToBackend)
		for {
			req, err := dec()
			if err != nil {
				return
			}
			handle(req.method, req.id, fromBackend)
		}
	}()

	c := NewClient(toBackend, backendToClient, nil)
	return c, func() { _ = toBackend.Close(); _ = fromBackend.Close() }
}

type decodedReq struct {
	method string
	id     json.RawMessage
}

func newTestDecoder(r io.Reader) func() (*decodedReq, error) {
	dec := json.NewDecoder(r)
	return func() (*decodedReq, error) {
		var raw struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		return &decodedReq{method: raw.Method, id: raw.ID}, nil
	}
}

func TestClientCallRoundTrip(t *testing.T) {
	client, cleanup := pipePair(t, func(method string, id json.RawMessage, w io.Writer) {
		resp := []byte(`{"jsonrpc":"2.0","id":` + string(id) + `,"result":{"ok":true}}` + "\n")
		_, _ = w.Write(resp)
	})
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := client.Call(ctx, "tools/list", nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(result) != `{"ok":true}` {
		t.Fatalf("unexpected result: %s", result)
	}
}

func TestClientCallTimeout(t *testing.T) {
	client, cleanup := pipePair(t, func(method string, id json.RawMessage, w io.Writer) {
		// Never respond.
	})
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := client.Call(ctx, "tools/call", nil); err == nil {
		t.Fatal("expected timeout error")
	}
	if client.PendingCount() != 0 {
		t.Fatalf("expected pending entry cleared after timeout, got %d", client.PendingCount())
	}
}
