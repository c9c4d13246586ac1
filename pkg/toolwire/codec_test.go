package toolwire

import (
	"bytes"
	"io"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	req, err := NewRequest(1, "tools/call", map[string]string{"name": "read_file"})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}

	var buf bytes.Buffer
	if err := NewEncoder(&buf).EncodeRequest(req); err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}

	dec := NewDecoder(&buf)
	resp, gotReq, err := dec.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if resp != nil || gotReq == nil || gotReq.Method != "tools/call" {
		t.Fatalf("unexpected decode result: resp=%+v req=%+v", resp, gotReq)
	}
}

func TestDecodeResponse(t *testing.T) {
	line := `{"jsonrpc":"2.0","id":1,"result":{"ok":true}}` + "\n"
	dec := NewDecoder(bytes.NewBufferString(line))

	resp, req, err := dec.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if req != nil || resp == nil || string(resp.Result) != `{"ok":true}` {
		t.Fatalf("unexpected decode result: resp=%+v req=%+v", resp, req)
	}
}

func TestDecodeSkipsNonJSONLines(t *testing.T) {
	input := "not json at all\n" + `{"jsonrpc":"2.0","id":1,"result":{"ok":true}}` + "\n"
	dec := NewDecoder(bytes.NewBufferString(input))

	resp, req, err := dec.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if req != nil || resp == nil || string(resp.Result) != `{"ok":true}` {
		t.Fatalf("unexpected decode result: resp=%+v req=%+v", resp, req)
	}
}

func TestDecodeEOF(t *testing.T) {
	dec := NewDecoder(bytes.NewBufferString(""))
	_, _, err := dec.ReadMessage()
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}
