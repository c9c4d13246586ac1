package toolproc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/toolgateway/gatekeeper/pkg/toolwire"
)

// Client correlates JSON-RPC requests sent to a backend with the responses
// read back from its stdout. Request ids come from an atomic counter, the
// pending map sits behind one lock, and only the inbound reader goroutine
// touches the decoder, per the gateway's proxy design: the inbound reader
// runs in its own goroutine and dispatches each response to the call that
// is waiting for it, or drops it if that call has already timed out.
type Client struct {
	enc *toolwire.Encoder
	dec *toolwire.Decoder

	nextID int64

	mu      sync.Mutex
	pending map[int64]chan *toolwire.Response
	closed  bool

	logger *slog.Logger
}

// NewClient builds a Client writing requests to w and reading responses
// from r, and starts the background pump goroutine that demultiplexes
// inbound messages. Call Close to stop the pump.
func NewClient(w io.Writer, r io.Reader, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		enc:     toolwire.NewEncoder(w),
		dec:     toolwire.NewDecoder(r),
		pending: make(map[int64]chan *toolwire.Response),
		logger:  logger,
	}
	go c.pump()
	return c
}

func (c *Client) pump() {
	for {
		resp, req, err := c.dec.ReadMessage()
		if err != nil {
			c.drainOnReadError(err)
			return
		}
		if req != nil {
			// Backend-initiated notifications (e.g. logging) are not part of
			// the request/response correlation surface; observe and drop.
			c.logger.Debug("toolproc: backend notification", "method", req.Method)
			continue
		}
		c.dispatch(resp)
	}
}

func (c *Client) dispatch(resp *toolwire.Response) {
	var id int64
	if err := json.Unmarshal(resp.ID, &id); err != nil {
		c.logger.Warn("toolproc: response with unparseable id", "error", err)
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		// The caller already timed out and stopped waiting; dropping here is
		// what makes completion idempotent against the timeout race.
		return
	}
	ch <- resp
}

func (c *Client) drainOnReadError(err error) {
	c.mu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = make(map[int64]chan *toolwire.Response)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	if err != io.EOF {
		c.logger.Warn("toolproc: backend read loop ended", "error", err)
	}
}

// Call sends a JSON-RPC request and blocks until a matching response
// arrives or ctx is done, whichever comes first. On a context deadline the
// pending entry is removed so a response arriving after the deadline is
// silently dropped by the pump instead of racing the caller.
func (c *Client) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := atomic.AddInt64(&c.nextID, 1)
	req, err := toolwire.NewRequest(id, method, params)
	if err != nil {
		return nil, fmt.Errorf("toolproc: build request: %w", err)
	}

	ch := make(chan *toolwire.Response, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("toolproc: backend connection closed")
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.enc.EncodeRequest(req); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("toolproc: send request: %w", err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("toolproc: backend connection closed while waiting for response")
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("toolproc: backend error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	}
}

// PendingCount reports the number of in-flight calls, for tests.
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
