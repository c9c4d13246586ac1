package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Recorder serializes appends to a Store so hash chaining stays correct
// under concurrent callers: computing the next entry's PrevHash and
// appending it must happen as one atomic step, or two concurrent callers
// could both chain from the same LastHash.
type Recorder struct {
	mu    sync.Mutex
	store Store
	now   func() time.Time
}

// NewRecorder builds a Recorder over the given Store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// Record seals and appends one audit entry, chaining it from the store's
// current last hash. The ID and Hash fields of the input are ignored and
// overwritten.
func (r *Recorder) Record(ctx context.Context, e Entry) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, err := r.store.LastHash(ctx)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: read last hash: %w", err)
	}

	e.ID = uuid.NewString()
	e.Timestamp = r.now().UTC()
	sealed := Seal(e, prev)

	if err := r.store.Append(ctx, sealed); err != nil {
		return Entry{}, fmt.Errorf("audit: append entry: %w", err)
	}
	return sealed, nil
}

// VerifyIntegrity reads the full chain and reports whether it verifies.
func (r *Recorder) VerifyIntegrity(ctx context.Context) (bool, int, error) {
	entries, err := r.store.All(ctx)
	if err != nil {
		return false, -1, fmt.Errorf("audit: read chain: %w", err)
	}
	broken := VerifyChain(entries)
	return broken == -1, broken, nil
}
