package meter

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Meter accumulates usage in memory and periodically flushes accumulated
// deltas to a durable Store, so the hot path never blocks on storage I/O.
// The flush-goroutine lifecycle (StartFlushing/Stop, sync.Once-guarded)
// mirrors the teacher's MemoryRateLimiter cleanup goroutine.
type Meter struct {
	mu      sync.Mutex
	buckets map[Key]*Bucket

	store         Store
	flushInterval time.Duration
	logger        *slog.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// New builds a Meter flushing to store every flushInterval. A nil store
// disables metering: Record becomes a no-op and GetSummary returns a
// zeroed Summary.
func New(store Store, flushInterval time.Duration, logger *slog.Logger) *Meter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Meter{
		buckets:       make(map[Key]*Bucket),
		store:         store,
		flushInterval: flushInterval,
		logger:        logger,
		stopChan:      make(chan struct{}),
	}
}

// Record folds one terminal call outcome into the current hour's in-memory
// bucket for (consumerID, serverID, tool).
func (m *Meter) Record(consumerID, serverID, tool string, outcome Outcome, latencyMS int64) {
	if m.store == nil {
		return
	}
	key := Key{ConsumerID: consumerID, ServerID: serverID, Tool: tool, Period: PeriodKey(time.Now())}

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok {
		b = &Bucket{Key: key}
		m.buckets[key] = b
	}
	b.Record(outcome, latencyMS)
}

// GetSummary flushes pending in-memory buckets to the durable store, then
// aggregates every stored bucket matching consumerID (all consumers when
// empty) into a Summary. Flushing first is what makes a summary read
// reflect increments recorded moments earlier.
func (m *Meter) GetSummary(ctx context.Context, consumerID string) (Summary, error) {
	if m.store == nil {
		return Summary{ByServer: map[string]int64{}, ByTool: map[string]int64{}}, nil
	}
	m.flush(ctx)

	buckets, err := m.store.Query(ctx, Query{ConsumerID: consumerID})
	if err != nil {
		return Summary{}, err
	}
	return summarize(buckets), nil
}

// StartFlushing starts the background goroutine that periodically upserts
// accumulated buckets into the durable store and clears them from memory.
// It stops when ctx is cancelled or Stop is called.
func (m *Meter) StartFlushing(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				m.flush(context.Background())
				return
			case <-m.stopChan:
				m.flush(context.Background())
				return
			case <-ticker.C:
				m.flush(ctx)
			}
		}
	}()
}

func (m *Meter) flush(ctx context.Context) {
	m.mu.Lock()
	pending := m.buckets
	m.buckets = make(map[Key]*Bucket)
	m.mu.Unlock()

	for _, b := range pending {
		if err := m.store.Upsert(ctx, *b); err != nil {
			m.logger.Error("meter: flush failed", "key", b.Key, "error", err)
		}
	}
}

// Stop halts the flush goroutine, flushing any pending buckets first. Safe
// to call multiple times.
func (m *Meter) Stop() {
	m.once.Do(func() { close(m.stopChan) })
	m.wg.Wait()
}
