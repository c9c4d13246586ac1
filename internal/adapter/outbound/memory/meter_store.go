package memory

import (
	"context"
	"sync"

	"github.com/toolgateway/gatekeeper/internal/domain/meter"
)

// MeterStore is an in-memory meter.Store keyed by meter.Key.
type MeterStore struct {
	mu      sync.Mutex
	buckets map[meter.Key]meter.Bucket
}

// NewMeterStore builds an empty MeterStore.
func NewMeterStore() *MeterStore {
	return &MeterStore{buckets: make(map[meter.Key]meter.Bucket)}
}

// Upsert implements meter.Store.
func (s *MeterStore) Upsert(_ context.Context, delta meter.Bucket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.buckets[delta.Key]
	cur.Key = delta.Key
	cur.Calls += delta.Calls
	cur.Successes += delta.Successes
	cur.Denials += delta.Denials
	cur.RateLimits += delta.RateLimits
	cur.Errors += delta.Errors
	cur.TotalLatencyMS += delta.TotalLatencyMS
	s.buckets[delta.Key] = cur
	return nil
}

// Query implements meter.Store.
func (s *MeterStore) Query(_ context.Context, q meter.Query) ([]meter.Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []meter.Bucket
	for k, b := range s.buckets {
		if q.ConsumerID != "" && k.ConsumerID != q.ConsumerID {
			continue
		}
		if q.ServerID != "" && k.ServerID != q.ServerID {
			continue
		}
		if q.Tool != "" && k.Tool != q.Tool {
			continue
		}
		if q.Since != "" && k.Period < q.Since {
			continue
		}
		if q.Until != "" && k.Period > q.Until {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

var _ meter.Store = (*MeterStore)(nil)
