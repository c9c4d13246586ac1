package memory

import (
	"context"
	"sync"

	"github.com/toolgateway/gatekeeper/internal/domain/audit"
)

// AuditStore is an in-memory, append-ordered audit.Store. It is the default
// backing for single-process deployments without a configured sqlite file
// and the fixture of choice in tests; internal/adapter/outbound/storage
// provides the durable sqlite-backed alternative for §6.
type AuditStore struct {
	mu      sync.Mutex
	entries []audit.Entry
}

// NewAuditStore builds an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

// LastHash implements audit.Store.
func (s *AuditStore) LastHash(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return audit.GenesisHash, nil
	}
	return s.entries[len(s.entries)-1].Hash, nil
}

// Append implements audit.Store.
func (s *AuditStore) Append(_ context.Context, e audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

// Query implements audit.Store.
func (s *AuditStore) Query(_ context.Context, filter audit.Filter) ([]audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var matched []audit.Entry
	for _, e := range s.entries {
		if filter.ConsumerID != "" && e.ConsumerID != filter.ConsumerID {
			continue
		}
		if filter.ServerID != "" && e.ServerID != filter.ServerID {
			continue
		}
		if filter.Tool != "" && e.Tool != filter.Tool {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if !filter.Since.IsZero() && e.Timestamp.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && e.Timestamp.After(filter.Until) {
			continue
		}
		matched = append(matched, e)
	}

	// entries is append order (oldest first); query results are newest
	// first per the audit log's §4.6 ordering contract.
	out := make([]audit.Entry, 0, limit)
	for i := len(matched) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, matched[i])
	}
	return out, nil
}

// All implements audit.Store.
func (s *AuditStore) All(_ context.Context) ([]audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Entry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

// Stats implements audit.Store.
func (s *AuditStore) Stats(_ context.Context) (audit.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := audit.Stats{ByStatus: make(map[audit.Status]int)}
	stats.Total = len(s.entries)
	for i, e := range s.entries {
		stats.ByStatus[e.Status]++
		if i == 0 {
			stats.OldestEntry = e.Timestamp
		}
		stats.NewestEntry = e.Timestamp
	}
	broken := audit.VerifyChain(s.entries)
	stats.ChainValid = broken == -1
	stats.FirstBroken = broken
	return stats, nil
}

var _ audit.Store = (*AuditStore)(nil)
