package audit

import (
	"context"
	"time"
)

// Filter narrows a Query to a subset of the log.
type Filter struct {
	ConsumerID string
	ServerID   string
	Tool       string
	Status     Status
	Since      time.Time
	Until      time.Time
	Limit      int
}

// Stats summarizes the log for admin/debug reporting.
type Stats struct {
	Total        int
	ByStatus     map[Status]int
	OldestEntry  time.Time
	NewestEntry  time.Time
	ChainValid   bool
	FirstBroken  int
}

// Store persists audit entries in append order and supports integrity
// verification over the full chain.
type Store interface {
	// LastHash returns the Hash of the most recently appended entry, or
	// GenesisHash if the store is empty.
	LastHash(ctx context.Context) (string, error)
	// Append writes a single, already-sealed entry as given. It does not
	// check PrevHash against LastHash; chain order comes from Recorder
	// serializing its Record calls.
	Append(ctx context.Context, e Entry) error
	// Query returns entries matching filter, newest first.
	Query(ctx context.Context, filter Filter) ([]Entry, error)
	// All returns every entry in append order, for chain verification.
	All(ctx context.Context) ([]Entry, error)
	// Stats summarizes the log.
	Stats(ctx context.Context) (Stats, error)
}
