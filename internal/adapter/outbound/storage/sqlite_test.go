package storage_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/toolgateway/gatekeeper/internal/adapter/outbound/storage"
	"github.com/toolgateway/gatekeeper/internal/domain/audit"
	"github.com/toolgateway/gatekeeper/internal/domain/meter"
)

func TestSQLiteStoreAuditAppendAndQuery(t *testing.T) {
	db, _, err := storage.Open(filepath.Join(t.TempDir(), "gatekeeper.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	rec := audit.NewRecorder(db)

	for i := 0; i < 3; i++ {
		if _, err := rec.Record(ctx, audit.Entry{
			ConsumerID: "acme", ServerID: "fs", Tool: "read_file", Status: audit.StatusSuccess,
		}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	ok, broken, err := rec.VerifyIntegrity(ctx)
	if err != nil {
		t.Fatalf("VerifyIntegrity: %v", err)
	}
	if !ok || broken != -1 {
		t.Fatalf("expected valid chain, broken=%d", broken)
	}

	entries, err := db.Query(ctx, audit.Filter{ConsumerID: "acme"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	stats, err := db.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 3 || !stats.ChainValid {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	// Query orders newest first, so the genesis link is on the last entry.
	if entries[len(entries)-1].PrevHash != audit.GenesisHash {
		t.Fatalf("expected genesis prev-hash, got %q", entries[len(entries)-1].PrevHash)
	}
}

func TestSQLiteStoreMeterUpsertAccumulates(t *testing.T) {
	_, db, err := storage.Open(filepath.Join(t.TempDir(), "gatekeeper.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	key := meter.Key{ConsumerID: "acme", ServerID: "fs", Tool: "read_file", Period: meter.PeriodKey(time.Now())}

	if err := db.Upsert(ctx, meter.Bucket{Key: key, Calls: 2, Successes: 2, TotalLatencyMS: 30}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := db.Upsert(ctx, meter.Bucket{Key: key, Calls: 1, Errors: 1, TotalLatencyMS: 5}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	buckets, err := db.Query(ctx, meter.Query{ConsumerID: "acme"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(buckets) != 1 {
		t.Fatalf("expected 1 bucket, got %d", len(buckets))
	}
	if buckets[0].Calls != 3 || buckets[0].Successes != 2 || buckets[0].Errors != 1 || buckets[0].TotalLatencyMS != 35 {
		t.Fatalf("unexpected accumulated bucket: %+v", buckets[0])
	}
}
