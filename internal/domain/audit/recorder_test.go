package audit_test

import (
	"context"
	"testing"

	"github.com/toolgateway/gatekeeper/internal/adapter/outbound/memory"
	"github.com/toolgateway/gatekeeper/internal/domain/audit"
)

func TestRecorderChainsEntries(t *testing.T) {
	store := memory.NewAuditStore()
	rec := audit.NewRecorder(store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := rec.Record(ctx, audit.Entry{ConsumerID: "acme", ServerID: "fs", Tool: "read_file", Status: audit.StatusSuccess}); err != nil {
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
}

func TestVerifyChainDetectsTamper(t *testing.T) {
	store := memory.NewAuditStore()
	rec := audit.NewRecorder(store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := rec.Record(ctx, audit.Entry{ConsumerID: "acme", ServerID: "fs", Tool: "t", Status: audit.StatusSuccess}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	entries, err := store.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	entries[1].Tool = "tampered"

	if broken := audit.VerifyChain(entries); broken != 1 {
		t.Fatalf("expected tamper detected at index 1, got %d", broken)
	}
}
