package meter_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/toolgateway/gatekeeper/internal/adapter/outbound/memory"
	"github.com/toolgateway/gatekeeper/internal/domain/meter"
)

func TestMeterFlushesToStore(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := memory.NewMeterStore()
	m := meter.New(store, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	m.StartFlushing(ctx)

	m.Record("acme", "fs", "read_file", meter.OutcomeSuccess, 10)
	m.Record("acme", "fs", "read_file", meter.OutcomeDenied, 0)

	cancel()
	m.Stop()

	buckets, err := store.Query(context.Background(), meter.Query{ConsumerID: "acme"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(buckets) != 1 {
		t.Fatalf("expected 1 bucket, got %d", len(buckets))
	}
	if buckets[0].Calls != 2 || buckets[0].Successes != 1 || buckets[0].Denials != 1 || buckets[0].TotalLatencyMS != 10 {
		t.Fatalf("unexpected bucket: %+v", buckets[0])
	}
}

func TestMeterGetSummaryFlushesAndAggregates(t *testing.T) {
	store := memory.NewMeterStore()
	m := meter.New(store, time.Hour, nil)

	m.Record("acme", "fs", "read_file", meter.OutcomeSuccess, 10)
	m.Record("acme", "fs", "read_file", meter.OutcomeSuccess, 20)
	m.Record("acme", "pay", "charge", meter.OutcomeError, 5)

	summary, err := m.GetSummary(context.Background(), "acme")
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if summary.TotalCalls != 3 || summary.TotalErrors != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.AvgLatencyMS != (10+20+5)/3 {
		t.Fatalf("unexpected avg latency: %d", summary.AvgLatencyMS)
	}
	if summary.ByServer["fs"] != 2 || summary.ByServer["pay"] != 1 {
		t.Fatalf("unexpected by-server: %+v", summary.ByServer)
	}
}

func TestMeterDisabledIsNoOp(t *testing.T) {
	m := meter.New(nil, time.Hour, nil)
	m.Record("acme", "fs", "read_file", meter.OutcomeSuccess, 10)

	summary, err := m.GetSummary(context.Background(), "")
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if summary.TotalCalls != 0 {
		t.Fatalf("expected zeroed summary, got %+v", summary)
	}
}
