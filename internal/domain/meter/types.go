// Package meter aggregates tool-call usage into hourly buckets keyed by
// (consumer, server, tool, period), held in memory and periodically
// flushed to durable storage.
package meter

import (
	"context"
	"time"
)

// periodLayout produces hour-granularity period keys, e.g. "2026-07-31T14".
const periodLayout = "2006-01-02T15"

// PeriodKey returns the hourly bucket key for t.
func PeriodKey(t time.Time) string {
	return t.UTC().Format(periodLayout)
}

// Key identifies one usage bucket.
type Key struct {
	ConsumerID string
	ServerID   string
	Tool       string
	Period     string
}

// Bucket is the aggregate for one Key.
type Bucket struct {
	Key
	Calls          int64
	Successes      int64
	Denials        int64
	RateLimits     int64
	Errors         int64
	TotalLatencyMS int64
}

// Record folds one terminal call outcome into the bucket. latencyMS is the
// call's wall-clock duration; denials and rate-limits never reach the
// backend and are recorded with latencyMS 0.
func (b *Bucket) Record(outcome Outcome, latencyMS int64) {
	b.Calls++
	b.TotalLatencyMS += latencyMS
	switch outcome {
	case OutcomeSuccess:
		b.Successes++
	case OutcomeDenied:
		b.Denials++
	case OutcomeRateLimited:
		b.RateLimits++
	case OutcomeError:
		b.Errors++
	}
}

// Outcome classifies a call for metering purposes.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeDenied      Outcome = "denied"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeError       Outcome = "error"
)

// Query narrows a usage lookup.
type Query struct {
	ConsumerID string
	ServerID   string
	Tool       string
	Since      string // inclusive period key
	Until      string // inclusive period key
}

// Store persists rolled-up usage buckets durably.
type Store interface {
	// Upsert adds delta's counters into the stored bucket for delta.Key,
	// creating it if absent.
	Upsert(ctx context.Context, delta Bucket) error
	// Query returns buckets matching q.
	Query(ctx context.Context, q Query) ([]Bucket, error)
}

// Summary aggregates usage across every bucket matching a query, with
// integer-truncated average latency per the gateway's metering contract.
type Summary struct {
	TotalCalls    int64
	TotalErrors   int64
	AvgLatencyMS  int64
	ByServer      map[string]int64
	ByTool        map[string]int64
}

// summarize folds buckets into a Summary, truncating the average latency
// by integer division as spec'd.
func summarize(buckets []Bucket) Summary {
	s := Summary{ByServer: map[string]int64{}, ByTool: map[string]int64{}}
	var totalLatency int64
	for _, b := range buckets {
		s.TotalCalls += b.Calls
		s.TotalErrors += b.Errors
		totalLatency += b.TotalLatencyMS
		s.ByServer[b.ServerID] += b.Calls
		s.ByTool[b.Tool] += b.Calls
	}
	if s.TotalCalls > 0 {
		s.AvgLatencyMS = totalLatency / s.TotalCalls
	}
	return s
}
