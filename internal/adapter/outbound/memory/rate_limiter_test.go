package memory

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/toolgateway/gatekeeper/internal/domain/ratelimit"
)

func TestRateLimiterAllowsUpToBurstLimit(t *testing.T) {
	rl := NewRateLimiter(time.Minute, time.Hour)
	cfg := ratelimit.Config{Rate: 2, BurstMultiplier: 1.5, Window: time.Minute}
	key := ratelimit.Key("acme", "fs")

	var allowed int
	for i := 0; i < 5; i++ {
		res, err := rl.Allow(context.Background(), key, cfg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Allowed {
			allowed++
		}
	}
	if allowed != 3 {
		t.Fatalf("expected 3 allowed requests (rate 2 * burst 1.5 = 3), got %d", allowed)
	}
}

func TestRateLimiterCleanupStopsCleanly(t *testing.T) {
	defer goleak.VerifyNone(t)

	rl := NewRateLimiter(10*time.Millisecond, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rl.StartCleanup(ctx)

	_, _ = rl.Allow(context.Background(), "k", ratelimit.Config{Rate: 1, BurstMultiplier: 1, Window: time.Millisecond})
	time.Sleep(50 * time.Millisecond)

	rl.Stop()
	if rl.Size() != 0 {
		t.Fatalf("expected idle key to be cleaned up, size=%d", rl.Size())
	}
}
