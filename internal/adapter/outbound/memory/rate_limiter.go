package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/toolgateway/gatekeeper/internal/domain/ratelimit"
)

// window tracks one key's fixed-window counter.
type window struct {
	count     int
	resetAt   time.Time
	updatedAt time.Time
}

// RateLimiter implements ratelimit.Limiter as a fixed window with a burst
// multiplier: each key gets rate*burstMultiplier requests per window,
// reset when the window elapses. Structurally this mirrors the teacher's
// MemoryRateLimiter (same cleanup-goroutine lifecycle, same Stop/Size
// surface); the GCRA cell math is replaced with a plain counter-and-reset
// since the fixed-window-plus-burst-multiplier semantics come from this
// gateway's own rate-limiting design, not the teacher's.
type RateLimiter struct {
	mu       sync.Mutex
	windows  map[string]*window
	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once

	cleanupInterval time.Duration
	maxIdle         time.Duration
}

// NewRateLimiter builds a RateLimiter with the given cleanup cadence and
// max key idle time before eviction.
func NewRateLimiter(cleanupInterval, maxIdle time.Duration) *RateLimiter {
	return &RateLimiter{
		windows:         make(map[string]*window),
		stopChan:        make(chan struct{}),
		cleanupInterval: cleanupInterval,
		maxIdle:         maxIdle,
	}
}

// Allow implements ratelimit.Limiter.
func (r *RateLimiter) Allow(_ context.Context, key string, cfg ratelimit.Config) (ratelimit.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	w, ok := r.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{count: 0, resetAt: now.Add(cfg.Window)}
		r.windows[key] = w
	}
	w.updatedAt = now

	limit := cfg.Limit()
	if w.count >= limit {
		return ratelimit.Result{Allowed: false, Remaining: 0, ResetAfter: w.resetAt.Sub(now)}, nil
	}

	w.count++
	return ratelimit.Result{
		Allowed:    true,
		Remaining:  limit - w.count,
		ResetAfter: w.resetAt.Sub(now),
	}, nil
}

// StartCleanup starts the background goroutine that evicts windows idle for
// longer than maxIdle. It stops when ctx is cancelled or Stop is called.
func (r *RateLimiter) StartCleanup(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopChan:
				return
			case <-ticker.C:
				r.cleanup()
			}
		}
	}()
}

func (r *RateLimiter) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.maxIdle)
	cleaned := 0
	for key, w := range r.windows {
		if w.updatedAt.Before(cutoff) {
			delete(r.windows, key)
			cleaned++
		}
	}
	if cleaned > 0 {
		slog.Debug("rate limiter cleanup completed", "cleaned_keys", cleaned, "remaining_keys", len(r.windows))
	}
}

// Stop halts the cleanup goroutine and waits for it to exit. Safe to call
// multiple times.
func (r *RateLimiter) Stop() {
	r.once.Do(func() { close(r.stopChan) })
	r.wg.Wait()
}

// Size reports the number of tracked keys, for tests and metrics.
func (r *RateLimiter) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.windows)
}

var _ ratelimit.Limiter = (*RateLimiter)(nil)
