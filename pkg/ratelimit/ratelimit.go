// Package ratelimit is a per-key token bucket with lazy refill, built on
// golang.org/x/time/rate. Buckets start full, refill continuously, and are
// swept after an idle window to cap memory.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/time/rate"

	"zapai.dev/pkg/utils/context"
	"zapai.dev/pkg/utils/log"
)

// Result is the admission decision for one request.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type bucket struct {
	lim *rate.Limiter

	mu       sync.Mutex
	lastSeen time.Time
}

// L owns the buckets. Safe for concurrent use.
type L struct {
	buckets    *xsync.MapOf[string, *bucket]
	maxTokens  int
	refill     rate.Limit
	idleWindow time.Duration
	now        func() time.Time
}

// New builds a limiter: maxTokens burst capacity, refillPerSecond continuous
// refill, buckets idle past idleWindow are evicted by Sweep.
func New(
	maxTokens int, refillPerSecond float64, idleWindow time.Duration,
	now func() time.Time,
) *L {
	if now == nil {
		now = time.Now
	}
	return &L{
		buckets:    xsync.NewMapOf[string, *bucket](),
		maxTokens:  maxTokens,
		refill:     rate.Limit(refillPerSecond),
		idleWindow: idleWindow,
		now:        now,
	}
}

// Check admits or denies one request for key. Denials carry the whole-second
// wait until a token will be available.
func (l *L) Check(key string) Result {
	now := l.now()
	b, _ := l.buckets.LoadOrCompute(key, func() *bucket {
		return &bucket{lim: rate.NewLimiter(l.refill, l.maxTokens)}
	})
	b.mu.Lock()
	b.lastSeen = now
	b.mu.Unlock()
	if b.lim.AllowN(now, 1) {
		return Result{Allowed: true, Remaining: int(b.lim.TokensAt(now))}
	}
	r := b.lim.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	retry := time.Duration(math.Ceil(delay.Seconds())) * time.Second
	if retry <= 0 {
		retry = time.Second
	}
	return Result{RetryAfter: retry}
}

// Size returns the number of live buckets.
func (l *L) Size() int { return l.buckets.Size() }

// Sweep evicts idle buckets every interval until ctx is done. Run it on its
// own goroutine.
func (l *L) Sweep(ctx context.T, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			cutoff := l.now().Add(-l.idleWindow)
			evicted := 0
			l.buckets.Range(func(key string, b *bucket) bool {
				b.mu.Lock()
				idle := b.lastSeen.Before(cutoff)
				b.mu.Unlock()
				if idle {
					l.buckets.Delete(key)
					evicted++
				}
				return true
			})
			if evicted > 0 {
				log.T.F("rate limiter swept %d idle buckets, %d live", evicted, l.buckets.Size())
			}
		}
	}
}
