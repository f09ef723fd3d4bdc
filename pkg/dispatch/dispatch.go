// Package dispatch is the admission path between the relay supervisor and
// the work queue: dedup, self-filter, kind routing, rate limiting and
// enqueueing. Handle is O(1) and never blocks the subscription loop.
package dispatch

import (
	"time"

	"github.com/nbd-wtf/go-nostr"
	"go.uber.org/atomic"

	"zapai.dev/pkg/dedup"
	"zapai.dev/pkg/protocol/kind"
	"zapai.dev/pkg/queue"
	"zapai.dev/pkg/ratelimit"
	"zapai.dev/pkg/utils/context"
	"zapai.dev/pkg/utils/log"
)

// Sink consumes admitted events and emits the decline notices. Implemented
// by the processor.
type Sink interface {
	Process(ctx context.T, ev *nostr.Event, relayURL string) error
	HandleReceipt(ctx context.T, ev *nostr.Event, relayURL string) error
	HandleBalance(ctx context.T, ev *nostr.Event, relayURL string) error
	RateLimited(ctx context.T, ev *nostr.Event, retryAfter time.Duration)
	Overloaded(ctx context.T, ev *nostr.Event)
}

// D routes inbound events. All counters are atomics read by the dashboard.
type D struct {
	ctx     context.T
	cache   *dedup.Cache
	limiter *ratelimit.L
	q       *queue.Q
	sink    Sink
	self    string

	Received   atomic.Int64
	Deduped    atomic.Int64
	Ignored    atomic.Int64
	RateDenied atomic.Int64
	Dropped    atomic.Int64
	Enqueued   atomic.Int64
	Direct     atomic.Int64
}

// New builds a dispatcher. self is the gateway's own pubkey; its events are
// discarded so the bot never answers itself.
func New(
	ctx context.T, cache *dedup.Cache, limiter *ratelimit.L, q *queue.Q,
	sink Sink, self string,
) *D {
	return &D{ctx: ctx, cache: cache, limiter: limiter, q: q, sink: sink, self: self}
}

// Handle is the supervisor's event callback.
func (d *D) Handle(ev *nostr.Event, relayURL string) {
	d.Received.Inc()
	if d.cache.SeenID(ev.ID) {
		d.Deduped.Inc()
		return
	}
	if ev.PubKey == d.self {
		return
	}
	switch kind.Classify(ev.Kind) {
	case kind.Receipt:
		// payments never touch the queue or the limiter; a full queue must
		// not shed a zap
		d.direct(ev, relayURL, d.sink.HandleReceipt)
	case kind.BalanceQuery:
		d.direct(ev, relayURL, d.sink.HandleBalance)
	case kind.DM, kind.Public:
		res := d.limiter.Check(ev.PubKey)
		if !res.Allowed {
			d.RateDenied.Inc()
			log.D.F("rate limited %.8s (retry in %s)", ev.PubKey, res.RetryAfter)
			go d.sink.RateLimited(d.ctx, ev, res.RetryAfter)
			return
		}
		d.enqueue(ev, relayURL, d.sink.Process)
	default:
		d.Ignored.Inc()
	}
}

// direct runs fn on its own goroutine, outside the work queue and its depth
// bound, so the supervisor loop stays unblocked. On failure the event id is
// released from the processed set so redelivery from another relay gets a
// fresh attempt.
func (d *D) direct(
	ev *nostr.Event, relayURL string,
	fn func(ctx context.T, ev *nostr.Event, relayURL string) error,
) {
	d.Direct.Inc()
	go func() {
		if err := fn(d.ctx, ev, relayURL); err != nil {
			log.W.F("handler for %s (kind %d) failed: %v", ev.ID, ev.Kind, err)
			d.cache.Forget(ev.ID)
		}
	}()
}

func (d *D) enqueue(
	ev *nostr.Event, relayURL string,
	fn func(ctx context.T, ev *nostr.Event, relayURL string) error,
) {
	id, err := d.q.Enqueue(func(ctx context.T) error {
		return fn(ctx, ev, relayURL)
	})
	switch err {
	case nil:
		d.Enqueued.Inc()
		log.T.F("enqueued event %s as task %d", ev.ID, id)
	case queue.ErrQueueFull:
		d.Dropped.Inc()
		log.W.F("queue full, dropping event %s (kind %d)", ev.ID, ev.Kind)
		go d.sink.Overloaded(d.ctx, ev)
	default:
		d.Dropped.Inc()
		log.D.F("enqueue of %s rejected: %v", ev.ID, err)
	}
}

// Stats is the dashboard view of the admission counters.
type Stats struct {
	Received   int64 `json:"received"`
	Deduped    int64 `json:"deduped"`
	Ignored    int64 `json:"ignored"`
	RateDenied int64 `json:"rate_denied"`
	Dropped    int64 `json:"dropped"`
	Enqueued   int64 `json:"enqueued"`
	Direct     int64 `json:"direct"`
}

// Snapshot copies the counters.
func (d *D) Snapshot() Stats {
	return Stats{
		Received:   d.Received.Load(),
		Deduped:    d.Deduped.Load(),
		Ignored:    d.Ignored.Load(),
		RateDenied: d.RateDenied.Load(),
		Dropped:    d.Dropped.Load(),
		Enqueued:   d.Enqueued.Load(),
		Direct:     d.Direct.Load(),
	}
}
