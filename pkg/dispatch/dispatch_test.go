package dispatch

import (
	"errors"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"zapai.dev/pkg/dedup"
	"zapai.dev/pkg/queue"
	"zapai.dev/pkg/ratelimit"
	"zapai.dev/pkg/utils/context"
)

type fakeSink struct {
	processed    atomic.Int64
	receipts     atomic.Int64
	balances     atomic.Int64
	rateLimited  atomic.Int64
	overloaded   atomic.Int64
	failReceipts atomic.Bool
}

func (f *fakeSink) Process(context.T, *nostr.Event, string) error {
	f.processed.Inc()
	return nil
}

func (f *fakeSink) HandleReceipt(context.T, *nostr.Event, string) error {
	f.receipts.Inc()
	if f.failReceipts.Load() {
		return errors.New("ledger write failed")
	}
	return nil
}

func (f *fakeSink) HandleBalance(context.T, *nostr.Event, string) error {
	f.balances.Inc()
	return nil
}

func (f *fakeSink) RateLimited(context.T, *nostr.Event, time.Duration) {
	f.rateLimited.Inc()
}

func (f *fakeSink) Overloaded(context.T, *nostr.Event) {
	f.overloaded.Inc()
}

const selfPub = "se1f0000000000000000000000000000000000000000000000000000000000ff"

func newTestDispatcher(t *testing.T, maxTokens int, queueSize int) (
	*D, *fakeSink,
) {
	t.Helper()
	ctx, cancel := context.Cancel(context.Bg())
	t.Cleanup(cancel)
	q := queue.New(queue.Config{
		Workers: 2, MaxSize: queueSize, TaskTimeout: time.Second,
		RetryAttempts: 1, RetryDelay: time.Millisecond,
	})
	q.Start(ctx)
	sink := &fakeSink{}
	d := New(
		ctx,
		dedup.New(100, time.Minute, nil),
		ratelimit.New(maxTokens, 0.001, time.Minute, nil),
		q, sink, selfPub,
	)
	return d, sink
}

func ev(id, pubkey string, k int) *nostr.Event {
	return &nostr.Event{ID: id, PubKey: pubkey, Kind: k, Content: "x"}
}

func TestRoutesByKind(t *testing.T) {
	d, sink := newTestDispatcher(t, 10, 100)

	d.Handle(ev("e1", "alice", 4), "wss://r1")
	d.Handle(ev("e2", "alice", 1), "wss://r1")
	d.Handle(ev("e3", "alice", 9735), "wss://r1")
	d.Handle(ev("e4", "alice", 1006), "wss://r1")
	d.Handle(ev("e5", "alice", 30023), "wss://r1")

	assert.Eventually(t, func() bool {
		return sink.processed.Load() == 2 &&
			sink.receipts.Load() == 1 &&
			sink.balances.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), d.Ignored.Load())
	assert.Equal(t, int64(2), d.Enqueued.Load())
	assert.Equal(t, int64(2), d.Direct.Load())
	assert.Equal(t, int64(5), d.Received.Load())
}

func TestDuplicateIDsDropped(t *testing.T) {
	d, sink := newTestDispatcher(t, 10, 100)

	d.Handle(ev("e1", "alice", 4), "wss://r1")
	d.Handle(ev("e1", "alice", 4), "wss://r2")
	d.Handle(ev("e1", "alice", 4), "wss://r3")

	assert.Eventually(t, func() bool { return sink.processed.Load() == 1 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(2), d.Deduped.Load())
}

func TestOwnEventsDiscarded(t *testing.T) {
	d, sink := newTestDispatcher(t, 10, 100)

	d.Handle(ev("e1", selfPub, 4), "wss://r1")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(0), sink.processed.Load())
	assert.Equal(t, int64(0), d.Enqueued.Load())
}

func TestRateLimitDeniesAndNotifies(t *testing.T) {
	d, sink := newTestDispatcher(t, 1, 100)

	d.Handle(ev("e1", "alice", 4), "wss://r1")
	d.Handle(ev("e2", "alice", 4), "wss://r1")

	assert.Eventually(t, func() bool {
		return sink.processed.Load() == 1 && sink.rateLimited.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), d.RateDenied.Load())

	// receipts are exempt from the limiter
	d.Handle(ev("e3", "alice", 9735), "wss://r1")
	assert.Eventually(t, func() bool { return sink.receipts.Load() == 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestQueueFullShedsWithNotice(t *testing.T) {
	ctx, cancel := context.Cancel(context.Bg())
	t.Cleanup(cancel)
	// queue is never started, so everything stays pending
	q := queue.New(queue.Config{
		Workers: 1, MaxSize: 1, TaskTimeout: time.Second,
		RetryAttempts: 1, RetryDelay: time.Millisecond,
	})
	sink := &fakeSink{}
	d := New(
		ctx,
		dedup.New(100, time.Minute, nil),
		ratelimit.New(10, 1, time.Minute, nil),
		q, sink, selfPub,
	)

	d.Handle(ev("e1", "alice", 4), "wss://r1")
	d.Handle(ev("e2", "alice", 4), "wss://r1")

	assert.Equal(t, int64(1), d.Enqueued.Load())
	assert.Equal(t, int64(1), d.Dropped.Load())
	assert.Eventually(t, func() bool { return sink.overloaded.Load() == 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestReceiptsBypassFullQueue(t *testing.T) {
	ctx, cancel := context.Cancel(context.Bg())
	t.Cleanup(cancel)
	// queue is never started and already at its depth bound
	q := queue.New(queue.Config{
		Workers: 1, MaxSize: 1, TaskTimeout: time.Second,
		RetryAttempts: 1, RetryDelay: time.Millisecond,
	})
	_, err := q.Enqueue(func(context.T) error { return nil })
	require.NoError(t, err)
	sink := &fakeSink{}
	d := New(
		ctx,
		dedup.New(100, time.Minute, nil),
		ratelimit.New(10, 1, time.Minute, nil),
		q, sink, selfPub,
	)

	d.Handle(ev("z1", "alice", 9735), "wss://r1")
	d.Handle(ev("b1", "alice", 1006), "wss://r1")

	assert.Eventually(t, func() bool {
		return sink.receipts.Load() == 1 && sink.balances.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(0), d.Dropped.Load())
	assert.Equal(t, int64(2), d.Direct.Load())

	// redelivery of a credited receipt is still deduped
	d.Handle(ev("z1", "alice", 9735), "wss://r2")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), sink.receipts.Load())
	assert.Equal(t, int64(1), d.Deduped.Load())
}

func TestFailedReceiptHandlerAllowsRedelivery(t *testing.T) {
	d, sink := newTestDispatcher(t, 10, 100)
	sink.failReceipts.Store(true)

	d.Handle(ev("z1", "alice", 9735), "wss://r1")
	assert.Eventually(t, func() bool { return sink.receipts.Load() == 1 },
		2*time.Second, 10*time.Millisecond)

	// the failing attempt released the id, so a copy from another relay
	// gets a fresh attempt instead of being deduped away
	sink.failReceipts.Store(false)
	assert.Eventually(t, func() bool {
		d.Handle(ev("z1", "alice", 9735), "wss://r2")
		return sink.receipts.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}
