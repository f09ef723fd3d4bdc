package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"zapai.dev/pkg/utils/context"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestBurstThenDeny(t *testing.T) {
	clk := &clock{now: time.Unix(1000, 0)}
	l := New(2, 1, time.Minute, clk.Now)

	assert.True(t, l.Check("alice").Allowed)
	assert.True(t, l.Check("alice").Allowed)

	res := l.Check("alice")
	assert.False(t, res.Allowed)
	assert.GreaterOrEqual(t, res.RetryAfter, time.Second)

	// an unrelated key has its own bucket
	assert.True(t, l.Check("bob").Allowed)
}

func TestRefillOverTime(t *testing.T) {
	clk := &clock{now: time.Unix(1000, 0)}
	l := New(1, 1, time.Minute, clk.Now)

	assert.True(t, l.Check("alice").Allowed)
	assert.False(t, l.Check("alice").Allowed)

	clk.Advance(1100 * time.Millisecond)
	assert.True(t, l.Check("alice").Allowed)
}

func TestRetryAfterWholeSeconds(t *testing.T) {
	clk := &clock{now: time.Unix(1000, 0)}
	l := New(1, 0.5, time.Minute, clk.Now)

	l.Check("alice")
	res := l.Check("alice")
	assert.False(t, res.Allowed)
	assert.Equal(t, time.Duration(0), res.RetryAfter%time.Second)
	assert.GreaterOrEqual(t, res.RetryAfter, time.Second)
}

func TestSweepEvictsIdle(t *testing.T) {
	clk := &clock{now: time.Unix(1000, 0)}
	l := New(5, 1, time.Second, clk.Now)
	l.Check("alice")
	l.Check("bob")
	assert.Equal(t, 2, l.Size())

	clk.Advance(2 * time.Second)
	l.Check("bob") // refresh one bucket

	ctx, cancel := context.Cancel(context.Bg())
	defer cancel()
	go l.Sweep(ctx, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return l.Size() == 1 },
		time.Second, 10*time.Millisecond)
}
