package relay

import (
	"errors"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"go.uber.org/atomic"

	"zapai.dev/pkg/utils/context"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	base, ceiling := 5*time.Second, time.Minute
	assert.Equal(t, 5*time.Second, backoff(base, ceiling, 0))
	assert.Equal(t, 10*time.Second, backoff(base, ceiling, 1))
	assert.Equal(t, 20*time.Second, backoff(base, ceiling, 2))
	assert.Equal(t, 40*time.Second, backoff(base, ceiling, 3))
	assert.Equal(t, time.Minute, backoff(base, ceiling, 4))
	// shift overflow still lands on the ceiling
	assert.Equal(t, time.Minute, backoff(base, ceiling, 62))
}

func TestFiltersAddressSelf(t *testing.T) {
	s := New(Config{
		Relays: []string{"wss://a", "wss://b"},
		Self:   "botpub",
	}, nil)
	fs := s.filters()
	if assert.Len(t, fs, 1) {
		assert.ElementsMatch(t, []int{1, 4, 1006, 9735}, fs[0].Kinds)
		assert.Equal(t, []string{"botpub"}, fs[0].Tags["p"])
		assert.NotNil(t, fs[0].Since)
	}
}

func TestSnapshotsStableOrder(t *testing.T) {
	s := New(Config{
		Relays: []string{"wss://b.example", "wss://a.example"},
		Self:   "botpub",
	}, nil)
	snaps := s.Snapshots()
	if assert.Len(t, snaps, 2) {
		assert.Equal(t, "wss://a.example", snaps[0].URL)
		assert.Equal(t, "wss://b.example", snaps[1].URL)
	}
}

func TestPermanentFailureAfterAttemptCeiling(t *testing.T) {
	s := New(Config{
		Relays:           []string{"wss://x"},
		Self:             "botpub",
		ReconnectBase:    time.Millisecond,
		ReconnectCeiling: time.Millisecond,
		MaxAttempts:      3,
	}, nil)
	var dials atomic.Int64
	s.dial = func(context.T, string) (*nostr.Relay, error) {
		dials.Inc()
		return nil, errors.New("connection refused")
	}
	ctx, cancel := context.Cancel(context.Bg())
	defer cancel()

	s.wg.Add(1)
	done := make(chan struct{})
	go func() {
		s.run(ctx, "wss://x", nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("reconnect loop did not give up")
	}

	st, _ := s.states.Load("wss://x")
	assert.True(t, st.PermanentlyFailed.Load())
	assert.EqualValues(t, 3, st.ReconnectAttempts.Load())
	assert.EqualValues(t, 3, dials.Load())
	assert.EqualValues(t, 3, st.Errors.Load())
	assert.Equal(t, 0, s.LiveCount())

	// the loop has exited; no further dials ever happen
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 3, dials.Load())
}

func TestEOSEWatcherExitsWithStream(t *testing.T) {
	eose := make(chan struct{})
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		watchEOSE("wss://x", eose, done)
		close(exited)
	}()

	close(done)
	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("watcher outlived its stream")
	}
}

func TestStateRecordsErrors(t *testing.T) {
	st := &State{URL: "wss://x"}
	st.recordError(errors.New("broken pipe"))
	st.recordError(errors.New("reset"))
	snap := st.snapshot()
	assert.Equal(t, int64(2), snap.Errors)
	assert.Equal(t, "reset", snap.LastError)
}
