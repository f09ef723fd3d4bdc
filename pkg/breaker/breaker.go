// Package breaker is a three-state circuit breaker guarding the AI backend.
// Closed passes calls through and counts consecutive failures; Open
// short-circuits without touching the backend; HalfOpen admits a single
// probe. Every underlying call also races a hard timeout.
package breaker

import (
	"errors"
	"sync"
	"time"

	"zapai.dev/pkg/utils/context"
	"zapai.dev/pkg/utils/log"
)

// State of the circuit.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrOpen is returned without invoking the call while the circuit is
	// open, and for surplus probes in half-open state.
	ErrOpen = errors.New("circuit open")
	// ErrTimeout marks a call that exceeded the hard call timeout.
	ErrTimeout = errors.New("call timed out")
)

// Config tunes the breaker. Zero values get the defaults noted per field.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit (default 3).
	FailureThreshold int
	// SuccessThreshold is the half-open success count that closes it
	// (default 1).
	SuccessThreshold int
	// ResetTimeout is how long the circuit stays open before a probe is
	// allowed (default 30s).
	ResetTimeout time.Duration
	// CallTimeout bounds each underlying call (default 50s).
	CallTimeout time.Duration
	// Now is the clock, time.Now when nil.
	Now func() time.Time
}

// B is the breaker. Safe for concurrent use; a single mutex guards the
// state machine while calls run outside it.
type B struct {
	cfg Config

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
	probing   bool
}

// New builds a breaker from cfg.
func New(cfg Config) *B {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 50 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &B{cfg: cfg}
}

// State returns the current state, accounting for open-to-half-open decay.
func (b *B) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.decay()
	return b.state
}

// decay moves Open to HalfOpen once the reset timeout has elapsed. Caller
// holds the lock.
func (b *B) decay() {
	if b.state == Open && b.cfg.Now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		b.state = HalfOpen
		b.probing = false
		b.successes = 0
		log.I.F("circuit half-open after %v", b.cfg.ResetTimeout)
	}
}

// admit decides whether a call may proceed. Caller holds the lock.
func (b *B) admit() error {
	b.decay()
	switch b.state {
	case Open:
		return ErrOpen
	case HalfOpen:
		if b.probing {
			return ErrOpen
		}
		b.probing = true
	}
	return nil
}

func (b *B) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case HalfOpen:
		b.probing = false
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = Closed
			b.failures = 0
			b.successes = 0
			log.I.F("circuit closed")
		}
	default:
		b.failures = 0
	}
}

func (b *B) onFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case HalfOpen:
		b.probing = false
		b.state = Open
		b.openedAt = b.cfg.Now()
		log.W.F("circuit reopened: probe failed: %v", err)
	case Closed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.state = Open
			b.openedAt = b.cfg.Now()
			log.W.F("circuit opened after %d consecutive failures: %v", b.failures, err)
		}
	}
}

// Do runs call under the breaker and the hard call timeout. While open it
// returns ErrOpen immediately; callers substitute their fallback.
func (b *B) Do(
	ctx context.T, call func(ctx context.T) (string, error),
) (out string, err error) {
	b.mu.Lock()
	if err = b.admit(); err != nil {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	cctx, cancel := context.Timeout(ctx, b.cfg.CallTimeout)
	defer cancel()
	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		o, e := call(cctx)
		done <- result{o, e}
	}()
	select {
	case r := <-done:
		out, err = r.out, r.err
	case <-cctx.Done():
		err = ErrTimeout
	}
	if err != nil {
		b.onFailure(err)
		return
	}
	b.onSuccess()
	return
}

// Counts reports the consecutive failure/success counters, for stats.
func (b *B) Counts() (failures, successes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures, b.successes
}
