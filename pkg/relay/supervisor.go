// Package relay maintains one durable subscription loop per configured relay
// URL, with exponential reconnect and a permanent-failure ceiling, and fans
// published events out to every live relay.
package relay

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"

	"zapai.dev/pkg/protocol/kind"
	"zapai.dev/pkg/utils/chk"
	"zapai.dev/pkg/utils/context"
	"zapai.dev/pkg/utils/log"
)

// Handler receives each inbound event with the URL it arrived from. It must
// not block; the dispatcher's admission path is O(1).
type Handler func(ev *nostr.Event, relayURL string)

// Config tunes the supervisor.
type Config struct {
	// Relays are the websocket URLs to maintain.
	Relays []string
	// Self is the gateway's public key; subscriptions filter on p-tags
	// addressed to it.
	Self string
	// ReconnectBase and ReconnectCeiling bound the backoff
	// min(base*2^attempt, ceiling); defaults 5s and 60s.
	ReconnectBase    time.Duration
	ReconnectCeiling time.Duration
	// MaxAttempts is the reconnect budget before a relay is marked
	// permanently failed (default 5).
	MaxAttempts int
	// ConnectTimeout bounds one dial (default 10s).
	ConnectTimeout time.Duration
}

// Supervisor owns the per-relay loops. A relay's failure never blocks the
// others; Start fails only when no relay connects at all.
type Supervisor struct {
	cfg     Config
	handler Handler
	since   nostr.Timestamp
	states  *xsync.MapOf[string, *State]
	conns   *xsync.MapOf[string, *nostr.Relay]
	// dial opens one relay connection; nostr.RelayConnect in production,
	// replaced in tests.
	dial func(ctx context.T, url string) (*nostr.Relay, error)
	wg   sync.WaitGroup
}

// New builds a supervisor delivering events to handler.
func New(cfg Config, handler Handler) *Supervisor {
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = 5 * time.Second
	}
	if cfg.ReconnectCeiling <= 0 {
		cfg.ReconnectCeiling = time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	s := &Supervisor{
		cfg:     cfg,
		handler: handler,
		since:   nostr.Now(),
		states:  xsync.NewMapOf[string, *State](),
		conns:   xsync.NewMapOf[string, *nostr.Relay](),
		dial: func(ctx context.T, url string) (*nostr.Relay, error) {
			return nostr.RelayConnect(ctx, url)
		},
	}
	for _, url := range cfg.Relays {
		s.states.Store(url, &State{URL: url})
	}
	return s
}

func (s *Supervisor) filters() nostr.Filters {
	since := s.since
	return nostr.Filters{{
		Kinds: kind.Watched(),
		Tags:  nostr.TagMap{"p": []string{s.cfg.Self}},
		Since: &since,
	}}
}

// Start dials every relay in parallel and launches the subscription loops.
// It returns an error when not a single relay could be reached; relays that
// failed the initial dial still get a loop and the normal reconnect budget.
func (s *Supervisor) Start(ctx context.T) (err error) {
	connected := make(map[string]*nostr.Relay, len(s.cfg.Relays))
	var mu sync.Mutex
	eg, ectx := errgroup.WithContext(ctx)
	for _, url := range s.cfg.Relays {
		eg.Go(func() error {
			dctx, cancel := context.Timeout(ectx, s.cfg.ConnectTimeout)
			defer cancel()
			conn, err := s.dial(dctx, url)
			if err != nil {
				st, _ := s.states.Load(url)
				st.recordError(err)
				log.W.F("initial connect to %s failed: %v", url, err)
				// non-fatal; the loop will retry
				return nil
			}
			mu.Lock()
			connected[url] = conn
			mu.Unlock()
			return nil
		})
	}
	if err = eg.Wait(); chk.E(err) {
		return
	}
	if len(connected) == 0 {
		return fmt.Errorf("could not connect to any of %d relays", len(s.cfg.Relays))
	}
	log.I.F("connected to %d/%d relays", len(connected), len(s.cfg.Relays))
	for _, url := range s.cfg.Relays {
		s.wg.Add(1)
		go s.run(ctx, url, connected[url])
	}
	return nil
}

// Wait blocks until every relay loop has exited.
func (s *Supervisor) Wait() { s.wg.Wait() }

// run is the per-URL loop: subscribe, stream, reconnect with backoff, give
// up at the attempt ceiling.
func (s *Supervisor) run(ctx context.T, url string, conn *nostr.Relay) {
	defer s.wg.Done()
	st, _ := s.states.Load(url)
	for {
		if conn == nil {
			attempt := st.ReconnectAttempts.Load()
			if int(attempt) >= s.cfg.MaxAttempts {
				st.PermanentlyFailed.Store(true)
				s.conns.Delete(url)
				log.E.F("relay %s permanently failed after %d attempts", url, attempt)
				return
			}
			if !sleep(ctx, backoff(s.cfg.ReconnectBase, s.cfg.ReconnectCeiling, int(attempt))) {
				return
			}
			st.ReconnectAttempts.Inc()
			dctx, cancel := context.Timeout(ctx, s.cfg.ConnectTimeout)
			c, err := s.dial(dctx, url)
			cancel()
			if err != nil {
				st.recordError(err)
				log.D.F("reconnect to %s failed (attempt %d): %v",
					url, st.ReconnectAttempts.Load(), err)
				continue
			}
			conn = c
		}
		s.conns.Store(url, conn)
		st.Connected.Store(true)
		if !s.stream(ctx, url, st, conn) {
			chk.T(conn.Close())
			return
		}
		// stream ended; drop the handle and go around to reconnect
		chk.T(conn.Close())
		s.conns.Delete(url)
		st.Connected.Store(false)
		conn = nil
	}
}

// stream consumes one subscription until it ends. Returns false on
// cancellation, true when the loop should reconnect.
func (s *Supervisor) stream(
	ctx context.T, url string, st *State, conn *nostr.Relay,
) (again bool) {
	sub, err := conn.Subscribe(ctx, s.filters())
	if err != nil {
		st.recordError(err)
		log.W.F("subscribe to %s failed: %v", url, err)
		return true
	}
	defer sub.Unsub()
	// the watcher must die with this stream, not with the whole supervisor;
	// relays that never send EOSE would otherwise leak one goroutine per
	// reconnect cycle
	done := make(chan struct{})
	defer close(done)
	go watchEOSE(url, sub.EndOfStoredEvents, done)
	for {
		select {
		case <-ctx.Done():
			return false
		case reason := <-sub.ClosedReason:
			st.recordError(fmt.Errorf("subscription closed: %s", reason))
			log.W.F("relay %s closed subscription: %s", url, reason)
			return true
		case ev, ok := <-sub.Events:
			if !ok || ev == nil {
				log.D.F("event stream from %s exhausted", url)
				return true
			}
			st.MessagesIn.Inc()
			st.LastSeen.Store(time.Now().UnixMilli())
			st.ReconnectAttempts.Store(0)
			s.handler(ev, url)
		}
	}
}

// watchEOSE logs the end-of-stored-events marker once, exiting when the
// owning stream returns.
func watchEOSE(url string, eose <-chan struct{}, done <-chan struct{}) {
	select {
	case <-eose:
		log.T.F("eose from %s", url)
	case <-done:
	}
}

func backoff(base, ceiling time.Duration, attempt int) time.Duration {
	d := base << attempt
	if d > ceiling || d <= 0 {
		d = ceiling
	}
	return d
}

// sleep waits d or until ctx is done, reporting whether the full duration
// elapsed.
func sleep(ctx context.T, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Publish fans ev out to every live relay in parallel. It succeeds when at
// least one relay accepts; delivery is at-least-once across the set.
func (s *Supervisor) Publish(ctx context.T, ev nostr.Event) (err error) {
	var wg sync.WaitGroup
	var okCount, total int
	var mu sync.Mutex
	s.conns.Range(func(url string, conn *nostr.Relay) bool {
		total++
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, _ := s.states.Load(url)
			pctx, cancel := context.Timeout(ctx, 15*time.Second)
			defer cancel()
			if perr := conn.Publish(pctx, ev); perr != nil {
				st.recordError(perr)
				log.D.F("publish to %s failed: %v", url, perr)
				return
			}
			st.MessagesOut.Inc()
			mu.Lock()
			okCount++
			mu.Unlock()
		}()
		return true
	})
	wg.Wait()
	if total == 0 {
		return fmt.Errorf("no live relays to publish to")
	}
	if okCount == 0 {
		return fmt.Errorf("publish of %s failed on all %d relays", ev.ID, total)
	}
	log.T.F("published %s (kind %d) to %d/%d relays", ev.ID, ev.Kind, okCount, total)
	return nil
}

// Snapshots returns per-relay state copies, stable by URL.
func (s *Supervisor) Snapshots() (out []Snapshot) {
	s.states.Range(func(_ string, st *State) bool {
		out = append(out, st.snapshot())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return
}

// LiveCount returns how many relays currently hold an open connection.
func (s *Supervisor) LiveCount() (n int) {
	s.conns.Range(func(string, *nostr.Relay) bool { n++; return true })
	return
}
