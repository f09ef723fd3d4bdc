// Package app composes the gateway: identity, store, admission path, worker
// pool, AI client and relay supervision, plus the dashboard server.
package app

import (
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"zapai.dev/pkg/app/config"
	"zapai.dev/pkg/breaker"
	"zapai.dev/pkg/crypto/signer"
	"zapai.dev/pkg/database"
	"zapai.dev/pkg/dedup"
	"zapai.dev/pkg/dispatch"
	"zapai.dev/pkg/oracle"
	"zapai.dev/pkg/processor"
	"zapai.dev/pkg/queue"
	"zapai.dev/pkg/ratelimit"
	"zapai.dev/pkg/relay"
	"zapai.dev/pkg/utils/chk"
	"zapai.dev/pkg/utils/context"
	"zapai.dev/pkg/utils/log"
	"zapai.dev/pkg/version"
	"zapai.dev/pkg/web"
)

// Gateway owns every component and their lifecycles.
type Gateway struct {
	cfg     *config.C
	ctx     context.T
	cancel  context.F
	started time.Time
	down    sync.Once

	signer  *signer.S
	db      *database.D
	cache   *dedup.Cache
	limiter *ratelimit.L
	brk     *breaker.B
	q       *queue.Q
	proc    *processor.P
	disp    *dispatch.D
	sup     *relay.Supervisor
	web     *web.Server
}

// New wires a gateway from cfg. Nothing is started yet.
func New(ctx context.T, cancel context.F, cfg *config.C) (
	g *Gateway, err error,
) {
	g = &Gateway{cfg: cfg, ctx: ctx, cancel: cancel}
	if g.signer, err = signer.New(cfg.SecretKey); chk.E(err) {
		return
	}
	if g.db, err = database.New(ctx, cancel, cfg.DataDir, cfg.DbLogLevel); chk.E(err) {
		return
	}
	g.cache = dedup.New(cfg.DedupMaxIDs, cfg.FingerprintTTL, nil)
	g.limiter = ratelimit.New(
		cfg.RateMaxTokens, cfg.RateRefill, cfg.RateIdleWindow, nil,
	)
	g.brk = breaker.New(breaker.Config{
		FailureThreshold: cfg.BreakerFailures,
		SuccessThreshold: cfg.BreakerSuccesses,
		ResetTimeout:     cfg.BreakerResetTimeout,
		CallTimeout:      cfg.BreakerCallTimeout,
	})
	g.q = queue.New(queue.Config{
		Workers:       cfg.MaxConcurrent,
		MaxSize:       cfg.MaxQueueSize,
		TaskTimeout:   cfg.QueueTimeout,
		RetryAttempts: cfg.RetryAttempts,
		RetryDelay:    cfg.RetryDelay,
	})
	ai := oracle.NewClient(
		cfg.AIBaseURL, cfg.AIAPIKey, cfg.AIModel, cfg.BotName, cfg.HistoryTurns,
	)
	// the supervisor's handler closes over g so the dispatcher can be wired
	// after the publisher it feeds
	g.sup = relay.New(relay.Config{
		Relays:           cfg.Relays,
		Self:             g.signer.Pub(),
		ReconnectBase:    cfg.ReconnectBase,
		ReconnectCeiling: cfg.ReconnectCeiling,
		MaxAttempts:      cfg.ReconnectMax,
	}, func(ev *nostr.Event, url string) { g.disp.Handle(ev, url) })
	g.proc = processor.New(processor.Config{
		BotName:       cfg.BotName,
		DMCost:        cfg.DMCost,
		PublicCost:    cfg.PublicCost,
		ResponseDelay: cfg.ResponseDelay,
		HistoryLimit:  cfg.HistoryLimit,
		HistoryTurns:  cfg.HistoryTurns,
	}, g.signer, g.db, g.sup, g.brk, ai, g.cache)
	g.disp = dispatch.New(ctx, g.cache, g.limiter, g.q, g.proc, g.signer.Pub())
	if cfg.WebPort > 0 {
		g.web = web.New(g.db, g, cfg.WebPort)
	}
	return
}

// Start brings the gateway up: worker pool, bucket sweeper, relay loops and
// dashboard. It fails when no relay at all could be reached.
func (g *Gateway) Start() (err error) {
	g.started = time.Now()
	log.I.F("%s %s identity %s", g.cfg.BotName, version.V, g.signer.Npub())
	g.q.Start(g.ctx)
	go g.limiter.Sweep(g.ctx, time.Minute)
	if err = g.sup.Start(g.ctx); chk.E(err) {
		return
	}
	if g.web != nil {
		if err = g.web.Start(g.ctx, 5*time.Second); chk.E(err) {
			return
		}
	}
	return nil
}

// Shutdown stops intake, drains in-flight work and releases the store. The
// interrupt handler and main both call it; only the first call does the work.
func (g *Gateway) Shutdown() {
	g.down.Do(func() {
		log.I.F("shutting down")
		if g.web != nil {
			sctx, cancel := context.Timeout(context.Bg(), 5*time.Second)
			g.web.Shutdown(sctx)
			cancel()
		}
		g.cancel()
		g.q.Stop()
		g.sup.Wait()
	})
}

// Stats aggregates the runtime counters for the dashboard.
func (g *Gateway) Stats() web.Stats {
	ids, fps := g.cache.Len()
	failures, successes := g.brk.Counts()
	return web.Stats{
		Version:       version.V,
		BotNpub:       g.signer.Npub(),
		UptimeSeconds: int64(time.Since(g.started).Seconds()),
		Relays:        g.sup.Snapshots(),
		Queue:         g.q.Snapshot(),
		Dispatch:      g.disp.Snapshot(),
		Breaker: web.BreakerStats{
			State:     g.brk.State().String(),
			Failures:  failures,
			Successes: successes,
		},
		Responses:    g.proc.Responses.Load(),
		Declined:     g.proc.Declined.Load(),
		Receipts:     g.proc.Receipts.Load(),
		BalanceReads: g.proc.BalanceReads.Load(),
		RateBuckets:  g.limiter.Size(),
		DedupIDs:     ids,
		Fingerprints: fps,
	}
}
