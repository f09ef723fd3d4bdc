// Package processor is the worker body of the gateway: decrypt, persist,
// debit, generate, publish, persist. The debit happens before the AI call
// and is never refunded; API cost protection wins over user refunds.
package processor

import (
	"fmt"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"go.uber.org/atomic"

	"zapai.dev/pkg/breaker"
	"zapai.dev/pkg/crypto/signer"
	"zapai.dev/pkg/database"
	"zapai.dev/pkg/dedup"
	"zapai.dev/pkg/oracle"
	"zapai.dev/pkg/protocol/kind"
	"zapai.dev/pkg/protocol/tags"
	"zapai.dev/pkg/utils/chk"
	"zapai.dev/pkg/utils/context"
	"zapai.dev/pkg/utils/log"
)

// Publisher fans a signed event out to the relay set.
type Publisher interface {
	Publish(ctx context.T, ev nostr.Event) error
}

// Config tunes the processor.
type Config struct {
	BotName       string
	DMCost        int64
	PublicCost    int64
	ResponseDelay time.Duration
	HistoryLimit  int
	HistoryTurns  int
	// Fallback is the reply used when the circuit is open or the oracle
	// fails.
	Fallback string
}

// DefaultFallback is sent when no generated reply is available.
const DefaultFallback = "I can't produce a proper reply right now. Your message was received, please try again in a minute."

// P implements the processing pipeline. Safe for concurrent use by the work
// queue's workers.
type P struct {
	cfg    Config
	signer *signer.S
	db     *database.D
	pub    Publisher
	brk    *breaker.B
	ai     oracle.I
	cache  *dedup.Cache
	sleep  func(ctx context.T, d time.Duration) bool

	// counters for the dashboard
	Responses    atomic.Int64
	Declined     atomic.Int64
	Receipts     atomic.Int64
	BalanceReads atomic.Int64
}

// New wires a processor. cache is shared with the dispatcher so content
// fingerprints and one-shot notices use the same bounded store.
func New(
	cfg Config, sig *signer.S, db *database.D, pub Publisher,
	brk *breaker.B, ai oracle.I, cache *dedup.Cache,
) *P {
	if cfg.Fallback == "" {
		cfg.Fallback = DefaultFallback
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = 40
	}
	return &P{
		cfg:    cfg,
		signer: sig,
		db:     db,
		pub:    pub,
		brk:    brk,
		ai:     ai,
		cache:  cache,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.T, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Process handles one inbound DM or public mention. Errors returned here are
// retried by the work queue; drops (duplicates, empty or undecryptable
// content) return nil.
func (p *P) Process(ctx context.T, ev *nostr.Event, relayURL string) (err error) {
	cls := kind.Classify(ev.Kind)
	var origin string
	var cost int64
	switch cls {
	case kind.DM:
		origin, cost = database.OriginDM, p.cfg.DMCost
	case kind.Public:
		origin, cost = database.OriginPublic, p.cfg.PublicCost
	default:
		return nil
	}

	var sessionTag string
	if cls == kind.DM {
		sessionTag = tags.First(ev, "session")
	}

	text := ev.Content
	if cls == kind.DM {
		if text, err = p.signer.Decrypt(ev.PubKey, ev.Content); err != nil {
			log.D.F("cannot decrypt dm %s from %s: %v", ev.ID, short(ev.PubKey), err)
			return nil
		}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if p.cache.ContentSeen(ev.PubKey, text) {
		log.D.F("duplicate content from %s within window, dropping %s", short(ev.PubKey), ev.ID)
		return nil
	}

	sessionID, _, err := p.db.EnsureSession(ev.PubKey, sessionTag, origin)
	if err != nil {
		return p.rethrow(ctx, ev, cls, err)
	}
	sessionKnown := database.SanitizeSessionID(sessionTag) != ""

	saved, err := p.db.SaveMessage(database.SaveParams{
		User:      ev.PubKey,
		Text:      text,
		SessionID: sessionID,
		Origin:    origin,
		EventID:   ev.ID,
		EventKind: ev.Kind,
		Metadata:  map[string]string{"relay": relayURL},
	})
	if err != nil {
		return p.rethrow(ctx, ev, cls, err)
	}
	resuming := false
	if saved.Duplicate {
		prior, ok, perr := p.db.MessageByEventID(ev.ID)
		if perr != nil {
			return p.rethrow(ctx, ev, cls, perr)
		}
		if !ok {
			return nil
		}
		replied, rerr := p.db.ReplyExists(prior.User, prior.Session, prior.MessageID)
		if rerr != nil {
			return p.rethrow(ctx, ev, cls, rerr)
		}
		if replied {
			return nil
		}
		// debited on a failed attempt but never answered; pick up at the
		// generation step without charging again
		sessionID = prior.Session
		saved.MessageID = prior.MessageID
		resuming = true
		log.I.F("resuming undelivered reply to %s from %s", ev.ID, short(ev.PubKey))
	}

	var newBalance int64
	if resuming {
		if newBalance, err = p.db.Balance(ev.PubKey); chk.D(err) {
			newBalance = 0
		}
	} else {
		// debit before generate; no refunds after this point
		var derr error
		newBalance, derr = p.db.Debit(ev.PubKey, cost)
		if derr == database.ErrInsufficientFunds {
			balance, _ := p.db.Balance(ev.PubKey)
			notice := fmt.Sprintf(
				"Insufficient balance. Required: %d sats, available: %d. Zap me to top up.",
				cost, balance,
			)
			p.Declined.Inc()
			return p.systemReply(ctx, ev, cls, sessionID, saved.MessageID, notice)
		}
		if derr != nil {
			log.E.F("debit of %d for %s failed: %v", cost, short(ev.PubKey), derr)
			notice := "Something went wrong while accounting your message; you were not charged. Please try again."
			return p.systemReply(ctx, ev, cls, sessionID, saved.MessageID, notice)
		}
	}

	history, herr := p.loadHistory(ev.PubKey, sessionID, sessionKnown, saved.MessageID)
	if chk.D(herr) {
		history = nil // degraded but answerable
	}
	reply, oerr := p.brk.Do(ctx, func(c context.T) (string, error) {
		return p.ai.Generate(c, text, history)
	})
	if oerr != nil {
		log.W.F("oracle unavailable for %s: %v", ev.ID, oerr)
		reply = p.cfg.Fallback
	}
	if cls == kind.DM {
		reply += fmt.Sprintf("\n\n⚡ Balance: %d sats (this reply cost %d)", newBalance, cost)
	}

	if !p.sleep(ctx, p.cfg.ResponseDelay) {
		return p.rethrow(ctx, ev, cls, ctx.Err())
	}

	out, err := p.buildReply(ev, cls, sessionID, reply)
	if err != nil {
		return p.rethrow(ctx, ev, cls, err)
	}
	if err = p.pub.Publish(ctx, out); err != nil {
		return p.rethrow(ctx, ev, cls, err)
	}

	if _, err = p.db.SaveMessage(database.SaveParams{
		User:      ev.PubKey,
		Text:      reply,
		FromBot:   true,
		SessionID: sessionID,
		Origin:    origin,
		ReplyTo:   saved.MessageID,
		EventID:   out.ID,
		EventKind: out.Kind,
	}); err != nil {
		return p.rethrow(ctx, ev, cls, err)
	}

	if cls == kind.DM {
		p.publishBalance(ctx, ev.PubKey, newBalance)
	}
	// the fingerprint is recorded only once the reply is delivered, so a
	// queue retry of this event is not extinguished by its own first attempt
	p.cache.SeenContent(ev.PubKey, text)
	p.Responses.Inc()
	log.I.F("replied to %s %s from %s (cost %d, balance %d)",
		cls, ev.ID, short(ev.PubKey), cost, newBalance)
	return nil
}

// systemReply publishes a system notice (insufficient funds, debit trouble)
// on the same channel the message arrived on and persists it as a bot system
// turn. The pipeline stops here: nil is returned so the queue won't retry.
func (p *P) systemReply(
	ctx context.T, ev *nostr.Event, cls kind.Class, sessionID, replyTo, notice string,
) error {
	out, err := p.buildReply(ev, cls, sessionID, notice)
	if err == nil {
		err = p.pub.Publish(ctx, out)
	}
	if chk.W(err) {
		// the stored system turn still documents the decision
		out.ID = ""
	}
	_, serr := p.db.SaveMessage(database.SaveParams{
		User:      ev.PubKey,
		Text:      notice,
		FromBot:   true,
		Type:      database.TypeSystem,
		SessionID: sessionID,
		ReplyTo:   replyTo,
		EventID:   out.ID,
		EventKind: out.Kind,
	})
	chk.E(serr)
	return nil
}

// loadHistory returns prior turns for the oracle, excluding the just-saved
// message and truncated to the configured turn budget.
func (p *P) loadHistory(
	user, sessionID string, sessionKnown bool, excludeID string,
) (turns []oracle.Turn, err error) {
	var msgs []*database.MessageRecord
	if sessionKnown {
		msgs, err = p.db.HistoryBySession(user, sessionID, p.cfg.HistoryLimit)
	} else {
		msgs, err = p.db.HistoryByUser(user, p.cfg.HistoryLimit)
	}
	if err != nil {
		return
	}
	for _, m := range msgs {
		if m.MessageID == excludeID {
			continue
		}
		turns = append(turns, oracle.Turn{
			FromBot: m.Direction == database.DirBot,
			Text:    m.Text,
		})
	}
	if len(turns) > p.cfg.HistoryTurns {
		turns = turns[len(turns)-p.cfg.HistoryTurns:]
	}
	return
}

// rethrow sends a one-shot error notice for DM origins and propagates err so
// the work queue retries.
func (p *P) rethrow(ctx context.T, ev *nostr.Event, cls kind.Class, err error) error {
	if cls == kind.DM && p.once("error", ev.ID) {
		p.sendDM(ctx, ev.PubKey, "",
			"Something went wrong while processing your message. I'll retry shortly.")
	}
	return err
}

// once reports whether this (topic, id) notice has not been sent within the
// fingerprint window, reserving it.
func (p *P) once(topic, id string) bool {
	return !p.cache.SeenContent("notice:"+topic, id)
}

func short(pk string) string {
	if len(pk) > 8 {
		return pk[:8]
	}
	return pk
}
