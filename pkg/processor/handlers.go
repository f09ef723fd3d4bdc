package processor

import (
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"zapai.dev/pkg/protocol/kind"
	"zapai.dev/pkg/protocol/zap"
	"zapai.dev/pkg/utils/context"
	"zapai.dev/pkg/utils/log"
)

// HandleReceipt credits a zap receipt to the payer's balance. Crediting is
// idempotent on the receipt id, so redelivery across relays is harmless.
// Errors are returned for queue retry.
func (p *P) HandleReceipt(ctx context.T, ev *nostr.Event, relayURL string) error {
	r, err := zap.Parse(ev)
	if err != nil {
		log.D.F("unusable zap receipt %s from %s: %v", ev.ID, relayURL, err)
		return nil
	}
	applied, newBalance, err := p.db.ApplyReceipt(r)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}
	p.Receipts.Inc()
	log.I.F("credited %d sats to %s (balance %d, receipt %s)",
		r.Sats, short(r.Payer), newBalance, r.ReceiptID)

	thanks := fmt.Sprintf("Received your zap of %d sats. Balance: %d sats. ⚡", r.Sats, newBalance)
	note := nostr.Event{
		PubKey:    p.signer.Pub(),
		CreatedAt: nostr.Now(),
		Kind:      kind.PublicNote,
		Tags:      nostr.Tags{{"p", r.Payer}},
		Content:   thanks,
	}
	if serr := p.signer.Sign(&note); serr == nil {
		if perr := p.pub.Publish(ctx, note); perr != nil {
			log.D.F("zap ack for %s not delivered: %v", short(r.Payer), perr)
		}
	}
	p.publishBalance(ctx, r.Payer, newBalance)
	return nil
}

// HandleBalance answers a kind 1006 balance query with a signed snapshot.
func (p *P) HandleBalance(ctx context.T, ev *nostr.Event, relayURL string) error {
	balance, err := p.db.Balance(ev.PubKey)
	if err != nil {
		return err
	}
	p.BalanceReads.Inc()
	log.D.F("balance query from %s via %s: %d sats", short(ev.PubKey), relayURL, balance)
	p.publishBalance(ctx, ev.PubKey, balance)
	return nil
}

// RateLimited sends a single decline DM per user within the notice window;
// public mentions are dropped silently.
func (p *P) RateLimited(ctx context.T, ev *nostr.Event, retryAfter time.Duration) {
	if kind.Classify(ev.Kind) != kind.DM {
		return
	}
	if !p.once("ratelimit", ev.PubKey) {
		return
	}
	secs := int64(retryAfter / time.Second)
	if secs < 1 {
		secs = 1
	}
	p.sendDM(ctx, ev.PubKey, "", fmt.Sprintf(
		"You're sending messages too quickly. Please wait %d seconds and try again.", secs))
}

// Overloaded sends a single shed notice per user when the queue is full.
func (p *P) Overloaded(ctx context.T, ev *nostr.Event) {
	if kind.Classify(ev.Kind) != kind.DM {
		return
	}
	if !p.once("overload", ev.PubKey) {
		return
	}
	p.sendDM(ctx, ev.PubKey, "",
		"I'm handling too many requests right now and had to drop your message. Please try again in a bit.")
}
