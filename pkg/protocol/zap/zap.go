// Package zap parses NIP-57 payment receipts (kind 9735) into ledger
// credits. A receipt wraps the payer's original zap request event in its
// description tag; the inner request is the authoritative source for the
// payer identity and amount.
package zap

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/nbd-wtf/go-nostr"

	"zapai.dev/pkg/protocol/tags"
	"zapai.dev/pkg/utils/log"
)

var (
	// ErrNoDescription means the receipt carried no parseable zap request.
	ErrNoDescription = errors.New("zap receipt has no description tag")
	// ErrNoAmount means no positive sat amount could be recovered.
	ErrNoAmount = errors.New("zap receipt has no usable amount")
)

// Receipt is a parsed payment receipt.
type Receipt struct {
	// Payer is the identity credited: the inner request's author, falling
	// back to the receipt event's author.
	Payer string
	// Sats is the amount in whole sats (millisat amounts floor-divided).
	Sats int64
	// ReceiptID is the receipt event id, the idempotency key.
	ReceiptID string
	// RequestID is the inner zap request's event id, when present.
	RequestID string
	// Bolt11 is the paid invoice, when present.
	Bolt11 string
	// Description is the raw description tag content.
	Description string
}

// Parse extracts a Receipt from a kind-9735 event. Amount precedence: the
// inner request's amount tag, then the receipt's own amount tag, both in
// millisats.
func Parse(ev *nostr.Event) (r *Receipt, err error) {
	r = &Receipt{
		Payer:     ev.PubKey,
		ReceiptID: ev.ID,
		Bolt11:    tags.First(ev, "bolt11"),
	}
	r.Description = tags.First(ev, "description")
	if r.Description == "" {
		return nil, ErrNoDescription
	}
	var request nostr.Event
	if err = json.Unmarshal([]byte(r.Description), &request); err != nil {
		log.D.F("unparseable zap description on %s: %v", ev.ID, err)
		err = nil
	} else {
		if request.PubKey != "" {
			r.Payer = request.PubKey
		}
		r.RequestID = request.ID
		r.Sats = msatTagToSats(&request)
	}
	if r.Sats == 0 {
		r.Sats = msatTagToSats(ev)
	}
	if r.Sats <= 0 {
		return nil, ErrNoAmount
	}
	return r, nil
}

func msatTagToSats(ev *nostr.Event) int64 {
	raw := tags.First(ev, "amount")
	if raw == "" {
		return 0
	}
	msat, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || msat < 0 {
		return 0
	}
	return msat / 1000
}
