package processor

import (
	"encoding/json"
	"strconv"

	"github.com/nbd-wtf/go-nostr"

	"zapai.dev/pkg/protocol/kind"
	"zapai.dev/pkg/utils/chk"
	"zapai.dev/pkg/utils/context"
	"zapai.dev/pkg/utils/log"
)

// buildReply constructs the signed response event on the same channel the
// inbound message used: an encrypted kind 4 for DMs, a threaded kind 1 for
// public mentions.
func (p *P) buildReply(
	ev *nostr.Event, cls kind.Class, sessionID, text string,
) (out nostr.Event, err error) {
	switch cls {
	case kind.DM:
		return p.buildDM(ev.PubKey, sessionID, text)
	default:
		out = nostr.Event{
			PubKey:    p.signer.Pub(),
			CreatedAt: nostr.Now(),
			Kind:      kind.PublicNote,
			Tags: nostr.Tags{
				{"e", ev.ID, "", "reply"},
				{"p", ev.PubKey},
			},
			Content: text,
		}
		err = p.signer.Sign(&out)
		return
	}
}

func (p *P) buildDM(peer, sessionID, text string) (out nostr.Event, err error) {
	var ct string
	if ct, err = p.signer.Encrypt(peer, text); chk.E(err) {
		return
	}
	t := nostr.Tags{{"p", peer}}
	if sessionID != "" {
		t = append(t, nostr.Tag{"session", sessionID})
	}
	out = nostr.Event{
		PubKey:    p.signer.Pub(),
		CreatedAt: nostr.Now(),
		Kind:      kind.DirectMessage,
		Tags:      t,
		Content:   ct,
	}
	err = p.signer.Sign(&out)
	return
}

// sendDM builds and publishes a DM, logging rather than propagating failures.
// Used for notices where the pipeline outcome does not depend on delivery.
func (p *P) sendDM(ctx context.T, peer, sessionID, text string) {
	out, err := p.buildDM(peer, sessionID, text)
	if chk.W(err) {
		return
	}
	if err = p.pub.Publish(ctx, out); err != nil {
		log.D.F("notice dm to %s not delivered: %v", short(peer), err)
	}
}

type balanceBody struct {
	Balance   int64  `json:"balance"`
	Currency  string `json:"currency"`
	Timestamp int64  `json:"timestamp"`
}

// publishBalance emits a signed kind 1006 balance snapshot addressed to user.
func (p *P) publishBalance(ctx context.T, user string, balance int64) {
	body, err := json.Marshal(balanceBody{
		Balance:   balance,
		Currency:  "sats",
		Timestamp: nostr.Now().Time().UnixMilli(),
	})
	if chk.E(err) {
		return
	}
	out := nostr.Event{
		PubKey:    p.signer.Pub(),
		CreatedAt: nostr.Now(),
		Kind:      kind.Balance,
		Tags: nostr.Tags{
			{"p", user},
			{"balance", strconv.FormatInt(balance, 10)},
		},
		Content: string(body),
	}
	if err = p.signer.Sign(&out); chk.E(err) {
		return
	}
	if err = p.pub.Publish(ctx, out); err != nil {
		log.D.F("balance snapshot for %s not delivered: %v", short(user), err)
	}
}
