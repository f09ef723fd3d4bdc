package zap

import (
	"encoding/json"
	"strconv"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receipt(t *testing.T, providerSec string, tags nostr.Tags) *nostr.Event {
	t.Helper()
	ev := &nostr.Event{
		CreatedAt: nostr.Now(),
		Kind:      9735,
		Tags:      tags,
	}
	require.NoError(t, ev.Sign(providerSec))
	return ev
}

func request(t *testing.T, payerSec string, msats int64) string {
	t.Helper()
	req := nostr.Event{
		CreatedAt: nostr.Now(),
		Kind:      9734,
		Tags:      nostr.Tags{{"amount", strconv.FormatInt(msats, 10)}},
	}
	require.NoError(t, req.Sign(payerSec))
	data, err := json.Marshal(req)
	require.NoError(t, err)
	return string(data)
}

func TestParseUsesInnerRequest(t *testing.T) {
	providerSec := nostr.GeneratePrivateKey()
	payerSec := nostr.GeneratePrivateKey()
	payerPub, err := nostr.GetPublicKey(payerSec)
	require.NoError(t, err)

	ev := receipt(t, providerSec, nostr.Tags{
		{"description", request(t, payerSec, 21000)},
		{"bolt11", "lnbc210n1..."},
	})
	r, err := Parse(ev)
	require.NoError(t, err)
	assert.Equal(t, payerPub, r.Payer)
	assert.Equal(t, int64(21), r.Sats)
	assert.Equal(t, ev.ID, r.ReceiptID)
	assert.Equal(t, "lnbc210n1...", r.Bolt11)
	assert.NotEmpty(t, r.RequestID)
}

func TestParseFallsBackToReceiptAmount(t *testing.T) {
	providerSec := nostr.GeneratePrivateKey()
	payerSec := nostr.GeneratePrivateKey()

	// inner request without an amount tag
	req := nostr.Event{CreatedAt: nostr.Now(), Kind: 9734}
	require.NoError(t, req.Sign(payerSec))
	desc, err := json.Marshal(req)
	require.NoError(t, err)

	ev := receipt(t, providerSec, nostr.Tags{
		{"description", string(desc)},
		{"amount", "5000"},
	})
	r, err := Parse(ev)
	require.NoError(t, err)
	assert.Equal(t, int64(5), r.Sats)
}

func TestParseGarbageDescriptionFallsBackToAuthor(t *testing.T) {
	providerSec := nostr.GeneratePrivateKey()
	providerPub, err := nostr.GetPublicKey(providerSec)
	require.NoError(t, err)

	ev := receipt(t, providerSec, nostr.Tags{
		{"description", "not json"},
		{"amount", "12000"},
	})
	r, err := Parse(ev)
	require.NoError(t, err)
	assert.Equal(t, providerPub, r.Payer)
	assert.Equal(t, int64(12), r.Sats)
}

func TestParseErrors(t *testing.T) {
	providerSec := nostr.GeneratePrivateKey()

	_, err := Parse(receipt(t, providerSec, nostr.Tags{}))
	assert.ErrorIs(t, err, ErrNoDescription)

	_, err = Parse(receipt(t, providerSec, nostr.Tags{
		{"description", "not json"},
	}))
	assert.ErrorIs(t, err, ErrNoAmount)

	// sub-sat amounts floor to zero and are refused
	_, err = Parse(receipt(t, providerSec, nostr.Tags{
		{"description", "not json"},
		{"amount", "900"},
	}))
	assert.ErrorIs(t, err, ErrNoAmount)
}
