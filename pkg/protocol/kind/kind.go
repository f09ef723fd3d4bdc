// Package kind enumerates the nostr event kinds the gateway consumes and
// produces, and classifies inbound events with an explicit ignore arm.
package kind

// Event kinds on the wire.
const (
	// PublicNote is an unencrypted broadcast note (NIP-01 kind 1).
	PublicNote = 1
	// DirectMessage is a NIP-04 encrypted direct message (kind 4).
	DirectMessage = 4
	// Balance is used both for balance queries addressed to the gateway and
	// for the signed balance snapshots it publishes.
	Balance = 1006
	// ZapReceipt is a NIP-57 payment receipt (kind 9735).
	ZapReceipt = 9735
)

// Class is the routing decision for an inbound event.
type Class int

const (
	// Ignore is the arm for kinds the gateway does not handle.
	Ignore Class = iota
	// DM routes to decrypt-and-process.
	DM
	// Public routes to plaintext processing.
	Public
	// Receipt routes to the ledger's receipt handler.
	Receipt
	// BalanceQuery routes to the synchronous balance responder.
	BalanceQuery
)

// Classify maps an event kind to its routing class.
func Classify(k int) Class {
	switch k {
	case DirectMessage:
		return DM
	case PublicNote:
		return Public
	case ZapReceipt:
		return Receipt
	case Balance:
		return BalanceQuery
	default:
		return Ignore
	}
}

// Watched returns the kinds the relay subscription filters on.
func Watched() []int {
	return []int{PublicNote, DirectMessage, Balance, ZapReceipt}
}

func (c Class) String() string {
	switch c {
	case DM:
		return "dm"
	case Public:
		return "public"
	case Receipt:
		return "receipt"
	case BalanceQuery:
		return "balance"
	default:
		return "ignore"
	}
}
