// Package signer holds the gateway's identity key and performs event signing
// and NIP-04 direct message encryption. Conversation keys are derived once
// per peer and cached.
package signer

import (
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/puzpuzpuz/xsync/v3"

	"zapai.dev/pkg/utils/chk"
)

// S wraps the secret key. All mutation-free; safe for concurrent use.
type S struct {
	sec  string
	pub  string
	keys *xsync.MapOf[string, []byte]
}

// New accepts a secret key as hex or a bech32 nsec envelope and derives the
// public identity.
func New(secret string) (s *S, err error) {
	sec := strings.TrimSpace(secret)
	if strings.HasPrefix(sec, "nsec1") {
		var prefix string
		var value any
		if prefix, value, err = nip19.Decode(sec); chk.E(err) {
			return
		}
		if prefix != "nsec" {
			err = fmt.Errorf("expected nsec envelope, got %s", prefix)
			return
		}
		sec = value.(string)
	}
	var pub string
	if pub, err = nostr.GetPublicKey(sec); chk.E(err) {
		err = fmt.Errorf("invalid secret key: %w", err)
		return
	}
	s = &S{
		sec:  sec,
		pub:  pub,
		keys: xsync.NewMapOf[string, []byte](),
	}
	return
}

// Pub returns the hex public identity of the gateway.
func (s *S) Pub() string { return s.pub }

// Npub returns the bech32 form of the public identity.
func (s *S) Npub() (npub string) {
	npub, _ = nip19.EncodePublicKey(s.pub)
	return
}

// Sign computes the id and signature of ev in place.
func (s *S) Sign(ev *nostr.Event) (err error) {
	return ev.Sign(s.sec)
}

func (s *S) shared(peer string) (key []byte, err error) {
	if k, ok := s.keys.Load(peer); ok {
		return k, nil
	}
	if key, err = nip04.ComputeSharedSecret(peer, s.sec); chk.E(err) {
		return
	}
	s.keys.Store(peer, key)
	return
}

// Encrypt produces NIP-04 ciphertext for peer.
func (s *S) Encrypt(peer, plaintext string) (ciphertext string, err error) {
	var key []byte
	if key, err = s.shared(peer); err != nil {
		return
	}
	return nip04.Encrypt(plaintext, key)
}

// Decrypt recovers the plaintext of a NIP-04 message from peer.
func (s *S) Decrypt(peer, ciphertext string) (plaintext string, err error) {
	var key []byte
	if key, err = s.shared(peer); err != nil {
		return
	}
	return nip04.Decrypt(ciphertext, key)
}
