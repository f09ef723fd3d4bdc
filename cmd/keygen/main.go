// Command keygen generates gateway identity keypairs and converts between
// hex and bech32 envelopes. The secret goes into ZAPAI_SECRET_KEY; the npub
// is what users zap and message.
package main

import (
	"fmt"
	"os"

	"github.com/alexflint/go-arg"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"

	"zapai.dev/pkg/crypto/signer"
	"zapai.dev/pkg/version"
)

type args struct {
	Count  int    `arg:"-n,--count" default:"1" help:"number of keypairs to generate"`
	Secret string `arg:"-s,--secret" help:"derive the public identity from an existing secret (hex or nsec) instead of generating"`
}

func (args) Version() string { return "keygen " + version.V }

func main() {
	var a args
	arg.MustParse(&a)
	if a.Secret != "" {
		s, err := signer.New(a.Secret)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("pubkey  %s\n", s.Pub())
		fmt.Printf("npub    %s\n", s.Npub())
		return
	}
	for i := 0; i < a.Count; i++ {
		sec := nostr.GeneratePrivateKey()
		pub, err := nostr.GetPublicKey(sec)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}
		nsec, _ := nip19.EncodePrivateKey(sec)
		npub, _ := nip19.EncodePublicKey(pub)
		fmt.Printf("secret  %s\n", sec)
		fmt.Printf("nsec    %s\n", nsec)
		fmt.Printf("pubkey  %s\n", pub)
		fmt.Printf("npub    %s\n\n", npub)
	}
}
