// Package main is a nostr-to-AI gateway metered in sats: direct messages and
// public mentions are answered by a generative AI backend, paid for from
// per-user balances topped up by zap receipts. Configuration is via
// environment variables or an optional .env file.
package main

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/pkg/profile"

	"zapai.dev/pkg/app"
	"zapai.dev/pkg/app/config"
	"zapai.dev/pkg/utils/chk"
	"zapai.dev/pkg/utils/context"
	"zapai.dev/pkg/utils/interrupt"
	"zapai.dev/pkg/utils/log"
	"zapai.dev/pkg/utils/lol"
	"zapai.dev/pkg/version"
)

func main() {
	var err error
	var cfg *config.C
	if cfg, err = config.New(); chk.T(err) {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n\n", err)
		config.PrintHelp(cfg, os.Stderr)
		os.Exit(1)
	}
	if config.GetEnv() {
		config.PrintEnv(cfg, os.Stdout)
		os.Exit(0)
	}
	if config.HelpRequested() {
		config.PrintHelp(cfg, os.Stderr)
		os.Exit(0)
	}
	if err = cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n\n", err)
		config.PrintHelp(cfg, os.Stderr)
		os.Exit(1)
	}
	lol.SetLogLevel(cfg.LogLevel)
	log.I.F("starting %s %s", cfg.AppName, version.V)
	if cfg.Pprof {
		defer profile.Start(profile.MemProfile).Stop()
		go func() {
			chk.E(http.ListenAndServe("127.0.0.1:6060", nil))
		}()
	}
	c, cancel := context.Cancel(context.Bg())
	var gateway *app.Gateway
	if gateway, err = app.New(c, cancel, cfg); chk.E(err) {
		os.Exit(1)
	}
	interrupt.AddHandler(func() { gateway.Shutdown() })
	if err = gateway.Start(); chk.E(err) {
		log.F.F("gateway terminated: %v", err)
		os.Exit(1)
	}
	<-c.Done()
	gateway.Shutdown()
}
