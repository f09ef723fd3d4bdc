// Package interrupt registers handlers to run when the process receives an
// interrupt or termination signal. Handlers run once, in registration order,
// then the process exits.
package interrupt

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"zapai.dev/pkg/utils/log"
)

var (
	mu       sync.Mutex
	handlers []func()
	once     sync.Once
)

// AddHandler registers fn to run on SIGINT/SIGTERM. The first registration
// starts the signal listener.
func AddHandler(fn func()) {
	mu.Lock()
	handlers = append(handlers, fn)
	mu.Unlock()
	once.Do(listen)
}

func listen() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-ch
		log.I.F("received %v, shutting down", sig)
		mu.Lock()
		hs := append([]func(){}, handlers...)
		mu.Unlock()
		for _, h := range hs {
			h()
		}
		os.Exit(0)
	}()
}
