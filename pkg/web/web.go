// Package web is the read-only dashboard: a JSON API over the conversation
// store and runtime counters, plus a websocket feed pushing stats snapshots.
// It never writes to the store and never touches balances.
package web

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"zapai.dev/pkg/database"
	"zapai.dev/pkg/utils/chk"
	"zapai.dev/pkg/utils/context"
	"zapai.dev/pkg/utils/log"
	"zapai.dev/pkg/version"
)

// Store is the slice of the conversation store the dashboard reads.
type Store interface {
	RecentAll(limit int) ([]*database.MessageRecord, error)
	SummaryAll() ([]*database.UserSummary, error)
	HistoryByUser(user string, limit int) ([]*database.MessageRecord, error)
	HistoryBySession(user, session string, limit int) ([]*database.MessageRecord, error)
	Balance(user string) (int64, error)
}

// Statser supplies the aggregated runtime counters.
type Statser interface {
	Stats() Stats
}

// Server owns the HTTP listener and the live feed hub.
type Server struct {
	port       int
	router     *chi.Mux
	hub        *hub
	stats      Statser
	httpServer *http.Server
}

// New builds the dashboard server on port.
func New(store Store, stats Statser, port int) *Server {
	router := chi.NewRouter()
	s := &Server{
		port:   port,
		router: router,
		hub:    newHub(),
		stats:  stats,
	}
	api := humachi.New(router, huma.DefaultConfig("ZapAI Gateway", version.V))
	huma.AutoRegister(api, &Operations{store: store, stats: stats})
	router.Get("/api/live", s.hub.handle)
	return s
}

// Start listens and serves until ctx is done. The stats feed pushes a
// snapshot to every websocket client each interval.
func (s *Server) Start(ctx context.T, interval time.Duration) (err error) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	addr := net.JoinHostPort("", strconv.Itoa(s.port))
	var ln net.Listener
	if ln, err = net.Listen("tcp", addr); chk.E(err) {
		return
	}
	s.httpServer = &http.Server{
		Handler:           cors.Default().Handler(s.router),
		Addr:              addr,
		ReadHeaderTimeout: 7 * time.Second,
		IdleTimeout:       28 * time.Second,
	}
	log.I.F("dashboard listening at http://localhost:%d", s.port)
	go s.feed(ctx, interval)
	go func() {
		if serr := s.httpServer.Serve(ln); !errors.Is(serr, http.ErrServerClosed) {
			chk.E(serr)
		}
	}()
	return nil
}

func (s *Server) feed(ctx context.T, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if s.hub.size() == 0 {
				continue
			}
			s.hub.broadcast(ctx, s.stats.Stats())
		}
	}
}

// Shutdown stops the listener and drops every live feed client.
func (s *Server) Shutdown(ctx context.T) {
	s.hub.closeAll()
	if s.httpServer != nil {
		chk.E(s.httpServer.Shutdown(ctx))
	}
}
