package web

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"zapai.dev/pkg/utils/chk"
	"zapai.dev/pkg/utils/context"
	"zapai.dev/pkg/utils/log"
)

// hub tracks live feed websocket clients. Clients only receive; anything
// they send is read and discarded to service control frames.
type hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]struct{})}
}

func (h *hub) handle(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if chk.D(err) {
		return
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	log.D.F("live feed client joined (%d connected)", n)
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		c.Close(websocket.StatusNormalClosure, "")
	}()
	for {
		if _, _, err = c.Read(r.Context()); err != nil {
			return
		}
	}
}

func (h *hub) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// broadcast sends v as JSON to every client, dropping clients whose write
// fails.
func (h *hub) broadcast(ctx context.T, v interface{}) {
	data, err := json.Marshal(v)
	if chk.E(err) {
		return
	}
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		wctx, cancel := context.Timeout(ctx, 5*time.Second)
		err = c.Write(wctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			h.mu.Lock()
			delete(h.clients, c)
			h.mu.Unlock()
			c.Close(websocket.StatusGoingAway, "write failed")
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.Close(websocket.StatusGoingAway, "shutting down")
	}
	h.clients = make(map[*websocket.Conn]struct{})
}
