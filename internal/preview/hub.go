// Package preview mirrors strip frames and diagnostics to websocket clients
// and to the terminal.
package preview

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/coreman2200/pixelwire/internal/diagnostics"
)

// DefaultThrottle limits frame pushes to about 20 per second per strip.
const DefaultThrottle = 50 * time.Millisecond

const keepDiags = 32

type stripInfo struct {
	Pixels      int    `json:"pixels"`
	ElementSize int    `json:"element_size"`
	Backend     string `json:"backend"`
	Frame       uint64 `json:"frame_id"`

	lastEmit time.Time
}

// Hub fans frames out on /ws and diagnostics on /diag. It implements
// diagnostics.Sink.
type Hub struct {
	Throttle time.Duration

	mu          sync.Mutex
	startTime   time.Time
	strips      map[string]*stripInfo
	diags       []diagnostics.Diagnostic
	clients     map[*websocket.Conn]bool
	diagClients map[*websocket.Conn]bool
	up          websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		Throttle:    DefaultThrottle,
		startTime:   time.Now(),
		strips:      map[string]*stripInfo{},
		clients:     map[*websocket.Conn]bool{},
		diagClients: map[*websocket.Conn]bool{},
		up:          websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

// AddStrip announces a strip to clients.
func (h *Hub) AddStrip(name, backend string, pixels, elementSize int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.strips[name] = &stripInfo{Pixels: pixels, ElementSize: elementSize, Backend: backend}
}

// Routes returns the hub's handlers.
func (h *Hub) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.HandleFramesWS)
	mux.HandleFunc("/diag", h.HandleDiagWS)
	mux.HandleFunc("/health", h.HandleHealth)
	return mux
}

func (h *Hub) HandleFramesWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.mu.Lock()
	h.clients[conn] = true
	h.sendTopology(conn)
	h.mu.Unlock()
	go h.drain(conn, h.clients)
}

// HandleDiagWS replays the recent diagnostics, then streams new ones.
func (h *Hub) HandleDiagWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.mu.Lock()
	h.diagClients[conn] = true
	for _, d := range h.diags {
		b, _ := json.Marshal(d)
		write(conn, b)
	}
	h.mu.Unlock()
	go h.drain(conn, h.diagClients)
}

// drain reads until the client goes away.
func (h *Hub) drain(conn *websocket.Conn, set map[*websocket.Conn]bool) {
	defer func() {
		h.mu.Lock()
		delete(set, conn)
		h.mu.Unlock()
		conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	resp := map[string]any{
		"uptime_s":    time.Since(h.startTime).Seconds(),
		"strips":      h.strips,
		"diagnostics": len(h.diags),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// Frame pushes a frame of strip to the /ws clients, dropping frames that
// arrive within Throttle of the last one pushed.
func (h *Hub) Frame(strip string, frame uint64, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.strips[strip]
	if !ok {
		s = &stripInfo{}
		h.strips[strip] = s
	}
	s.Frame = frame
	now := time.Now()
	if s.lastEmit.Add(h.Throttle).After(now) {
		return
	}
	s.lastEmit = now
	if len(h.clients) == 0 {
		return
	}
	b, _ := json.Marshal(struct {
		T       int64  `json:"t"`
		Strip   string `json:"strip"`
		FrameID uint64 `json:"frame_id"`
		Data    []byte `json:"data"`
	}{now.UnixNano(), strip, frame, data})
	for c := range h.clients {
		write(c, b)
	}
}

// Report keeps d for clients connecting later and pushes it to /diag.
func (h *Hub) Report(d diagnostics.Diagnostic) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.diags = append(h.diags, d)
	if len(h.diags) > keepDiags {
		h.diags = h.diags[len(h.diags)-keepDiags:]
	}
	b, _ := json.Marshal(d)
	for c := range h.diagClients {
		write(c, b)
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.Close()
	}
	for c := range h.diagClients {
		c.Close()
	}
}

// sendTopology must be called with mu held.
func (h *Hub) sendTopology(conn *websocket.Conn) {
	b, _ := json.Marshal(map[string]any{"strips": h.strips})
	write(conn, b)
}

func write(c *websocket.Conn, b []byte) {
	c.SetWriteDeadline(time.Now().Add(200 * time.Millisecond))
	if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
		log.Debug().Err(err).Msg("preview write")
	}
}
