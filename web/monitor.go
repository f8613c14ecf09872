// Package web serves a live view of training progress: a stats
// endpoint with the run history and a websocket stream of per batch
// and per epoch loss updates.
package web

import (
	"encoding/json"
	"github.com/evcam/flownet/nnet"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"log"
	"net/http"
	"sync"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Update is one observed loss value, either for a single batch or for
// a whole epoch.
type Update struct {
	Kind  string  `json:"kind"` // "batch" or "epoch"
	Epoch int     `json:"epoch"`
	Batch int     `json:"batch,omitempty"`
	Loss  float64 `json:"loss"`
	Valid float64 `json:"valid,omitempty"`
}

// Monitor broadcasts training updates to websocket clients and keeps
// the epoch history for the stats endpoint.
type Monitor struct {
	srv     *http.Server
	mu      sync.Mutex
	conns   map[*websocket.Conn]bool
	history []Update
}

// NewMonitor creates a monitor listening on addr once started.
func NewMonitor(addr string) *Monitor {
	m := &Monitor{conns: make(map[*websocket.Conn]bool)}
	r := mux.NewRouter()
	r.HandleFunc("/stats", m.stats).Methods("GET")
	r.HandleFunc("/ws", m.websock)
	m.srv = &http.Server{Addr: addr, Handler: r}
	return m
}

// Start launches the HTTP server in the background.
func (m *Monitor) Start() {
	go func() {
		if err := m.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Println("monitor:", err)
		}
	}()
}

// Close shuts the server and drops all clients.
func (m *Monitor) Close() error {
	m.mu.Lock()
	for conn := range m.conns {
		conn.Close()
	}
	m.conns = map[*websocket.Conn]bool{}
	m.mu.Unlock()
	return m.srv.Close()
}

// Batch implements nnet.BatchFunc.
func (m *Monitor) Batch(epoch, batch int, loss float64) {
	m.broadcast(Update{Kind: "batch", Epoch: epoch, Batch: batch, Loss: loss})
}

// Epoch records the epoch stats and notifies clients.
func (m *Monitor) Epoch(s nnet.Stats) {
	u := Update{Kind: "epoch", Epoch: s.Epoch, Loss: s.Loss}
	if s.HasValid {
		u.Valid = s.Valid
	}
	m.mu.Lock()
	m.history = append(m.history, u)
	m.mu.Unlock()
	m.broadcast(u)
}

func (m *Monitor) broadcast(u Update) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for conn := range m.conns {
		if err := conn.WriteJSON(u); err != nil {
			conn.Close()
			delete(m.conns, conn)
		}
	}
}

func (m *Monitor) stats(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(m.history); err != nil {
		log.Println("monitor:", err)
	}
}

func (m *Monitor) websock(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("monitor:", err)
		return
	}
	m.mu.Lock()
	m.conns[conn] = true
	m.mu.Unlock()
}
