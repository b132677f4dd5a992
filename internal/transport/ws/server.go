// Package ws streams fleet telemetry to websocket subscribers: one
// environment frame on connect, then a summary frame after every tick.
package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"warefleet.io/internal/sim/fleet"
	"warefleet.io/internal/sim/grid"
)

const (
	writeWait = 5 * time.Second
	readWait  = 60 * time.Second

	// clientQueue bounds the per-client backlog; slow consumers drop
	// frames rather than stalling the broadcaster.
	clientQueue = 16
)

type frame struct {
	Type    string             `json:"type"`
	Tick    uint64             `json:"tick,omitempty"`
	Layout  *grid.Layout       `json:"layout,omitempty"`
	Summary *fleet.SummaryView `json:"summary,omitempty"`
}

type client struct {
	out chan []byte
}

type Server struct {
	fleet *fleet.Manager
	log   *log.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewServer(m *fleet.Manager, logger *log.Logger) *Server {
	return &Server{
		fleet: m,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		clients: map[*client]struct{}{},
	}
}

// Broadcast fans a tick summary out to every connected client. Wire this
// to the manager's tick observer.
func (s *Server) Broadcast(summary fleet.SummaryView) {
	b, err := json.Marshal(frame{Type: "tick", Tick: summary.Tick, Summary: &summary})
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.out <- b:
		default:
			// Client buffer full: drop this frame for that client.
		}
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		c := &client{out: make(chan []byte, clientQueue)}
		s.mu.Lock()
		s.clients[c] = struct{}{}
		n := len(s.clients)
		s.mu.Unlock()
		s.log.Printf("telemetry client connected (%d total)", n)

		defer func() {
			s.mu.Lock()
			delete(s.clients, c)
			n := len(s.clients)
			s.mu.Unlock()
			s.log.Printf("telemetry client disconnected (%d total)", n)
		}()

		// Initial environment frame so clients can render immediately.
		layout := s.fleet.Environment()
		if err := writeJSON(conn, frame{Type: "environment", Layout: &layout}); err != nil {
			return
		}

		done := make(chan struct{})

		// Writer goroutine; the reader loop below owns the connection
		// lifetime.
		go func() {
			for {
				select {
				case <-done:
					return
				case b := <-c.out:
					_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						return
					}
				}
			}
		}()

		// Reader loop: subscribers send nothing meaningful, but reading
		// services control frames and detects disconnects.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readWait))
			if _, _, err := conn.ReadMessage(); err != nil {
				close(done)
				return
			}
		}
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}
