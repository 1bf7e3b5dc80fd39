package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/example/driver-console/internal/observability"
	"github.com/example/driver-console/internal/tracker"
)

const (
	writeWait = 5 * time.Second
	// pongWait bounds how long a silent dashboard is kept; pings go out
	// well inside it.
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var ErrNoSession = errors.New("dispatch: no ws session")

// Session is one connected dashboard.
type Session struct {
	ID   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *Session) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

// Hub fans tracker events out to every connected dashboard.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	log      *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{sessions: make(map[string]*Session), log: log}
}

// Add registers conn and starts a reader that drops the session when the
// peer goes away. Dashboards never send anything we act on.
func (h *Hub) Add(conn *websocket.Conn) *Session {
	s := &Session{ID: uuid.NewString(), conn: conn}
	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()
	observability.WSSessions.Inc()
	h.log.Info("dashboard connected", "session_id", s.ID, "sessions", h.Len())

	// the http server's read deadline survives the hijack; replace it
	// with a pong driven one
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.Remove(s.ID)
				return
			}
		}
	}()
	go func() {
		t := time.NewTicker(pingPeriod)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					h.Remove(s.ID)
					return
				}
			}
		}
	}()
	return s
}

func (h *Hub) Remove(id string) {
	h.mu.Lock()
	s, ok := h.sessions[id]
	delete(h.sessions, id)
	h.mu.Unlock()
	if !ok {
		return
	}
	observability.WSSessions.Dec()
	_ = s.conn.Close()
	h.log.Info("dashboard disconnected", "session_id", id)
}

func (h *Hub) Send(id string, v any) error {
	h.mu.RLock()
	s, ok := h.sessions[id]
	h.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(v); err != nil {
		h.log.Warn("ws send error", "session_id", id, "error", err)
		h.Remove(id)
		return err
	}
	return nil
}

// Broadcast writes v to every session and returns how many received it.
func (h *Hub) Broadcast(v any) int {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	sent := 0
	for _, s := range targets {
		if err := s.Send(v); err != nil {
			h.log.Warn("ws send error", "session_id", s.ID, "error", err)
			h.Remove(s.ID)
			continue
		}
		sent++
	}
	return sent
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Run forwards events until the channel closes or ctx is done, then
// disconnects every session.
func (h *Hub) Run(ctx context.Context, events <-chan tracker.Event) {
	defer h.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.Broadcast(ev)
		}
	}
}

func (h *Hub) Close() {
	h.mu.RLock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	for _, id := range ids {
		h.Remove(id)
	}
}
