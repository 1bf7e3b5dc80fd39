package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/driver-console/internal/logging"
	"github.com/example/driver-console/internal/tracker"
)

func dialHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.Add(conn)
	}))
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitLen(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Len() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d sessions, have %d", n, h.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunForwardsEvents(t *testing.T) {
	h := NewHub(logging.Discard())
	conn := dialHub(t, h)
	waitLen(t, h, 1)

	events := make(chan tracker.Event, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx, events)

	events <- tracker.Event{ID: "e1", Type: tracker.EventRequestSurfaced, RequestID: "R1"}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got tracker.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != tracker.EventRequestSurfaced || got.RequestID != "R1" {
		t.Fatalf("unexpected event %+v", got)
	}
}

func TestClosedPeerIsRemoved(t *testing.T) {
	h := NewHub(logging.Discard())
	conn := dialHub(t, h)
	waitLen(t, h, 1)
	conn.Close()
	waitLen(t, h, 0)
	if err := h.Send("missing", "x"); err != ErrNoSession {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestSessionOutlivesServerReadTimeout(t *testing.T) {
	h := NewHub(logging.Discard())
	up := websocket.Upgrader{}
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.Add(conn)
	}))
	srv.Config.ReadTimeout = 50 * time.Millisecond
	srv.Start()
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitLen(t, h, 1)

	time.Sleep(200 * time.Millisecond)
	if h.Len() != 1 {
		t.Fatal("idle dashboard dropped by the server read deadline")
	}
	if n := h.Broadcast(map[string]string{"type": "ping"}); n != 1 {
		t.Fatalf("expected broadcast to reach 1 session, got %d", n)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got map[string]string
	if err := conn.ReadJSON(&got); err != nil || got["type"] != "ping" {
		t.Fatalf("read: %v %v", got, err)
	}
}
