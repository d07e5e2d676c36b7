package updates

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// subscribe connects a real websocket pair and registers the server side on
// the hub, returning the client end.
func subscribe(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	registered := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		hub.Register(conn)
		close(registered)
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	<-registered
	return client
}

func TestPublishReachesSubscribers(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	client := subscribe(t, hub)

	hub.Publish(Event{Type: EventSessionStarted, SessionID: 42})

	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got Event
	if err := client.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != EventSessionStarted || got.SessionID != 42 {
		t.Errorf("unexpected event: %+v", got)
	}
}

func TestPublishEvictsDeadSubscribers(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	client := subscribe(t, hub)

	if hub.Count() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.Count())
	}
	client.Close()

	// The first publish after the close may or may not fail depending on
	// buffering; keep publishing until the write error surfaces.
	deadline := time.Now().Add(5 * time.Second)
	for hub.Count() > 0 && time.Now().Before(deadline) {
		hub.Publish(Event{Type: EventSessionEnded, SessionID: 1})
		time.Sleep(10 * time.Millisecond)
	}
	if hub.Count() != 0 {
		t.Errorf("expected dead subscriber to be evicted, got %d", hub.Count())
	}
}

func TestClosedHubRejectsRegistration(t *testing.T) {
	hub := NewHub()
	client := subscribe(t, hub)
	_ = client

	hub.Close()
	if hub.Count() != 0 {
		t.Errorf("expected 0 subscribers after close, got %d", hub.Count())
	}

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if hub.Register(conn) {
			t.Error("expected registration on a closed hub to fail")
		}
		conn.Close()
	}))
	defer srv.Close()

	late, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	late.Close()
}
