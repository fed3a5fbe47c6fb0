package server

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/petal-labs/calticker/event"
	"github.com/petal-labs/calticker/hub"
)

func dialWS(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading message: %v", err)
	}
	var msg map[string]json.RawMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decoding message: %v", err)
	}
	return msg
}

func TestWebSocketWelcomeMessage(t *testing.T) {
	s, cache, _ := newTestServer(t)
	refreshed := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	cache.Replace(event.Snapshot{
		Events:      []event.DisplayEvent{{ID: "e1", Title: "Standup"}},
		RefreshedAt: refreshed,
	})

	conn := dialWS(t, s)
	msg := readMessage(t, conn)
	if string(msg["type"]) != `"events"` {
		t.Fatalf("type: got %s, want events", msg["type"])
	}

	var data []event.DisplayEvent
	if err := json.Unmarshal(msg["data"], &data); err != nil {
		t.Fatalf("decoding data: %v", err)
	}
	if len(data) != 1 || data[0].ID != "e1" {
		t.Errorf("data: got %+v", data)
	}

	var cfg hub.ClientConfig
	if err := json.Unmarshal(msg["config"], &cfg); err != nil {
		t.Fatalf("decoding config: %v", err)
	}
	if cfg.NoEventsMessage != "No upcoming events" {
		t.Errorf("config: got %+v", cfg)
	}
}

func TestWebSocketPingPong(t *testing.T) {
	s, _, _ := newTestServer(t)
	conn := dialWS(t, s)
	readMessage(t, conn) // welcome

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("writing ping: %v", err)
	}
	msg := readMessage(t, conn)
	if string(msg["type"]) != `"pong"` {
		t.Fatalf("type: got %s, want pong", msg["type"])
	}
}

func TestWebSocketRefreshRequest(t *testing.T) {
	s, _, refresher := newTestServer(t)
	conn := dialWS(t, s)
	readMessage(t, conn) // welcome

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"refresh"}`)); err != nil {
		t.Fatalf("writing refresh: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for refresher.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("refresh never triggered")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestWebSocketMalformedMessageIgnored(t *testing.T) {
	s, _, _ := newTestServer(t)
	conn := dialWS(t, s)
	readMessage(t, conn) // welcome

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("writing garbage: %v", err)
	}
	// The connection survives: a ping still gets its pong.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("writing ping: %v", err)
	}
	msg := readMessage(t, conn)
	if string(msg["type"]) != `"pong"` {
		t.Fatalf("type: got %s, want pong", msg["type"])
	}
}

func TestWebSocketUnknownTypeIgnored(t *testing.T) {
	s, _, _ := newTestServer(t)
	conn := dialWS(t, s)
	readMessage(t, conn) // welcome

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe"}`)); err != nil {
		t.Fatalf("writing message: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("writing ping: %v", err)
	}
	msg := readMessage(t, conn)
	if string(msg["type"]) != `"pong"` {
		t.Fatalf("type: got %s, want pong", msg["type"])
	}
}

func TestWebSocketReceivesBroadcast(t *testing.T) {
	s, _, _ := newTestServer(t)
	conn := dialWS(t, s)
	readMessage(t, conn) // welcome

	s.hub.Broadcast(event.Snapshot{
		Events:      []event.DisplayEvent{{ID: "e2", Title: "Lunch"}},
		RefreshedAt: time.Now(),
	})

	msg := readMessage(t, conn)
	if string(msg["type"]) != `"events"` {
		t.Fatalf("type: got %s, want events", msg["type"])
	}
	var data []event.DisplayEvent
	if err := json.Unmarshal(msg["data"], &data); err != nil {
		t.Fatalf("decoding data: %v", err)
	}
	if len(data) != 1 || data[0].ID != "e2" {
		t.Errorf("data: got %+v", data)
	}
}

func TestWebSocketDisconnectUnregisters(t *testing.T) {
	s, _, _ := newTestServer(t)
	conn := dialWS(t, s)
	readMessage(t, conn) // welcome

	if s.hub.Len() != 1 {
		t.Fatalf("clients: got %d, want 1", s.hub.Len())
	}
	conn.Close()

	deadline := time.After(2 * time.Second)
	for s.hub.Len() != 0 {
		select {
		case <-deadline:
			t.Fatal("client never unregistered after disconnect")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}
