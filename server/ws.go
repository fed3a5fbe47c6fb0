package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/petal-labs/calticker/hub"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Display clients run on TVs and kiosks across origins; CORS policy
	// is enforced by the HTTP middleware, not the upgrade handshake.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsConn adapts a gorilla websocket connection to hub.Conn. Gorilla permits
// only one concurrent writer, and broadcasts race with pong replies, so
// every write goes through the mutex.
type wsConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *wsConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

// clientMessage is the inbound client protocol: refresh requests and pings.
type clientMessage struct {
	Type string `json:"type"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	conn := &wsConn{ws: ws}
	token := s.hub.Register(conn)
	defer s.hub.Unregister(token)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Malformed input never tears down the connection.
			s.logger.Warn("ignoring malformed client message", "token", token)
			continue
		}

		switch msg.Type {
		case "refresh":
			// Fire and forget: the result reaches the client through the
			// broadcast, not a direct reply.
			go func() {
				if _, err := s.refresher.Trigger(context.Background()); err != nil {
					s.logger.Error("client-requested refresh failed", "token", token, "error", err)
				}
			}()
		case "ping":
			if err := conn.Send(hub.PongMessage()); err != nil {
				return
			}
		default:
			// Unknown types are ignored for forward compatibility.
		}
	}
}
