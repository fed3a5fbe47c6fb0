package hub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/petal-labs/calticker/event"
	tickerotel "github.com/petal-labs/calticker/otel"
)

// Conn is one registered client connection. Send must be safe for
// concurrent use; the hub broadcasts to all connections in parallel.
type Conn interface {
	Send(data []byte) error
	Close() error
}

// SnapshotSource supplies the current snapshot for newly registered clients.
type SnapshotSource interface {
	Snapshot() event.Snapshot
}

// HubConfig configures a client hub.
type HubConfig struct {
	// Snapshots supplies the welcome snapshot sent on registration.
	Snapshots SnapshotSource

	// ClientConfig is attached to every events message.
	ClientConfig ClientConfig

	Logger  *slog.Logger
	Metrics *tickerotel.Metrics
}

// Hub tracks connected display clients and pushes snapshots to them. A send
// failure unregisters only the failing client; one slow or dead connection
// never blocks delivery to the others.
type Hub struct {
	snapshots SnapshotSource
	clientCfg ClientConfig
	logger    *slog.Logger
	metrics   *tickerotel.Metrics

	mu    sync.Mutex
	conns map[string]Conn
}

// NewHub creates a client hub.
func NewHub(cfg HubConfig) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		snapshots: cfg.Snapshots,
		clientCfg: cfg.ClientConfig,
		logger:    logger,
		metrics:   cfg.Metrics,
		conns:     make(map[string]Conn),
	}
}

// Register adds a connection and immediately sends it the current snapshot,
// so a client connecting between refreshes still renders without waiting for
// the next cycle. It returns the token to pass to Unregister.
func (h *Hub) Register(conn Conn) string {
	token := uuid.NewString()

	h.mu.Lock()
	h.conns[token] = conn
	total := len(h.conns)
	h.mu.Unlock()

	h.metrics.ClientConnected(context.Background(), 1)
	h.logger.Info("client connected", "token", token, "total_clients", total)

	snapshot := event.EmptySnapshot()
	if h.snapshots != nil {
		snapshot = h.snapshots.Snapshot()
	}
	if err := h.send(token, conn, snapshot); err != nil {
		h.Unregister(token)
	}
	return token
}

// Unregister removes a connection and closes it. Unknown tokens are ignored,
// so the read loop and a failed broadcast can both unregister safely.
func (h *Hub) Unregister(token string) {
	h.mu.Lock()
	conn, ok := h.conns[token]
	if ok {
		delete(h.conns, token)
	}
	total := len(h.conns)
	h.mu.Unlock()

	if !ok {
		return
	}
	_ = conn.Close()
	h.metrics.ClientConnected(context.Background(), -1)
	h.logger.Info("client disconnected", "token", token, "total_clients", total)
}

// Broadcast pushes a snapshot to every registered client concurrently.
func (h *Hub) Broadcast(snapshot event.Snapshot) {
	h.mu.Lock()
	targets := make(map[string]Conn, len(h.conns))
	for token, conn := range h.conns {
		targets[token] = conn
	}
	h.mu.Unlock()

	if len(targets) == 0 {
		return
	}

	// Encode once, send to everyone.
	data, err := encodeEvents(snapshot, h.clientCfg)
	if err != nil {
		h.logger.Error("encoding events message", "error", err)
		return
	}

	var wg sync.WaitGroup
	for token, conn := range targets {
		wg.Add(1)
		go func(token string, conn Conn) {
			defer wg.Done()
			if err := h.sendRaw(token, conn, data); err != nil {
				h.Unregister(token)
			}
		}(token, conn)
	}
	wg.Wait()
}

// Len reports the number of registered clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) send(token string, conn Conn, snapshot event.Snapshot) error {
	data, err := encodeEvents(snapshot, h.clientCfg)
	if err != nil {
		h.logger.Error("encoding events message", "error", err)
		return err
	}
	return h.sendRaw(token, conn, data)
}

func (h *Hub) sendRaw(token string, conn Conn, data []byte) error {
	err := conn.Send(data)
	h.metrics.BroadcastSend(context.Background(), err)
	if err != nil {
		h.logger.Warn("client send failed", "token", token, "error", err)
	}
	return err
}
