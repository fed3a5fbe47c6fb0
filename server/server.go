// Package server exposes the ticker HTTP API: health and snapshot reads,
// manual refresh, and the WebSocket endpoint for display clients.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/petal-labs/calticker/event"
	"github.com/petal-labs/calticker/hub"
)

// Snapshots supplies the current cached snapshot.
type Snapshots interface {
	Snapshot() event.Snapshot
}

// Refresher runs an on-demand refresh cycle and reports the resulting
// event count.
type Refresher interface {
	Trigger(ctx context.Context) (int, error)
}

// ServerConfig configures a Server instance.
type ServerConfig struct {
	Snapshots  Snapshots
	Refresher  Refresher
	Hub        *hub.Hub
	CORSOrigin string
	MaxBody    int64
	Logger     *slog.Logger
}

// Server is the calendar ticker HTTP API server.
type Server struct {
	snapshots  Snapshots
	refresher  Refresher
	hub        *hub.Hub
	corsOrigin string
	maxBody    int64
	logger     *slog.Logger
}

// NewServer creates a new Server with the given configuration.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	corsOrigin := cfg.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = 1 << 20 // 1 MB default
	}
	return &Server{
		snapshots:  cfg.Snapshots,
		refresher:  cfg.Refresher,
		hub:        cfg.Hub,
		corsOrigin: corsOrigin,
		maxBody:    maxBody,
		logger:     logger,
	}
}

// Handler returns an http.Handler with all routes and middleware wired.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = s.corsMiddleware(handler)
	handler = s.maxBodyMiddleware(handler)

	return handler
}

// RegisterRoutes mounts ticker API routes onto an existing mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("POST /refresh", s.handleRefresh)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
}

type healthResponse struct {
	Status           string     `json:"status"`
	EventsCount      int        `json:"events_count"`
	LastRefresh      *time.Time `json:"last_refresh"`
	ConnectedClients int        `json:"connected_clients"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.snapshots.Snapshot()
	resp := healthResponse{
		Status:           "ok",
		EventsCount:      len(snapshot.Events),
		ConnectedClients: s.hub.Len(),
	}
	if !snapshot.RefreshedAt.IsZero() {
		t := snapshot.RefreshedAt
		resp.LastRefresh = &t
	}
	writeJSON(w, http.StatusOK, resp)
}

type eventsResponse struct {
	Events      []event.DisplayEvent `json:"events"`
	RefreshedAt *time.Time           `json:"refreshed_at"`
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.snapshots.Snapshot()
	resp := eventsResponse{Events: snapshot.Events}
	if !snapshot.RefreshedAt.IsZero() {
		t := snapshot.RefreshedAt
		resp.RefreshedAt = &t
	}
	writeJSON(w, http.StatusOK, resp)
}

type refreshResponse struct {
	Status      string `json:"status"`
	EventsCount int    `json:"events_count"`
}

// refreshErrorResponse is the failure arm of the refresh contract. The cycle
// left the cache untouched, so events_count reports what clients still see.
type refreshErrorResponse struct {
	Error       apiErrorBody `json:"error"`
	EventsCount int          `json:"events_count"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	count, err := s.refresher.Trigger(r.Context())
	if err != nil {
		s.logger.Error("manual refresh failed", "error", err)
		writeJSON(w, http.StatusBadGateway, refreshErrorResponse{
			Error: apiErrorBody{
				Code:    "SOURCE_UNAVAILABLE",
				Message: "calendar source unavailable",
				Details: []string{err.Error()},
			},
			EventsCount: count,
		})
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{Status: "refreshed", EventsCount: count})
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) maxBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		next.ServeHTTP(w, r)
	})
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// apiErrorBody is the standard error envelope payload.
type apiErrorBody struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}
