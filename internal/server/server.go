// Package server exposes the daemon's loopback HTTP surface: a status
// endpoint for the UI shell to poll and a WebSocket endpoint for push
// notifications. It never leaves localhost; the remote backend is reached
// only through the sync engine.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dukerupert/satchel/internal/connectivity"
	"github.com/dukerupert/satchel/internal/grocery"
	"github.com/dukerupert/satchel/internal/store"
	ws "github.com/dukerupert/satchel/internal/websocket"
)

type Server struct {
	svc    *grocery.Service
	outbox *store.OutboxStore
	meta   *store.MetaStore
	gate   *connectivity.Gate
	hub    *ws.Hub
	logger *slog.Logger
}

func New(svc *grocery.Service, outbox *store.OutboxStore, meta *store.MetaStore, gate *connectivity.Gate, hub *ws.Hub, logger *slog.Logger) *Server {
	return &Server{
		svc:    svc,
		outbox: outbox,
		meta:   meta,
		gate:   gate,
		hub:    hub,
		logger: logger,
	}
}

// Status is the JSON shape served by GET /status.
type Status struct {
	Online           bool   `json:"online"`
	Healthy          bool   `json:"healthy"`
	GateOpen         bool   `json:"gate_open"`
	OutboxPending    int    `json:"outbox_pending"`
	OutboxFailed     int    `json:"outbox_failed"`
	OutboxDone       int    `json:"outbox_done"`
	LastSyncError    string `json:"last_sync_error,omitempty"`
	GuestImportDone  bool   `json:"guest_import_done"`
	ConnectedClients int    `json:"connected_clients"`
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /status", s.statusHandler)
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.logger.With("component", "websocket")))

	gh := &groceryHandler{svc: s.svc}
	gh.register(mux)

	return mux
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	pending, failed, done, err := s.outbox.Counts()
	if err != nil {
		s.logger.Error("outbox counts", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	lastErr, err := s.meta.Get(store.MetaLastSyncError)
	if err != nil {
		s.logger.Error("read last sync error", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	imported, err := s.meta.Get(store.MetaGuestImportDone)
	if err != nil {
		s.logger.Error("read guest import flag", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	st := Status{
		Online:           s.gate.Online(),
		Healthy:          s.gate.Healthy(),
		GateOpen:         s.gate.Open(),
		OutboxPending:    pending,
		OutboxFailed:     failed,
		OutboxDone:       done,
		LastSyncError:    lastErr,
		GuestImportDone:  imported == "true",
		ConnectedClients: s.hub.ClientCount(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(st)
}
