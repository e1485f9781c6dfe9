// Chronista - Media Server Log Ingestion and Normalization
// Copyright 2026 Chronista Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronista-io/chronista

package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/chronista-io/chronista/internal/config"
	"github.com/chronista-io/chronista/internal/database"
	"github.com/chronista-io/chronista/internal/ingest"
	"github.com/chronista-io/chronista/internal/logging"
	"github.com/chronista-io/chronista/internal/metrics"
	"github.com/chronista-io/chronista/internal/models"
	"github.com/chronista-io/chronista/internal/sink"
	"github.com/chronista-io/chronista/internal/websocket"
)

// EntryReader is the query surface the handlers need from the entry store.
type EntryReader interface {
	RecentEntries(ctx context.Context, filter database.EntryFilter) ([]*models.LogEntry, error)
	CountEntries(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
}

// Handler holds the dependencies for all HTTP endpoints.
type Handler struct {
	cfg       *config.APIConfig
	entries   EntryReader
	states    sink.StateStore
	coord     *ingest.Coordinator
	hub       *websocket.Hub
	startedAt time.Time
}

// NewHandler wires the endpoint dependencies.
func NewHandler(cfg *config.APIConfig, entries EntryReader, states sink.StateStore, coord *ingest.Coordinator, hub *websocket.Hub) *Handler {
	return &Handler{
		cfg:       cfg,
		entries:   entries,
		states:    states,
		coord:     coord,
		hub:       hub,
		startedAt: time.Now().UTC(),
	}
}

// Healthz reports liveness: the process is up and serving.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, map[string]string{"status": "ok"})
}

// Readyz reports readiness: the entry store answers queries.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.entries.Ping(r.Context()); err != nil {
		WriteError(w, http.StatusServiceUnavailable, "database_unavailable", err.Error())
		return
	}
	WriteSuccess(w, map[string]string{"status": "ready"})
}

// statusResponse is the /api/v1/status payload.
type statusResponse struct {
	UptimeSeconds  int64         `json:"uptime_seconds"`
	TotalEntries   int64         `json:"total_entries"`
	WebSocketPeers int           `json:"websocket_peers"`
	Ingestion      ingest.Status `json:"ingestion"`
}

// Status reports the ingestion pool and store totals.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	total, err := h.entries.CountEntries(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "count_failed", err.Error())
		return
	}
	WriteSuccess(w, statusResponse{
		UptimeSeconds:  int64(time.Since(h.startedAt).Seconds()),
		TotalEntries:   total,
		WebSocketPeers: h.hub.ClientCount(),
		Ingestion:      h.coord.Status(),
	})
}

// FileStates lists resume state records, optionally filtered by server_id.
func (h *Handler) FileStates(w http.ResponseWriter, r *http.Request) {
	states, err := h.states.ListFileStates(r.Context(), r.URL.Query().Get("server_id"))
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	active := 0
	for _, s := range states {
		if s.IsActive {
			active++
		}
	}
	metrics.FileStatesActive.Set(float64(active))
	WriteSuccess(w, states)
}

// RecentEntries serves the newest stored entries with optional filters:
// server_id, level, since (RFC 3339), limit.
func (h *Handler) RecentEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := database.EntryFilter{
		ServerID: q.Get("server_id"),
		Level:    q.Get("level"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			WriteError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid_since", "since must be RFC 3339")
			return
		}
		filter.Since = since
	}
	if filter.Level != "" && !models.LogLevel(filter.Level).Valid() {
		WriteError(w, http.StatusBadRequest, "invalid_level", "unknown log level")
		return
	}

	entries, err := h.entries.RecentEntries(r.Context(), filter)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	if entries == nil {
		entries = []*models.LogEntry{}
	}
	WriteSuccess(w, entries)
}

// LogStream upgrades the connection and attaches it to the live-tail hub.
func (h *Handler) LogStream(w http.ResponseWriter, r *http.Request) {
	upgrader := gorillaws.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	client := websocket.NewClient(h.hub, conn)
	h.hub.Register(client)
	client.Start()
}

// checkOrigin validates browser origins against the configured CORS list.
// Requests without an Origin header (CLI clients) are allowed.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Warn().Str("origin", origin).Msg("websocket connection rejected from unauthorized origin")
	return false
}
