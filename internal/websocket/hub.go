// Chronista - Media Server Log Ingestion and Normalization
// Copyright 2026 Chronista Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronista-io/chronista

// Package websocket is the live-tail surface: it fans accepted log entries
// out to connected WebSocket clients. Delivery is best-effort; a client that
// cannot keep up is dropped rather than allowed to back-pressure ingestion.
package websocket

import (
	"context"
	"sort"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/chronista-io/chronista/internal/logging"
	"github.com/chronista-io/chronista/internal/models"
	"github.com/chronista-io/chronista/internal/stream"
)

// Message types sent over the wire.
const (
	MessageTypeLogEntry = "log_entry"
	MessageTypePing     = "ping"
	MessageTypePong     = "pong"
)

// Message is the envelope for all WebSocket traffic.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Hub maintains the set of active clients and broadcasts accepted entries to
// them. It implements suture.Service.
type Hub struct {
	bus *stream.Bus

	mu      sync.RWMutex
	clients map[*Client]bool
}

// NewHub creates a hub fed from the given entry bus.
func NewHub(bus *stream.Bus) *Hub {
	return &Hub{
		bus:     bus,
		clients: make(map[*Client]bool),
	}
}

// Register adds a client to the broadcast set. Safe to call whether or not
// Serve is running; a client registered while the hub is down starts
// receiving entries once Serve resumes.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()
	logging.Info().Int("total_clients", total).Msg("websocket client connected")
}

// Unregister removes a client and closes its send channel. Idempotent: a
// client already dropped by broadcast or shutdown is left alone.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	if ok {
		logging.Info().Int("total_clients", total).Msg("websocket client disconnected")
	}
}

// Serve subscribes to the accepted-entry topic and runs the broadcast loop
// until ctx is canceled, then closes every client.
func (h *Hub) Serve(ctx context.Context) error {
	msgs, err := h.bus.Subscribe(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return nil

		case msg, ok := <-msgs:
			if !ok {
				h.closeAllClients()
				return nil
			}
			var entry models.CreateLogEntryInput
			if err := json.Unmarshal(msg.Payload, &entry); err != nil {
				logging.Warn().Err(err).Msg("failed to decode streamed entry")
				msg.Ack()
				continue
			}
			h.broadcast(Message{Type: MessageTypeLogEntry, Data: &entry})
			msg.Ack()
		}
	}
}

// broadcast delivers a message to every client in stable ID order. Clients
// with a full send buffer are dropped on the spot.
func (h *Hub) broadcast(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			close(client.send)
			delete(h.clients, client)
			logging.Warn().Uint64("client", client.id).Msg("dropping slow websocket client")
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
