// Chronista - Media Server Log Ingestion and Normalization
// Copyright 2026 Chronista Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronista-io/chronista

package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/chronista-io/chronista/internal/models"
	"github.com/chronista-io/chronista/internal/stream"
)

func startHub(t *testing.T) (*Hub, *stream.Bus) {
	t.Helper()
	bus := stream.NewBus()
	hub := NewHub(bus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = bus.Close()
	})
	// Give Serve a beat to subscribe before callers publish.
	time.Sleep(50 * time.Millisecond)
	return hub, bus
}

func registerTestClient(t *testing.T, hub *Hub) *Client {
	t.Helper()
	client := NewClient(hub, nil)
	hub.Register(client)
	return client
}

func acceptedEntry(message string) []*models.CreateLogEntryInput {
	return []*models.CreateLogEntryInput{{
		ParsedLogEntry: models.ParsedLogEntry{
			Level:   models.LevelInfo,
			Message: message,
			Raw:     message,
		},
		ServerID:   "srv1",
		ServerType: "jellyfin",
		LogSource:  models.LogSourceFile,
		FilePath:   "/config/log/log.log",
		LineNumber: 1,
		DedupKey:   models.ComputeDedupKey("srv1", "/config/log/log.log", 1, message),
	}}
}

func TestHubBroadcastsAcceptedEntries(t *testing.T) {
	hub, bus := startHub(t)
	client := registerTestClient(t, hub)

	bus.PublishEntries(acceptedEntry("playback started"))

	select {
	case msg := <-client.send:
		if msg.Type != MessageTypeLogEntry {
			t.Errorf("message type = %s, want %s", msg.Type, MessageTypeLogEntry)
		}
		entry, ok := msg.Data.(*models.CreateLogEntryInput)
		if !ok {
			t.Fatalf("message data has type %T", msg.Data)
		}
		if entry.Message != "playback started" {
			t.Errorf("entry message = %q", entry.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("client received nothing")
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	hub, bus := startHub(t)
	client := registerTestClient(t, hub)

	// Saturate the client's send buffer so the next broadcast cannot be
	// queued.
	for i := 0; i < sendBufferSize; i++ {
		client.send <- Message{Type: MessageTypePong}
	}

	bus.PublishEntries(acceptedEntry("overflow"))

	deadline := time.After(time.Second)
	for hub.ClientCount() != 0 {
		select {
		case <-deadline:
			t.Fatal("slow client was not dropped")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestHubUnregisterClosesSendChannel(t *testing.T) {
	hub, _ := startHub(t)
	client := registerTestClient(t, hub)

	hub.Unregister(client)

	select {
	case _, ok := <-client.send:
		if ok {
			t.Error("expected closed send channel")
		}
	case <-time.After(time.Second):
		t.Fatal("send channel not closed")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("client count = %d, want 0", hub.ClientCount())
	}
}

func TestHubShutdownClosesClients(t *testing.T) {
	bus := stream.NewBus()
	defer func() { _ = bus.Close() }()
	hub := NewHub(bus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Serve(ctx)
	}()

	client := registerTestClient(t, hub)
	cancel()
	<-done

	select {
	case _, ok := <-client.send:
		if ok {
			t.Error("expected closed send channel after shutdown")
		}
	default:
		t.Error("send channel not closed after shutdown")
	}

	// With Serve gone, a disconnecting client's pump must still be able to
	// unregister without blocking, and a fresh connection must be able to
	// register so it is picked up when the hub restarts.
	hub.Unregister(client) // already removed at shutdown; must be a no-op

	done = make(chan struct{})
	go func() {
		defer close(done)
		late := registerTestClient(t, hub)
		hub.Unregister(late)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("register/unregister blocked after hub shutdown")
	}
}
