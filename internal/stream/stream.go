// Chronista - Media Server Log Ingestion and Normalization
// Copyright 2026 Chronista Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronista-io/chronista

// Package stream is the in-process event bus carrying accepted log entries
// to live consumers (the WebSocket hub). It is strictly best-effort fan-out:
// durability is the sink's job, and a slow or absent subscriber never blocks
// ingestion.
package stream

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/chronista-io/chronista/internal/logging"
	"github.com/chronista-io/chronista/internal/models"
)

// TopicEntryAccepted carries every entry the sink accepted, in ingestion
// order per tailer.
const TopicEntryAccepted = "logs.entry.accepted"

// Bus wraps a Watermill gochannel Pub/Sub.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// NewBus creates the in-process bus. The output buffer absorbs short
// subscriber stalls; beyond that, publishes block and the hub's own
// slow-client policy takes over.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 256,
		}, newLoggerAdapter()),
	}
}

// PublishEntries fans accepted entries out to live subscribers. Errors are
// logged and swallowed; the durable write already happened.
func (b *Bus) PublishEntries(entries []*models.CreateLogEntryInput) {
	for _, e := range entries {
		payload, err := json.Marshal(e)
		if err != nil {
			logging.Warn().Err(err).Msg("failed to encode entry for stream")
			continue
		}
		msg := message.NewMessage(watermill.NewUUID(), payload)
		if err := b.pubsub.Publish(TopicEntryAccepted, msg); err != nil {
			logging.Warn().Err(err).Msg("failed to publish entry to stream")
		}
	}
}

// Subscribe returns the accepted-entry message channel. The subscription
// ends when ctx is canceled.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, TopicEntryAccepted)
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// loggerAdapter bridges Watermill's logging onto zerolog.
type loggerAdapter struct {
	fields watermill.LogFields
}

func newLoggerAdapter() watermill.LoggerAdapter {
	return &loggerAdapter{}
}

func (l *loggerAdapter) event(ev *zerolog.Event, msg string, fields watermill.LogFields) {
	for k, v := range l.fields {
		ev.Interface(k, v)
	}
	for k, v := range fields {
		ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (l *loggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	l.event(logging.Error().Err(err), msg, fields)
}

func (l *loggerAdapter) Info(msg string, fields watermill.LogFields) {
	l.event(logging.Debug(), msg, fields) // watermill info is chatty; demote
}

func (l *loggerAdapter) Debug(msg string, fields watermill.LogFields) {
	l.event(logging.Debug(), msg, fields)
}

func (l *loggerAdapter) Trace(msg string, fields watermill.LogFields) {
	l.event(logging.Trace(), msg, fields)
}

func (l *loggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	merged := make(watermill.LogFields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &loggerAdapter{fields: merged}
}
