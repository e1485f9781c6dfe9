// Chronista - Media Server Log Ingestion and Normalization
// Copyright 2026 Chronista Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronista-io/chronista

// Package metrics provides Prometheus instrumentation for the ingestion
// pipeline: tailer pool occupancy, parse outcomes, rotation/truncation
// events, and sink write performance. Exposed at /metrics on the API router.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Tailer pool metrics
	TailersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chronista_tailers_active",
			Help: "Number of tailers currently in the active state",
		},
	)

	TailersQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chronista_tailers_queued",
			Help: "Number of discovered files waiting for a tailer slot",
		},
	)

	TailerRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronista_tailer_restarts_total",
			Help: "Tailer restarts against a new file identity after rotation",
		},
		[]string{"server_type"},
	)

	// Parse pipeline metrics
	EntriesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronista_entries_ingested_total",
			Help: "Complete entries accepted by the sink",
		},
		[]string{"server_type", "level"},
	)

	LinesDiscarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronista_lines_discarded_total",
			Help: "Unparseable non-continuation lines dropped by the assembler",
		},
		[]string{"server_type"},
	)

	ContinuationLines = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronista_continuation_lines_total",
			Help: "Lines folded into a prior entry's stack trace",
		},
		[]string{"server_type"},
	)

	// File lifecycle metrics
	RotationsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronista_rotations_detected_total",
			Help: "Rotation or truncation events detected via inode/size mismatch",
		},
		[]string{"server_type"},
	)

	ReadErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronista_read_errors_total",
			Help: "Transient read/stat failures during poll cycles",
		},
		[]string{"server_type"},
	)

	FileStatesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chronista_file_states_active",
			Help: "LogFileState records currently marked active",
		},
	)

	// Sink metrics
	SinkBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chronista_sink_batch_duration_seconds",
			Help:    "Duration of sink batch writes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SinkBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chronista_sink_batch_size",
			Help:    "Entries per sink batch write",
			Buckets: []float64{1, 5, 10, 50, 100, 250, 500, 1000},
		},
	)

	SinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronista_sink_errors_total",
			Help: "Failed sink writes (entry batches and state saves)",
		},
		[]string{"operation"},
	)

	DedupRejects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chronista_dedup_rejects_total",
			Help: "Entries the store skipped because their dedup key already existed",
		},
	)

	// Retention metrics
	RetentionDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chronista_retention_deleted_total",
			Help: "Stored entries removed by retention sweeps",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chronista_circuit_breaker_state",
			Help: "Sink circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// HTTP metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chronista_http_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chronista_http_requests_in_flight",
			Help: "API requests currently being served",
		},
	)
)
