// Chronista - Media Server Log Ingestion and Normalization
// Copyright 2026 Chronista Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronista-io/chronista

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chronista-io/chronista/internal/config"
	"github.com/chronista-io/chronista/internal/middleware"
)

// NewRouter assembles the HTTP routes around the handler.
func NewRouter(cfg *config.APIConfig, h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health and metrics stay unthrottled for scrapers and orchestrators.
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.RequestsPerMin, time.Minute))
		r.Use(middleware.PrometheusMetrics)
		r.Get("/status", h.Status)
		r.Get("/filestates", h.FileStates)
		r.Get("/entries/recent", h.RecentEntries)
		r.Get("/logs/stream", h.LogStream)
	})

	return r
}
