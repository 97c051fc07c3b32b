// Bibliograph - Reading Activity Ingestion and Reconciliation
// Copyright 2026 Bibliograph Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bibliograph/bibliograph

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bibliograph/bibliograph/internal/config"
)

// NewRouter assembles the full HTTP surface.
func NewRouter(cfg *config.Config, handler *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(CORS(&cfg.Security))

	// Operational endpoints stay outside the rate limiter so scrapers and
	// probes never contend with API clients.
	r.Get("/healthz", handler.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RateLimit(&cfg.Security))
		r.Use(PrometheusMetrics())

		r.Post("/webhooks/{provider}", handler.Webhook)

		r.Get("/events", handler.ListEvents)
		r.Get("/events/stats", handler.EventStats)
		r.Get("/events/{id}", handler.GetEvent)
		r.Get("/books/{id}", handler.GetBook)
		r.Get("/cursors/{source}", handler.GetCursor)
		r.Get("/enrichment/backlog", handler.EnrichmentBacklog)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/reprocess", handler.Reprocess)
			r.Post("/reprocess/{id}", handler.ReprocessByID)
			r.Post("/sync", handler.TriggerSync)
			r.Post("/backfill", handler.TriggerBackfill)
			r.Post("/enrichment/{bookID}/force", handler.ForceEnrichment)
		})
	})

	return r
}
