// Bibliograph - Reading Activity Ingestion and Reconciliation
// Copyright 2026 Bibliograph Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bibliograph/bibliograph

// Package main is the entry point for the Bibliograph server.
//
// Bibliograph is a self-hosted reading-activity tracker: it ingests events
// from Hardcover and KOReader webhooks and a Kobo activity feed, records
// every payload in an append-only ledger, and reconciles them into
// per-book facts (reviews, read progress, edition metadata).
//
// The server initializes components in the following order:
//
//  1. Configuration: layered defaults, YAML file, and env vars (koanf v2)
//  2. Database: DuckDB ledger and fact tables
//  3. Dispatch: provider decoders and event handlers
//  4. Kobo sync manager (if enabled): cursor-driven feed polling
//  5. Enrichment backfill (if enabled): OpenLibrary edition metadata
//  6. HTTP server: webhook, admin, and read endpoints
//
// All long-running pieces run under a suture supervisor tree and shut down
// gracefully on SIGINT/SIGTERM.
//
// Example usage:
//
//	export BIBLIOGRAPH_DATABASE__PATH=/data/bibliograph.duckdb
//	export BIBLIOGRAPH_HARDCOVER__SECRET=$(openssl rand -hex 32)
//	export BIBLIOGRAPH_KOBO__ENABLED=true
//	export BIBLIOGRAPH_KOBO__BASE_URL=http://kobo-bridge:8080
//	export BIBLIOGRAPH_KOBO__API_KEY=your-api-key
//	./bibliograph
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/bibliograph/bibliograph/internal/api"
	"github.com/bibliograph/bibliograph/internal/config"
	"github.com/bibliograph/bibliograph/internal/database"
	"github.com/bibliograph/bibliograph/internal/dispatch"
	"github.com/bibliograph/bibliograph/internal/enrich"
	"github.com/bibliograph/bibliograph/internal/logging"
	"github.com/bibliograph/bibliograph/internal/supervisor"
	"github.com/bibliograph/bibliograph/internal/supervisor/services"
	syncmgr "github.com/bibliograph/bibliograph/internal/sync"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Bool("hardcover", cfg.Hardcover.Enabled).
		Bool("koreader", cfg.KOReader.Enabled).
		Bool("kobo", cfg.Kobo.Enabled).
		Bool("enrichment", cfg.Enrichment.Enabled).
		Msg("Configuration loaded")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()
	logging.Info().Msg("Database initialized")

	router := dispatch.NewRouter(db)
	reprocessor := dispatch.NewReprocessor(db, router)

	var backfill *enrich.Backfill
	if cfg.Enrichment.Enabled {
		backfill = enrich.NewBackfill(&cfg.Enrichment, db, nil)
	}

	var manager *syncmgr.Manager
	if cfg.Kobo.Enabled {
		manager = syncmgr.NewManager(&cfg.Kobo, db, router, nil)
	}

	// A nil *Manager must stay a nil interface for the disabled checks.
	var syncTrigger api.SyncTrigger
	if manager != nil {
		syncTrigger = manager
	}
	handler := api.NewHandler(cfg, db, router, reprocessor, backfill, syncTrigger)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           api.NewRouter(cfg, handler),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       2 * cfg.Server.Timeout,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if manager != nil {
		tree.AddIngestService(manager)
		logging.Info().Msg("Kobo sync service added")
	}
	if backfill != nil {
		tree.AddIngestService(services.NewBackfillService(backfill, cfg.Enrichment.Interval))
		logging.Info().Msg("Enrichment scheduler added")
	}
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Msg("Starting supervisor tree")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree error")
	}
	logging.Info().Msg("Application stopped gracefully")
}
