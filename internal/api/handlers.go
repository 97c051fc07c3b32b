// Bibliograph - Reading Activity Ingestion and Reconciliation
// Copyright 2026 Bibliograph Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bibliograph/bibliograph

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/bibliograph/bibliograph/internal/config"
	"github.com/bibliograph/bibliograph/internal/database"
	"github.com/bibliograph/bibliograph/internal/dispatch"
	"github.com/bibliograph/bibliograph/internal/enrich"
	syncmgr "github.com/bibliograph/bibliograph/internal/sync"
)

// SyncTrigger is the slice of the poll manager the API needs.
type SyncTrigger interface {
	TriggerSync(ctx context.Context) (*syncmgr.Summary, error)
	LastSyncTime() time.Time
}

// Handler carries the dependencies shared by all HTTP handlers.
type Handler struct {
	cfg         *config.Config
	db          *database.DB
	router      *dispatch.Router
	reprocessor *dispatch.Reprocessor
	backfill    *enrich.Backfill
	syncManager SyncTrigger // nil when the Kobo poller is disabled
	startTime   time.Time
}

// NewHandler wires the handler set. syncManager may be nil when polling is
// disabled; the sync endpoints then report the feature as unavailable.
func NewHandler(cfg *config.Config, db *database.DB, router *dispatch.Router,
	reprocessor *dispatch.Reprocessor, backfill *enrich.Backfill, syncManager SyncTrigger) *Handler {
	return &Handler{
		cfg:         cfg,
		db:          db,
		router:      router,
		reprocessor: reprocessor,
		backfill:    backfill,
		syncManager: syncManager,
		startTime:   time.Now(),
	}
}

// Health reports liveness and storage readiness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	rw, ctx := NewResponseWriter(w, r), r.Context()

	status := "healthy"
	dbStatus := "up"
	if err := h.db.Ping(ctx); err != nil {
		status = "degraded"
		dbStatus = "down"
	}

	data := map[string]interface{}{
		"status":         status,
		"database":       dbStatus,
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
	}
	if h.syncManager != nil {
		if last := h.syncManager.LastSyncTime(); !last.IsZero() {
			data["last_kobo_sync"] = last
		}
	}

	if status != "healthy" {
		rw.Error(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "database unreachable")
		return
	}
	rw.Success(data)
}
