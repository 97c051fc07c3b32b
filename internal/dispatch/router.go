// Bibliograph - Reading Activity Ingestion and Reconciliation
// Copyright 2026 Bibliograph Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bibliograph/bibliograph

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bibliograph/bibliograph/internal/database"
	"github.com/bibliograph/bibliograph/internal/logging"
	"github.com/bibliograph/bibliograph/internal/metrics"
	"github.com/bibliograph/bibliograph/internal/models"
)

// ErrUnknownProvider is returned when a ledger entry names a provider with
// no registered decoder. Ingestion endpoints are per-provider, so this
// indicates a configuration problem rather than provider noise.
var ErrUnknownProvider = errors.New("no decoder registered for provider")

// RouteKey selects a handler by what the event describes and for which
// medium.
type RouteKey struct {
	Kind  models.EventKind
	Media models.MediaKind
}

// Router dispatches ledger entries to typed handlers.
//
// The routing table is an explicit registration map built at startup, not
// discovered at runtime: every supported (event kind, media kind) pair is
// listed in NewRouter, and an unknown pair routes to a skip outcome.
type Router struct {
	db       *database.DB
	decoders map[string]Decoder
	routes   map[RouteKey]Handler
}

// NewRouter builds the routing table over the given storage.
func NewRouter(db *database.DB) *Router {
	r := &Router{
		db:       db,
		decoders: defaultDecoders(),
		routes:   make(map[RouteKey]Handler),
	}

	reviewUpsert := handleReviewUpsert(db)
	reviewRetract := handleReviewRetract(db)
	readProgress := handleReadProgress(db)
	shelfAdd := handleShelfAdd(db)

	for _, media := range []models.MediaKind{models.MediaBook, models.MediaAudiobook} {
		r.Register(models.EventReviewUpsert, media, reviewUpsert)
		r.Register(models.EventReviewRetract, media, reviewRetract)
		r.Register(models.EventReadProgress, media, readProgress)
		// read.finish reuses the progress handler: the decoder already
		// pinned percent to 100 and set the finished timestamp.
		r.Register(models.EventReadFinish, media, readProgress)
		r.Register(models.EventShelfAdd, media, shelfAdd)
	}
	return r
}

// Register binds a handler to a (kind, media) pair. Later registrations
// replace earlier ones, which lets tests stub individual routes.
func (r *Router) Register(kind models.EventKind, media models.MediaKind, h Handler) {
	r.routes[RouteKey{Kind: kind, Media: media}] = h
}

// Dispatch routes one entry: decode, select, run. It does not touch the
// entry's status; Process does.
func (r *Router) Dispatch(ctx context.Context, entry *models.LedgerEntry) Outcome {
	decode, ok := r.decoders[entry.Provider]
	if !ok {
		return Failed(fmt.Errorf("%w: %s", ErrUnknownProvider, entry.Provider))
	}

	ev, err := decode(entry.RawPayload)
	if err != nil {
		return Failed(err)
	}

	handler, ok := r.routes[RouteKey{Kind: ev.Kind, Media: ev.MediaKind}]
	if !ok {
		return Skipped(fmt.Sprintf("unsupported event %q for media %q", ev.Kind, ev.MediaKind))
	}

	return handler.Handle(ctx, ev)
}

// Process dispatches an entry and persists the resulting status
// transition: applied entries become PROCESSED, everything else FAILED
// with the outcome recorded as the failure reason.
//
// The status write is a conditional update, so a concurrent Process of the
// same entry cannot produce conflicting transitions; and because handlers
// are idempotent, the facts are identical either way.
func (r *Router) Process(ctx context.Context, entry *models.LedgerEntry) Outcome {
	start := time.Now()
	outcome := r.Dispatch(ctx, entry)
	metrics.RecordDispatch(entry.Provider, string(outcome.Kind), time.Since(start))

	switch outcome.Kind {
	case OutcomeApplied:
		if _, err := r.db.MarkEventProcessed(ctx, entry.ID); err != nil {
			return Failed(fmt.Errorf("facts applied but status update failed: %w", err))
		}
	case OutcomeSkipped, OutcomeFailed:
		if _, err := r.db.MarkEventFailed(ctx, entry.ID, outcome.String()); err != nil {
			return Failed(fmt.Errorf("status update failed: %w", err))
		}
		if outcome.Kind == OutcomeFailed {
			logging.Warn().
				Int64("entry_id", entry.ID).
				Str("provider", entry.Provider).
				Err(outcome.Err).
				Msg("Dispatch failed")
		} else {
			logging.Debug().
				Int64("entry_id", entry.ID).
				Str("provider", entry.Provider).
				Str("reason", outcome.Reason).
				Msg("Dispatch skipped")
		}
	}
	return outcome
}
