// Bibliograph - Reading Activity Ingestion and Reconciliation
// Copyright 2026 Bibliograph Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bibliograph/bibliograph

// Package enrich fills in edition metadata for books the ingest pipeline
// only knows by title and author.
//
// Enrichment is a backfill, not a pipeline stage: ingest never blocks on a
// metadata source. Per-book state (NEVER/DONE/FAILED plus a force flag)
// lives in the database, so a drain visits only books whose metadata is
// missing, previously failed, or explicitly forced, and a restart resumes
// where the state says to.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/bibliograph/bibliograph/internal/config"
	"github.com/bibliograph/bibliograph/internal/database"
	"github.com/bibliograph/bibliograph/internal/logging"
	"github.com/bibliograph/bibliograph/internal/metrics"
	"github.com/bibliograph/bibliograph/internal/models"
)

// Summary reports one completed drain.
type Summary struct {
	Visited int   `json:"visited"`
	Done    int   `json:"done"`
	Failed  int   `json:"failed"`
	Backlog int64 `json:"backlog"`
}

// Backfill drains the enrichment backlog against one metadata source,
// rate-limited to be a polite API citizen.
type Backfill struct {
	cfg     *config.EnrichmentConfig
	db      *database.DB
	client  EditionAPI
	limiter *rate.Limiter
}

// NewBackfill wires a backfill. Pass nil client to use the OpenLibrary
// client built from cfg.
func NewBackfill(cfg *config.EnrichmentConfig, db *database.DB, client EditionAPI) *Backfill {
	if client == nil {
		client = NewOpenLibraryClient(cfg)
	}
	limit := rate.Limit(cfg.RatePerS)
	if cfg.RatePerS <= 0 {
		limit = rate.Inf
	}
	return &Backfill{
		cfg:     cfg,
		db:      db,
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Drain looks up edition metadata for eligible books in batches until the
// backlog is exhausted, every remaining eligible book has already been
// visited this drain, or MaxTotal lookups have run. Books that fail stay
// eligible for the next drain; they are not retried within the same one.
func (b *Backfill) Drain(ctx context.Context) (*Summary, error) {
	summary := &Summary{}
	visited := make(map[int64]struct{})

	for summary.Visited < b.cfg.MaxTotal {
		batch, err := b.db.ListEnrichmentEligible(ctx, b.cfg.Source, b.cfg.BatchSize)
		if err != nil {
			return summary, fmt.Errorf("enrichment drain: listing eligible: %w", err)
		}

		progressed := false
		for i := range batch {
			if summary.Visited >= b.cfg.MaxTotal {
				break
			}
			book := &batch[i]
			if _, seen := visited[book.ID]; seen {
				continue
			}
			visited[book.ID] = struct{}{}
			progressed = true

			if err := b.enrichOne(ctx, book, summary); err != nil {
				return summary, err
			}
		}

		// A batch of only already-visited books means everything still
		// eligible failed this drain; stop instead of spinning.
		if !progressed || len(batch) < b.cfg.BatchSize {
			break
		}
	}

	backlog, err := b.db.CountEnrichmentBacklog(ctx, b.cfg.Source)
	if err != nil {
		return summary, fmt.Errorf("enrichment drain: counting backlog: %w", err)
	}
	summary.Backlog = backlog
	metrics.BackfillBacklog.WithLabelValues(b.cfg.Source).Set(float64(backlog))

	logging.Info().
		Int("visited", summary.Visited).
		Int("done", summary.Done).
		Int("failed", summary.Failed).
		Int64("backlog", backlog).
		Str("source", b.cfg.Source).
		Msg("Enrichment drain finished")
	return summary, nil
}

// enrichOne looks up and stores metadata for a single book. Lookup
// failures are recorded in enrichment state and do not abort the drain;
// storage errors and cancellation do.
func (b *Backfill) enrichOne(ctx context.Context, book *models.Book, summary *Summary) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("enrichment drain canceled: %w", err)
	}
	summary.Visited++

	edition, err := b.client.LookupEdition(ctx, book)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("enrichment drain canceled: %w", ctx.Err())
		}
		if !errors.Is(err, ErrNoMatch) {
			logging.Warn().
				Err(err).
				Int64("book_id", book.ID).
				Str("title", book.Title).
				Msg("Edition lookup failed")
		}
		summary.Failed++
		metrics.BackfillProcessed.WithLabelValues(b.cfg.Source, "failed").Inc()
		if err := b.db.MarkEnrichmentFailed(ctx, book.ID, b.cfg.Source); err != nil {
			return fmt.Errorf("enrichment drain: marking book %d failed: %w", book.ID, err)
		}
		return nil
	}

	now := time.Now().UTC()
	edition.BookID = book.ID
	edition.UpdatedAt = &now
	if _, err := b.db.UpsertEdition(ctx, edition); err != nil {
		return fmt.Errorf("enrichment drain: storing edition for book %d: %w", book.ID, err)
	}
	if err := b.db.MarkEnrichmentDone(ctx, book.ID, b.cfg.Source); err != nil {
		return fmt.Errorf("enrichment drain: marking book %d done: %w", book.ID, err)
	}
	summary.Done++
	metrics.BackfillProcessed.WithLabelValues(b.cfg.Source, "done").Inc()
	return nil
}
