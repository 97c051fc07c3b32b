// Bibliograph - Reading Activity Ingestion and Reconciliation
// Copyright 2026 Bibliograph Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bibliograph/bibliograph

package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bibliograph/bibliograph/internal/database"
	"github.com/bibliograph/bibliograph/internal/logging"
	"github.com/bibliograph/bibliograph/internal/metrics"
	"github.com/bibliograph/bibliograph/internal/models"
)

// ReprocessFilter narrows which ledger entries a run visits. The zero
// value visits everything.
type ReprocessFilter struct {
	Statuses []models.EventStatus `json:"statuses,omitempty"`
	Provider string               `json:"provider,omitempty"`
}

// ReprocessSummary aggregates a run's results. LastID is the resume cursor:
// a follow-up run with ResumeAfterID = LastID continues where this one
// stopped.
type ReprocessSummary struct {
	RunID    string `json:"run_id"`
	Total    int    `json:"total"`
	Applied  int    `json:"applied"`
	Skipped  int    `json:"skipped"`
	Failed   int    `json:"failed"`
	Pages    int    `json:"pages"`
	PageSize int    `json:"page_size"`
	FromID   int64  `json:"from_id_exclusive"`
	LastID   int64  `json:"last_id"`
}

// Reprocessor replays ledger entries through the dispatch router.
//
// The walk is keyset-paginated and resumable: each page picks up after the
// previous page's last id, individual failures never abort the run, and
// because per-entry dispatch is idempotent, re-running from the same resume
// point after a crash is safe.
type Reprocessor struct {
	db     *database.DB
	router *Router
}

// NewReprocessor wires a reprocessor over the given storage and router.
func NewReprocessor(db *database.DB, router *Router) *Reprocessor {
	return &Reprocessor{db: db, router: router}
}

// Run walks matching ledger entries in ascending-id pages, dispatching each
// through the router. A storage error aborts the run (to be retried by the
// next invocation); handler failures are counted and walked past.
//
// Cancellation is honored between entries: already-transitioned entries
// stay transitioned, and the returned summary's LastID resumes the walk.
func (r *Reprocessor) Run(ctx context.Context, filter ReprocessFilter, pageSize int, resumeAfterID int64) (*ReprocessSummary, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("page size must be positive, got %d", pageSize)
	}

	summary := &ReprocessSummary{
		RunID:    uuid.New().String(),
		PageSize: pageSize,
		FromID:   resumeAfterID,
		LastID:   resumeAfterID,
	}
	metrics.ReprocessRuns.Inc()

	logging.Info().
		Str("run_id", summary.RunID).
		Int64("resume_after_id", resumeAfterID).
		Int("page_size", pageSize).
		Msg("Reprocess run started")

	for {
		page, err := r.db.ListEventsPage(ctx, database.EventPageFilter{
			Statuses: filter.Statuses,
			Provider: filter.Provider,
			AfterID:  summary.LastID,
			PageSize: pageSize,
		})
		if err != nil {
			return summary, fmt.Errorf("reprocess run %s aborted: %w", summary.RunID, err)
		}
		if len(page) == 0 {
			break
		}
		summary.Pages++

		for i := range page {
			if err := ctx.Err(); err != nil {
				return summary, fmt.Errorf("reprocess run %s canceled: %w", summary.RunID, err)
			}
			entry := &page[i]
			r.count(summary, r.router.Process(ctx, entry))
			summary.LastID = entry.ID
		}

		// A short page means the ledger is exhausted for this filter.
		if len(page) < pageSize {
			break
		}
	}

	logging.Info().
		Str("run_id", summary.RunID).
		Int("total", summary.Total).
		Int("applied", summary.Applied).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Int("pages", summary.Pages).
		Msg("Reprocess run finished")
	return summary, nil
}

// ReprocessByID re-dispatches a single entry, for manual operator retry of
// one failed event. Returns database.ErrEventNotFound for an unknown id.
func (r *Reprocessor) ReprocessByID(ctx context.Context, id int64) (Outcome, error) {
	entry, err := r.db.GetEventByID(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	outcome := r.router.Process(ctx, entry)
	metrics.ReprocessEntries.WithLabelValues(string(outcome.Kind)).Inc()
	return outcome, nil
}

func (r *Reprocessor) count(summary *ReprocessSummary, outcome Outcome) {
	summary.Total++
	metrics.ReprocessEntries.WithLabelValues(string(outcome.Kind)).Inc()
	switch outcome.Kind {
	case OutcomeApplied:
		summary.Applied++
	case OutcomeSkipped:
		summary.Skipped++
	case OutcomeFailed:
		summary.Failed++
	}
}
