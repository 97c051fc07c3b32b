// Bibliograph - Reading Activity Ingestion and Reconciliation
// Copyright 2026 Bibliograph Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bibliograph/bibliograph

package dispatch

import (
	"context"

	"github.com/bibliograph/bibliograph/internal/fingerprint"
	"github.com/bibliograph/bibliograph/internal/models"
)

// Handler applies one typed event's facts to storage.
//
// Handlers must be idempotent: all fact writes go through the
// staleness-guarded upserts, so re-running a handler with the same event is
// a no-op beyond the first application.
type Handler interface {
	Handle(ctx context.Context, event *models.ActivityEvent) Outcome
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, event *models.ActivityEvent) Outcome

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, event *models.ActivityEvent) Outcome {
	return f(ctx, event)
}

// factStore is the storage surface handlers need. Satisfied by
// *database.DB; narrowed to an interface so handler tests can fake it.
type factStore interface {
	EnsureBook(ctx context.Context, title, author, isbn string) (*models.Book, error)
	GetBookByFingerprint(ctx context.Context, fp string) (*models.Book, error)
	UpsertReview(ctx context.Context, r *models.Review) (bool, error)
	UpsertReadProgress(ctx context.Context, p *models.ReadProgress) (bool, error)
}

// handleReviewUpsert writes or refreshes a review fact. The book is created
// on first reference.
func handleReviewUpsert(store factStore) HandlerFunc {
	return func(ctx context.Context, ev *models.ActivityEvent) Outcome {
		if ev.Review == nil {
			return Failedf("review event without review payload")
		}
		book, err := store.EnsureBook(ctx, ev.Title, ev.Author, ev.ISBN)
		if err != nil {
			return Failed(err)
		}
		if _, err := store.UpsertReview(ctx, &models.Review{
			BookID:    book.ID,
			UserID:    ev.UserID,
			Rating:    ev.Review.Rating,
			Body:      ev.Review.Body,
			UpdatedAt: ev.SourceUpdatedAt,
		}); err != nil {
			return Failed(err)
		}
		return Applied()
	}
}

// handleReviewRetract nulls a review's rating and body. Retracting a review
// for a book never seen is a handler failure: the referenced entity is
// missing, and creating it from a retraction would fabricate state.
func handleReviewRetract(store factStore) HandlerFunc {
	return func(ctx context.Context, ev *models.ActivityEvent) Outcome {
		book, err := store.GetBookByFingerprint(ctx, fingerprint.Fingerprint(ev.Title+" "+ev.Author))
		if err != nil {
			return Failedf("retract review: %w", err)
		}
		// Explicit nulls with a null timestamp: the retraction wins
		// unconditionally per the upsert protocol.
		if _, err := store.UpsertReview(ctx, &models.Review{
			BookID:    book.ID,
			UserID:    ev.UserID,
			Rating:    nil,
			Body:      nil,
			UpdatedAt: nil,
		}); err != nil {
			return Failed(err)
		}
		return Applied()
	}
}

// handleReadProgress writes a reading-progress fact.
func handleReadProgress(store factStore) HandlerFunc {
	return func(ctx context.Context, ev *models.ActivityEvent) Outcome {
		if ev.Progress == nil {
			return Failedf("read event without progress payload")
		}
		if ev.Progress.Percent < 0 || ev.Progress.Percent > 100 {
			return Failedf("progress percent out of range: %v", ev.Progress.Percent)
		}
		book, err := store.EnsureBook(ctx, ev.Title, ev.Author, ev.ISBN)
		if err != nil {
			return Failed(err)
		}
		if _, err := store.UpsertReadProgress(ctx, &models.ReadProgress{
			BookID:     book.ID,
			UserID:     ev.UserID,
			Percent:    ev.Progress.Percent,
			StartedAt:  ev.Progress.StartedAt,
			FinishedAt: ev.Progress.FinishedAt,
			UpdatedAt:  ev.SourceUpdatedAt,
		}); err != nil {
			return Failed(err)
		}
		return Applied()
	}
}

// handleShelfAdd registers the book. Shelving carries no fact row of its
// own; the entity existing is the effect.
func handleShelfAdd(store factStore) HandlerFunc {
	return func(ctx context.Context, ev *models.ActivityEvent) Outcome {
		if _, err := store.EnsureBook(ctx, ev.Title, ev.Author, ev.ISBN); err != nil {
			return Failed(err)
		}
		return Applied()
	}
}
