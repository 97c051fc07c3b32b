// Bibliograph - Reading Activity Ingestion and Reconciliation
// Copyright 2026 Bibliograph Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bibliograph/bibliograph

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bibliograph/bibliograph/internal/metrics"
	"github.com/bibliograph/bibliograph/internal/models"
)

// =============================================================================
// Staleness-Guarded Fact Upserts
// =============================================================================
//
// Every externally-sourced fact row is written through a single conditional
// upsert. The guard is last-write-wins by SOURCE time, not arrival time: on
// conflict the incoming row overwrites only when
//
//	incoming.updated_at IS NULL        (explicit unconditional overwrite)
//	OR existing.updated_at IS NULL     (nothing authoritative stored yet)
//	OR existing.updated_at <= incoming.updated_at
//
// Otherwise the write is a no-op and the stored (newer) values win. The
// no-op is reported as applied=false, never as an error - an out-of-order
// duplicate is expected under at-least-once delivery.
//
// The guard lives in the statement's ON CONFLICT ... WHERE clause, so
// concurrent upserts of the same key are arbitrated by the storage engine.
// A read-then-compare-then-write pair would reintroduce exactly the race
// this layout exists to prevent.

// UpsertReview writes a review fact for (book, user). Null rating/body are
// legitimate stored values: a retraction overwrites both with null rather
// than deleting the row.
func (db *DB) UpsertReview(ctx context.Context, r *models.Review) (bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO reviews (book_id, user_id, rating, body, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (book_id, user_id) DO UPDATE SET
		   rating = excluded.rating,
		   body = excluded.body,
		   updated_at = excluded.updated_at
		 WHERE excluded.updated_at IS NULL
		    OR reviews.updated_at IS NULL
		    OR reviews.updated_at <= excluded.updated_at`,
		r.BookID, r.UserID, r.Rating, r.Body, r.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert review: %w", err)
	}
	return guardOutcome(res.RowsAffected())("review")
}

// UpsertReadProgress writes a reading-progress fact for (book, user).
func (db *DB) UpsertReadProgress(ctx context.Context, p *models.ReadProgress) (bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO reads (book_id, user_id, percent, started_at, finished_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (book_id, user_id) DO UPDATE SET
		   percent = excluded.percent,
		   started_at = excluded.started_at,
		   finished_at = excluded.finished_at,
		   updated_at = excluded.updated_at
		 WHERE excluded.updated_at IS NULL
		    OR reads.updated_at IS NULL
		    OR reads.updated_at <= excluded.updated_at`,
		p.BookID, p.UserID, p.Percent, p.StartedAt, p.FinishedAt, p.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert read progress: %w", err)
	}
	return guardOutcome(res.RowsAffected())("read")
}

// UpsertEdition writes enriched edition metadata for a book.
func (db *DB) UpsertEdition(ctx context.Context, e *models.Edition) (bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO editions (book_id, publisher, publish_year, page_count, cover_id, isbn13, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (book_id) DO UPDATE SET
		   publisher = excluded.publisher,
		   publish_year = excluded.publish_year,
		   page_count = excluded.page_count,
		   cover_id = excluded.cover_id,
		   isbn13 = excluded.isbn13,
		   updated_at = excluded.updated_at
		 WHERE excluded.updated_at IS NULL
		    OR editions.updated_at IS NULL
		    OR editions.updated_at <= excluded.updated_at`,
		e.BookID, e.Publisher, e.PublishYear, e.PageCount, e.CoverID, e.ISBN13, e.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert edition: %w", err)
	}
	return guardOutcome(res.RowsAffected())("edition")
}

// GetReview returns the stored review for (book, user), or nil when absent.
func (db *DB) GetReview(ctx context.Context, bookID int64, userID string) (*models.Review, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	r := &models.Review{}
	err := db.conn.QueryRowContext(ctx,
		`SELECT book_id, user_id, rating, body, updated_at
		 FROM reviews WHERE book_id = ? AND user_id = ?`,
		bookID, userID,
	).Scan(&r.BookID, &r.UserID, &r.Rating, &r.Body, &r.UpdatedAt)
	if err != nil {
		return nil, scanOptional(err, "review")
	}
	return r, nil
}

// GetReadProgress returns the stored progress for (book, user), or nil.
func (db *DB) GetReadProgress(ctx context.Context, bookID int64, userID string) (*models.ReadProgress, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	p := &models.ReadProgress{}
	err := db.conn.QueryRowContext(ctx,
		`SELECT book_id, user_id, percent, started_at, finished_at, updated_at
		 FROM reads WHERE book_id = ? AND user_id = ?`,
		bookID, userID,
	).Scan(&p.BookID, &p.UserID, &p.Percent, &p.StartedAt, &p.FinishedAt, &p.UpdatedAt)
	if err != nil {
		return nil, scanOptional(err, "read progress")
	}
	return p, nil
}

// GetEdition returns the stored edition metadata for a book, or nil.
func (db *DB) GetEdition(ctx context.Context, bookID int64) (*models.Edition, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	e := &models.Edition{}
	err := db.conn.QueryRowContext(ctx,
		`SELECT book_id, publisher, publish_year, page_count, cover_id, isbn13, updated_at
		 FROM editions WHERE book_id = ?`, bookID,
	).Scan(&e.BookID, &e.Publisher, &e.PublishYear, &e.PageCount, &e.CoverID, &e.ISBN13, &e.UpdatedAt)
	if err != nil {
		return nil, scanOptional(err, "edition")
	}
	return e, nil
}

// scanOptional maps the no-rows case to a nil error so callers get
// (nil, nil) for an absent fact row.
func scanOptional(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

// guardOutcome turns rows-affected into the applied flag, recording a
// metric for guard rejections. Zero rows means the staleness guard kept the
// stored values.
func guardOutcome(n int64, err error) func(fact string) (bool, error) {
	return func(fact string) (bool, error) {
		if err != nil {
			return false, fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n == 0 {
			metrics.StaleWritesIgnored.WithLabelValues(fact).Inc()
			return false, nil
		}
		return true, nil
	}
}
