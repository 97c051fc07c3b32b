// Bibliograph - Reading Activity Ingestion and Reconciliation
// Copyright 2026 Bibliograph Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bibliograph/bibliograph

package database

import (
	"context"
	"fmt"

	"github.com/bibliograph/bibliograph/internal/models"
)

// ListEnrichmentEligible returns up to limit books eligible for enrichment
// from the given source, ordered by book id ascending.
//
// Eligibility: no state row yet, status != DONE, or force_next set. A page
// shorter than limit signals exhaustion to the backfill driver.
func (db *DB) ListEnrichmentEligible(ctx context.Context, source string, limit int) ([]models.Book, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT b.id, b.title, b.author, b.isbn, b.fingerprint, b.slug, b.created_at
		 FROM books b
		 LEFT JOIN enrichment_state es ON es.book_id = b.id AND es.source = ?
		 WHERE es.book_id IS NULL OR es.status <> ? OR es.force_next
		 ORDER BY b.id ASC
		 LIMIT ?`,
		source, string(models.EnrichmentDone), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrichment-eligible books: %w", err)
	}
	defer rows.Close()

	var books []models.Book
	for rows.Next() {
		b := models.Book{}
		if err := rows.Scan(&b.ID, &b.Title, &b.Author, &b.ISBN,
			&b.Fingerprint, &b.Slug, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan book row: %w", err)
		}
		books = append(books, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate book rows: %w", err)
	}
	return books, nil
}

// MarkEnrichmentDone records a successful enrichment for (book, source) and
// clears any pending force flag.
func (db *DB) MarkEnrichmentDone(ctx context.Context, bookID int64, source string) error {
	return db.setEnrichmentStatus(ctx, bookID, source, models.EnrichmentDone)
}

// MarkEnrichmentFailed records a failed attempt. The book stays eligible
// for the next sweep.
func (db *DB) MarkEnrichmentFailed(ctx context.Context, bookID int64, source string) error {
	return db.setEnrichmentStatus(ctx, bookID, source, models.EnrichmentFailed)
}

func (db *DB) setEnrichmentStatus(ctx context.Context, bookID int64, source string, status models.EnrichmentStatus) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO enrichment_state (book_id, source, status, force_next, updated_at)
		 VALUES (?, ?, ?, false, current_timestamp)
		 ON CONFLICT (book_id, source) DO UPDATE SET
		   status = excluded.status,
		   force_next = false,
		   updated_at = excluded.updated_at`,
		bookID, source, string(status))
	if err != nil {
		return fmt.Errorf("failed to set enrichment status: %w", err)
	}
	return nil
}

// ForceEnrichment flags (book, source) for recomputation on the next sweep
// without erasing the recorded history.
func (db *DB) ForceEnrichment(ctx context.Context, bookID int64, source string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO enrichment_state (book_id, source, status, force_next, updated_at)
		 VALUES (?, ?, ?, true, current_timestamp)
		 ON CONFLICT (book_id, source) DO UPDATE SET
		   force_next = true,
		   updated_at = excluded.updated_at`,
		bookID, source, string(models.EnrichmentNever))
	if err != nil {
		return fmt.Errorf("failed to force enrichment: %w", err)
	}
	return nil
}

// GetEnrichmentState returns the state row for (book, source), or a
// synthetic NEVER row when none exists yet.
func (db *DB) GetEnrichmentState(ctx context.Context, bookID int64, source string) (*models.EnrichmentState, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	s := &models.EnrichmentState{}
	var status string
	err := db.conn.QueryRowContext(ctx,
		`SELECT book_id, source, status, force_next, updated_at
		 FROM enrichment_state WHERE book_id = ? AND source = ?`,
		bookID, source,
	).Scan(&s.BookID, &s.Source, &status, &s.ForceNext, &s.UpdatedAt)
	if err != nil {
		if scanOptional(err, "enrichment state") == nil {
			return &models.EnrichmentState{
				BookID: bookID,
				Source: source,
				Status: models.EnrichmentNever,
			}, nil
		}
		return nil, fmt.Errorf("failed to get enrichment state: %w", err)
	}
	s.Status = models.EnrichmentStatus(status)
	return s, nil
}

// CountEnrichmentBacklog reports how many books are still eligible for
// enrichment from the given source.
func (db *DB) CountEnrichmentBacklog(ctx context.Context, source string) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var n int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*)
		 FROM books b
		 LEFT JOIN enrichment_state es ON es.book_id = b.id AND es.source = ?
		 WHERE es.book_id IS NULL OR es.status <> ? OR es.force_next`,
		source, string(models.EnrichmentDone),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count enrichment backlog: %w", err)
	}
	return n, nil
}
