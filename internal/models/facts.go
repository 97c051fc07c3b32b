// Bibliograph - Reading Activity Ingestion and Reconciliation
// Copyright 2026 Bibliograph Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bibliograph/bibliograph

package models

import "time"

// Book is the entity external facts attach to.
//
// Fingerprint is the dedup/identity key for books without a stable external
// identifier: a SHA-256 over the normalized title+author. Books are created
// on first reference by an ingested event and never deleted.
type Book struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	ISBN        *string   `json:"isbn,omitempty"`
	Fingerprint string    `json:"fingerprint"`
	Slug        string    `json:"slug"`
	CreatedAt   time.Time `json:"created_at"`
}

// Review is an externally-sourced review fact, one row per (book, user).
//
// Rating and Body are pointers because null is a legitimate stored value: a
// retraction overwrites both with null rather than deleting the row.
// UpdatedAt is the origin system's timestamp and feeds the staleness guard.
type Review struct {
	BookID    int64      `json:"book_id"`
	UserID    string     `json:"user_id"`
	Rating    *float64   `json:"rating"`
	Body      *string    `json:"body"`
	UpdatedAt *time.Time `json:"updated_at"`
}

// ReadProgress is an externally-sourced reading-progress fact, one row per
// (book, user). Percent is 0-100; FinishedAt set marks a completed read.
type ReadProgress struct {
	BookID     int64      `json:"book_id"`
	UserID     string     `json:"user_id"`
	Percent    float64    `json:"percent"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	UpdatedAt  *time.Time `json:"updated_at"`
}

// Edition holds enriched edition metadata for a book, filled by the
// enrichment backfill from OpenLibrary. One row per book.
type Edition struct {
	BookID      int64      `json:"book_id"`
	Publisher   *string    `json:"publisher,omitempty"`
	PublishYear *int       `json:"publish_year,omitempty"`
	PageCount   *int       `json:"page_count,omitempty"`
	CoverID     *string    `json:"cover_id,omitempty"`
	ISBN13      *string    `json:"isbn13,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at"`
}

// EnrichmentStatus is the per-(book, source) enrichment state.
type EnrichmentStatus string

const (
	// EnrichmentNever means the source has not been consulted for the book.
	EnrichmentNever EnrichmentStatus = "NEVER"

	// EnrichmentDone means the source answered and the result was applied.
	EnrichmentDone EnrichmentStatus = "DONE"

	// EnrichmentFailed means the last attempt failed; the book stays
	// eligible for the next sweep.
	EnrichmentFailed EnrichmentStatus = "FAILED"
)

// Valid reports whether s is a known enrichment status.
func (s EnrichmentStatus) Valid() bool {
	switch s {
	case EnrichmentNever, EnrichmentDone, EnrichmentFailed:
		return true
	}
	return false
}

// EnrichmentState tracks backfill progress for one (book, source) pair.
//
// A book is eligible for enrichment iff Status != DONE or ForceNext is set.
// ForceNext lets an operator force recomputation without erasing history.
type EnrichmentState struct {
	BookID    int64            `json:"book_id"`
	Source    string           `json:"source"`
	Status    EnrichmentStatus `json:"status"`
	ForceNext bool             `json:"force_next"`
	UpdatedAt time.Time        `json:"updated_at"`
}
