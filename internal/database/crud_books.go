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

	"github.com/bibliograph/bibliograph/internal/fingerprint"
	"github.com/bibliograph/bibliograph/internal/models"
)

// ErrBookNotFound is returned when a book id or fingerprint does not exist.
var ErrBookNotFound = errors.New("book not found")

// EnsureBook resolves or creates the book identified by title and author.
//
// Identity is the fingerprint over "title author"; books have no stable
// external identifier across providers, so the normalized-content hash is
// the unique key. The write is a single upsert: concurrent first-references
// of the same book are arbitrated by the unique constraint, and an ISBN
// learned later fills a previously-null column without clobbering one
// already stored.
func (db *DB) EnsureBook(ctx context.Context, title, author, isbn string) (*models.Book, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if title == "" {
		return nil, fmt.Errorf("book title must not be empty")
	}

	natural := title + " " + author
	fp := fingerprint.Fingerprint(natural)
	slug := fingerprint.Slug(natural)

	var isbnVal interface{}
	if isbn != "" {
		isbnVal = isbn
	}

	book := &models.Book{}
	err := db.conn.QueryRowContext(ctx,
		`INSERT INTO books (title, author, isbn, fingerprint, slug)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (fingerprint) DO UPDATE SET
		   isbn = COALESCE(books.isbn, excluded.isbn)
		 RETURNING id, title, author, isbn, fingerprint, slug, created_at`,
		title, author, isbnVal, fp, slug,
	).Scan(&book.ID, &book.Title, &book.Author, &book.ISBN,
		&book.Fingerprint, &book.Slug, &book.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure book: %w", err)
	}
	return book, nil
}

// GetBookByID returns one book, or ErrBookNotFound.
func (db *DB) GetBookByID(ctx context.Context, id int64) (*models.Book, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	book := &models.Book{}
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, title, author, isbn, fingerprint, slug, created_at
		 FROM books WHERE id = ?`, id,
	).Scan(&book.ID, &book.Title, &book.Author, &book.ISBN,
		&book.Fingerprint, &book.Slug, &book.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBookNotFound
		}
		return nil, fmt.Errorf("failed to get book %d: %w", id, err)
	}
	return book, nil
}

// GetBookByFingerprint returns the book with the given identity fingerprint,
// or ErrBookNotFound.
func (db *DB) GetBookByFingerprint(ctx context.Context, fp string) (*models.Book, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	book := &models.Book{}
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, title, author, isbn, fingerprint, slug, created_at
		 FROM books WHERE fingerprint = ?`, fp,
	).Scan(&book.ID, &book.Title, &book.Author, &book.ISBN,
		&book.Fingerprint, &book.Slug, &book.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBookNotFound
		}
		return nil, fmt.Errorf("failed to get book by fingerprint: %w", err)
	}
	return book, nil
}
