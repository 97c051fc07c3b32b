// Bibliograph - Reading Activity Ingestion and Reconciliation
// Copyright 2026 Bibliograph Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bibliograph/bibliograph

package database

import "fmt"

// schemaStatements create all tables and sequences. Statements are
// idempotent so startup is safe against an already-initialized file.
//
// Ledger ids come from a sequence rather than UUIDs: keyset pagination
// needs a total order that matches insertion order.
var schemaStatements = []string{
	`CREATE SEQUENCE IF NOT EXISTS seq_events_id START 1`,
	`CREATE TABLE IF NOT EXISTS events (
		id BIGINT PRIMARY KEY DEFAULT nextval('seq_events_id'),
		provider VARCHAR NOT NULL,
		raw_payload BLOB NOT NULL,
		fingerprint VARCHAR NOT NULL,
		status VARCHAR NOT NULL DEFAULT 'PENDING',
		failure_reason VARCHAR,
		created_at TIMESTAMP NOT NULL DEFAULT current_timestamp,
		UNIQUE (provider, fingerprint)
	)`,

	`CREATE SEQUENCE IF NOT EXISTS seq_books_id START 1`,
	`CREATE TABLE IF NOT EXISTS books (
		id BIGINT PRIMARY KEY DEFAULT nextval('seq_books_id'),
		title VARCHAR NOT NULL,
		author VARCHAR NOT NULL,
		isbn VARCHAR,
		fingerprint VARCHAR NOT NULL UNIQUE,
		slug VARCHAR NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT current_timestamp
	)`,

	// Fact tables. updated_at is the origin system's timestamp and drives
	// the staleness guard; it is nullable because some sources carry no
	// timestamp semantics.
	`CREATE TABLE IF NOT EXISTS reviews (
		book_id BIGINT NOT NULL,
		user_id VARCHAR NOT NULL,
		rating DOUBLE,
		body VARCHAR,
		updated_at TIMESTAMP,
		PRIMARY KEY (book_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS reads (
		book_id BIGINT NOT NULL,
		user_id VARCHAR NOT NULL,
		percent DOUBLE NOT NULL DEFAULT 0,
		started_at TIMESTAMP,
		finished_at TIMESTAMP,
		updated_at TIMESTAMP,
		PRIMARY KEY (book_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS editions (
		book_id BIGINT PRIMARY KEY,
		publisher VARCHAR,
		publish_year INTEGER,
		page_count INTEGER,
		cover_id VARCHAR,
		isbn13 VARCHAR,
		updated_at TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS sync_cursors (
		source VARCHAR PRIMARY KEY,
		cursor_position BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL DEFAULT current_timestamp
	)`,

	`CREATE TABLE IF NOT EXISTS enrichment_state (
		book_id BIGINT NOT NULL,
		source VARCHAR NOT NULL,
		status VARCHAR NOT NULL DEFAULT 'NEVER',
		force_next BOOLEAN NOT NULL DEFAULT false,
		updated_at TIMESTAMP NOT NULL DEFAULT current_timestamp,
		PRIMARY KEY (book_id, source)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_events_status ON events (status, id)`,
	`CREATE INDEX IF NOT EXISTS idx_events_provider ON events (provider, id)`,
}

func (db *DB) initSchema() error {
	for _, stmt := range schemaStatements {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
