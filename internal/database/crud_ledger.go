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
	"strings"

	"github.com/bibliograph/bibliograph/internal/fingerprint"
	"github.com/bibliograph/bibliograph/internal/models"
)

// ErrEventNotFound is returned when a ledger entry id does not exist.
var ErrEventNotFound = errors.New("ledger entry not found")

// IngestEvent records a raw provider payload in the event ledger.
//
// The dedup key is the SHA-256 of the payload bytes; the unique constraint
// on (provider, fingerprint) arbitrates concurrent first-seen inserts, so a
// byte-identical resend never creates a second row. The duplicate path
// returns inserted=false with the existing entry's id - a dedup hit is the
// expected outcome of at-least-once delivery, not an error.
//
// Payload bytes are opaque here: decode failures surface at dispatch time,
// never at ingest time.
func (db *DB) IngestEvent(ctx context.Context, provider string, rawPayload []byte) (*models.IngestResult, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	fp := fingerprint.Raw(rawPayload)

	var id int64
	err := db.conn.QueryRowContext(ctx,
		`INSERT INTO events (provider, raw_payload, fingerprint)
		 VALUES (?, ?, ?)
		 ON CONFLICT (provider, fingerprint) DO NOTHING
		 RETURNING id`,
		provider, rawPayload, fp,
	).Scan(&id)

	if err == nil {
		return &models.IngestResult{Inserted: true, EntryID: id}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to ingest event: %w", err)
	}

	// Conflict path: the row already exists, reference it.
	err = db.conn.QueryRowContext(ctx,
		`SELECT id FROM events WHERE provider = ? AND fingerprint = ?`,
		provider, fp,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve duplicate event: %w", err)
	}
	return &models.IngestResult{Inserted: false, EntryID: id}, nil
}

// MarkEventProcessed transitions an entry to PROCESSED. The conditional
// update is the concurrency guard: only PENDING or FAILED entries
// transition, and the returned bool reports whether this call won.
func (db *DB) MarkEventProcessed(ctx context.Context, id int64) (bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx,
		`UPDATE events SET status = ?, failure_reason = NULL
		 WHERE id = ? AND status IN (?, ?)`,
		string(models.EventProcessed), id,
		string(models.EventPending), string(models.EventFailed),
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark event processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// MarkEventFailed transitions an entry to FAILED and records the reason.
// FAILED entries stay eligible for reprocessing.
func (db *DB) MarkEventFailed(ctx context.Context, id int64, reason string) (bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx,
		`UPDATE events SET status = ?, failure_reason = ?
		 WHERE id = ? AND status IN (?, ?)`,
		string(models.EventFailed), reason, id,
		string(models.EventPending), string(models.EventFailed),
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark event failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// GetEventByID returns one ledger entry, or ErrEventNotFound.
func (db *DB) GetEventByID(ctx context.Context, id int64) (*models.LedgerEntry, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx,
		`SELECT id, provider, raw_payload, fingerprint, status, failure_reason, created_at
		 FROM events WHERE id = ?`, id)

	entry, err := scanLedgerEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get event %d: %w", id, err)
	}
	return entry, nil
}

// EventPageFilter selects ledger entries for a keyset page.
// Empty Statuses means all statuses; empty Provider means all providers.
type EventPageFilter struct {
	Statuses []models.EventStatus
	Provider string
	AfterID  int64
	PageSize int
}

// ListEventsPage returns one keyset page of ledger entries: id > AfterID,
// ordered by id ascending, at most PageSize rows. Paging by last-seen id
// keeps pages stable under concurrent inserts; offset pagination would not.
func (db *DB) ListEventsPage(ctx context.Context, filter EventPageFilter) ([]models.LedgerEntry, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if filter.PageSize <= 0 {
		return nil, fmt.Errorf("page size must be positive, got %d", filter.PageSize)
	}

	var conditions []string
	var args []interface{}

	conditions = append(conditions, "id > ?")
	args = append(args, filter.AfterID)

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		conditions = append(conditions, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.Provider != "" {
		conditions = append(conditions, "provider = ?")
		args = append(args, filter.Provider)
	}

	query := `SELECT id, provider, raw_payload, fingerprint, status, failure_reason, created_at
		FROM events WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY id ASC LIMIT ?`
	args = append(args, filter.PageSize)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate event rows: %w", err)
	}
	return entries, nil
}

// CountEventsByStatus returns ledger totals per status, for observability.
func (db *DB) CountEventsByStatus(ctx context.Context) (map[models.EventStatus]int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM events GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.EventStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count row: %w", err)
		}
		counts[models.EventStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate count rows: %w", err)
	}
	return counts, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLedgerEntry(row rowScanner) (*models.LedgerEntry, error) {
	entry := &models.LedgerEntry{}
	var status string
	err := row.Scan(
		&entry.ID, &entry.Provider, &entry.RawPayload, &entry.Fingerprint,
		&status, &entry.FailureReason, &entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	entry.Status = models.EventStatus(status)
	return entry, nil
}
