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

// GetOrCreateCursor returns the sync cursor for a poll source, creating it
// at position 0 on first use. The insert is conflict-tolerant so concurrent
// first calls converge on the single row.
func (db *DB) GetOrCreateCursor(ctx context.Context, source string) (*models.SyncCursor, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO sync_cursors (source, cursor_position)
		 VALUES (?, 0)
		 ON CONFLICT (source) DO NOTHING`, source)
	if err != nil {
		return nil, fmt.Errorf("failed to create cursor for %s: %w", source, err)
	}
	return db.getCursor(ctx, source)
}

// AdvanceCursor moves the cursor forward, monotonically. An advance to a
// position at or below the current one is a no-op: the guard resolves
// concurrent advances to the maximum, never last-write-wins, so replaying
// an already-ingested page can never regress progress. Returns the cursor
// as stored after the call.
func (db *DB) AdvanceCursor(ctx context.Context, source string, newPosition int64) (*models.SyncCursor, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO sync_cursors (source, cursor_position, updated_at)
		 VALUES (?, ?, current_timestamp)
		 ON CONFLICT (source) DO UPDATE SET
		   cursor_position = excluded.cursor_position,
		   updated_at = excluded.updated_at
		 WHERE sync_cursors.cursor_position < excluded.cursor_position`,
		source, newPosition)
	if err != nil {
		return nil, fmt.Errorf("failed to advance cursor for %s: %w", source, err)
	}
	return db.getCursor(ctx, source)
}

func (db *DB) getCursor(ctx context.Context, source string) (*models.SyncCursor, error) {
	c := &models.SyncCursor{}
	err := db.conn.QueryRowContext(ctx,
		`SELECT source, cursor_position, updated_at
		 FROM sync_cursors WHERE source = ?`, source,
	).Scan(&c.Source, &c.Position, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to read cursor for %s: %w", source, err)
	}
	return c, nil
}
