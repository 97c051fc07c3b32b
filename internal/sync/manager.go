// Bibliograph - Reading Activity Ingestion and Reconciliation
// Copyright 2026 Bibliograph Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bibliograph/bibliograph

// Package sync pulls activity from poll-based providers into the ledger.
//
// The Kobo activity feed exposes a monotonically increasing sequence number
// per item. The manager keeps a persisted cursor at the highest sequence it
// has fully ingested and, on each cycle, pulls pages strictly after that
// cursor, records every item in the ledger, dispatches the new entries, and
// only then advances the cursor. A crash mid-cycle re-pulls items the cursor
// has not covered; content-addressed ingestion absorbs the duplicates, so
// the feed is never double-applied and never skipped.
package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/bibliograph/bibliograph/internal/config"
	"github.com/bibliograph/bibliograph/internal/database"
	"github.com/bibliograph/bibliograph/internal/dispatch"
	"github.com/bibliograph/bibliograph/internal/logging"
	"github.com/bibliograph/bibliograph/internal/metrics"
	"github.com/bibliograph/bibliograph/internal/models"
)

// CursorSource is the sync_cursors key for the Kobo feed.
const CursorSource = "kobo"

// Summary reports one completed sync cycle.
type Summary struct {
	Pulled   int   `json:"pulled"`
	Inserted int   `json:"inserted"`
	Applied  int   `json:"applied"`
	Failed   int   `json:"failed"`
	Cursor   int64 `json:"cursor"`
}

// Manager owns the Kobo poll loop. It implements suture.Service via Serve.
type Manager struct {
	cfg    *config.KoboConfig
	db     *database.DB
	router *dispatch.Router
	client KoboAPI

	syncMu   gosync.Mutex
	mu       gosync.RWMutex
	lastSync time.Time
}

// NewManager wires a poll manager. Pass nil client to use the circuit-broken
// HTTP client built from cfg.
func NewManager(cfg *config.KoboConfig, db *database.DB, router *dispatch.Router, client KoboAPI) *Manager {
	if client == nil {
		client = NewCircuitBreakerClient(cfg)
	}
	return &Manager{
		cfg:    cfg,
		db:     db,
		router: router,
		client: client,
	}
}

// Serve runs the poll loop until the context is canceled. An immediate
// first sync runs on startup; sync errors are logged and retried on the
// next tick rather than propagated, so the supervisor does not restart the
// service for transient feed outages.
func (m *Manager) Serve(ctx context.Context) error {
	logging.Info().
		Dur("interval", m.cfg.PollInterval).
		Int("page_size", m.cfg.PageSize).
		Msg("Kobo sync manager started")

	if _, err := m.TriggerSync(ctx); err != nil {
		logging.Error().Err(err).Msg("Initial kobo sync failed")
	}

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Kobo sync manager stopping")
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.TriggerSync(ctx); err != nil {
				logging.Error().Err(err).Msg("Periodic kobo sync failed")
			}
		}
	}
}

// TriggerSync runs one full sync cycle. Concurrent calls serialize; the
// cursor guarantees each serialized cycle only pulls items the previous one
// did not cover.
func (m *Manager) TriggerSync(ctx context.Context) (*Summary, error) {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	summary, err := m.syncOnce(ctx)
	if err != nil {
		metrics.SyncRuns.WithLabelValues(CursorSource, "error").Inc()
		return summary, err
	}

	metrics.SyncRuns.WithLabelValues(CursorSource, "ok").Inc()
	metrics.SyncLastSuccess.WithLabelValues(CursorSource).SetToCurrentTime()
	m.mu.Lock()
	m.lastSync = time.Now()
	m.mu.Unlock()
	return summary, nil
}

// String identifies the manager in supervisor logs.
func (m *Manager) String() string {
	return "kobo-sync"
}

// LastSyncTime reports when the last successful cycle finished.
func (m *Manager) LastSyncTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSync
}

func (m *Manager) syncOnce(ctx context.Context) (*Summary, error) {
	cursor, err := m.db.GetOrCreateCursor(ctx, CursorSource)
	if err != nil {
		return nil, fmt.Errorf("kobo sync: loading cursor: %w", err)
	}

	summary := &Summary{Cursor: cursor.Position}
	position := cursor.Position

	for {
		page, err := m.client.ActivitySince(ctx, position, m.cfg.PageSize)
		if err != nil {
			return summary, fmt.Errorf("kobo sync: pulling after %d: %w", position, err)
		}
		if len(page.Items) == 0 {
			break
		}

		pageMax := position
		for i := range page.Items {
			item := &page.Items[i]
			if err := m.ingestItem(ctx, item, summary); err != nil {
				// Stop before advancing the cursor past this item so the
				// next cycle re-pulls it.
				return summary, err
			}
			if item.Sequence > pageMax {
				pageMax = item.Sequence
			}
		}

		// A page whose items all sit at or behind the cursor cannot move
		// it; re-pulling after the same position would loop forever.
		if pageMax == position {
			break
		}

		// Every item on the page is in the ledger; only now may the
		// cursor move past them.
		stored, err := m.db.AdvanceCursor(ctx, CursorSource, pageMax)
		if err != nil {
			return summary, fmt.Errorf("kobo sync: advancing cursor to %d: %w", pageMax, err)
		}
		position = stored.Position
		summary.Cursor = stored.Position
		metrics.SyncCursorPosition.WithLabelValues(CursorSource).Set(float64(stored.Position))

		if !page.HasMore {
			break
		}
	}

	logging.Info().
		Int("pulled", summary.Pulled).
		Int("inserted", summary.Inserted).
		Int("applied", summary.Applied).
		Int("failed", summary.Failed).
		Int64("cursor", summary.Cursor).
		Msg("Kobo sync cycle finished")
	return summary, nil
}

// ingestItem records one feed item in the ledger and dispatches it if it is
// new. Items already present (crash-replay overlap) are left alone: their
// entry has either been dispatched or is awaiting reprocess.
func (m *Manager) ingestItem(ctx context.Context, item *models.KoboActivityItem, summary *Summary) error {
	summary.Pulled++

	payload, err := marshalItem(item)
	if err != nil {
		return fmt.Errorf("kobo sync: encoding item %d: %w", item.Sequence, err)
	}

	res, err := m.db.IngestEvent(ctx, dispatch.ProviderKobo, payload)
	metrics.RecordIngest(dispatch.ProviderKobo, res != nil && res.Inserted, err)
	if err != nil {
		return fmt.Errorf("kobo sync: ingesting item %d: %w", item.Sequence, err)
	}
	if !res.Inserted {
		return nil
	}
	summary.Inserted++

	entry, err := m.db.GetEventByID(ctx, res.EntryID)
	if err != nil {
		return fmt.Errorf("kobo sync: loading entry %d: %w", res.EntryID, err)
	}
	outcome := m.router.Process(ctx, entry)
	if outcome.Kind == dispatch.OutcomeApplied {
		summary.Applied++
	} else {
		summary.Failed++
	}
	return nil
}

// marshalItem is the canonical ledger encoding of a feed item. Replayed
// items must produce byte-identical payloads so content-addressed ingestion
// recognizes them as duplicates.
func marshalItem(item *models.KoboActivityItem) ([]byte, error) {
	return json.Marshal(item)
}
