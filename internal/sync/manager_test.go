// Bibliograph - Reading Activity Ingestion and Reconciliation
// Copyright 2026 Bibliograph Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bibliograph/bibliograph

package sync

import (
	"context"
	"testing"
	"time"

	"github.com/bibliograph/bibliograph/internal/config"
	"github.com/bibliograph/bibliograph/internal/database"
	"github.com/bibliograph/bibliograph/internal/dispatch"
	"github.com/bibliograph/bibliograph/internal/models"
)

// fakeFeed serves a fixed activity slice the way the real endpoint would:
// items strictly after the requested sequence, ascending, up to the limit.
type fakeFeed struct {
	items []models.KoboActivityItem
	calls int
}

func (f *fakeFeed) Ping(ctx context.Context) error { return nil }

func (f *fakeFeed) ActivitySince(ctx context.Context, afterSeq int64, limit int) (*models.KoboActivityPage, error) {
	f.calls++
	page := &models.KoboActivityPage{}
	for _, item := range f.items {
		if item.Sequence <= afterSeq {
			continue
		}
		if len(page.Items) == limit {
			page.HasMore = true
			break
		}
		page.Items = append(page.Items, item)
	}
	return page, nil
}

func feedItem(seq int64, title string, percent float64) models.KoboActivityItem {
	at := time.Date(2026, 5, 1, 0, 0, int(seq), 0, time.UTC)
	return models.KoboActivityItem{
		Sequence:  seq,
		Event:     string(models.EventReadProgress),
		MediaType: string(models.MediaBook),
		Title:     title,
		Author:    "Author",
		UserID:    "u1",
		Percent:   percent,
		UpdatedAt: &at,
	}
}

func setupManager(t *testing.T, feed KoboAPI, pageSize int) (*database.DB, *Manager) {
	t.Helper()
	db, err := database.New(&config.DatabaseConfig{Path: ":memory:", MaxMemory: "512MB"})
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close test database: %v", err)
		}
	})

	cfg := &config.KoboConfig{
		Enabled:      true,
		BaseURL:      "http://kobo.test",
		PollInterval: time.Minute,
		PageSize:     pageSize,
	}
	return db, NewManager(cfg, db, dispatch.NewRouter(db), feed)
}

func TestTriggerSync_IngestsAndAdvancesCursor(t *testing.T) {
	feed := &fakeFeed{items: []models.KoboActivityItem{
		feedItem(1, "First Book", 10),
		feedItem(2, "Second Book", 20),
		feedItem(3, "Third Book", 30),
	}}
	db, m := setupManager(t, feed, 2)
	ctx := context.Background()

	summary, err := m.TriggerSync(ctx)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if summary.Pulled != 3 || summary.Inserted != 3 || summary.Applied != 3 {
		t.Errorf("expected 3 pulled/inserted/applied, got %+v", summary)
	}
	if summary.Cursor != 3 {
		t.Errorf("cursor should land on the highest sequence, got %d", summary.Cursor)
	}

	cursor, err := db.GetOrCreateCursor(ctx, CursorSource)
	if err != nil {
		t.Fatalf("cursor read failed: %v", err)
	}
	if cursor.Position != 3 {
		t.Errorf("persisted cursor = %d, want 3", cursor.Position)
	}

	counts, err := db.CountEventsByStatus(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if counts[models.EventProcessed] != 3 {
		t.Errorf("expected 3 processed entries, got %v", counts)
	}
}

func TestTriggerSync_ResumesAfterCursor(t *testing.T) {
	feed := &fakeFeed{items: []models.KoboActivityItem{
		feedItem(1, "First Book", 10),
		feedItem(2, "Second Book", 20),
	}}
	db, m := setupManager(t, feed, 10)
	ctx := context.Background()

	if _, err := m.TriggerSync(ctx); err != nil {
		t.Fatalf("first sync failed: %v", err)
	}

	// New activity arrives; the next cycle must pull only past the cursor.
	feed.items = append(feed.items, feedItem(3, "Third Book", 30))
	summary, err := m.TriggerSync(ctx)
	if err != nil {
		t.Fatalf("second sync failed: %v", err)
	}
	if summary.Pulled != 1 || summary.Inserted != 1 {
		t.Errorf("second cycle should only see the new item, got %+v", summary)
	}
	if summary.Cursor != 3 {
		t.Errorf("cursor = %d, want 3", summary.Cursor)
	}

	cursor, _ := db.GetOrCreateCursor(ctx, CursorSource)
	if cursor.Position != 3 {
		t.Errorf("persisted cursor = %d, want 3", cursor.Position)
	}
}

func TestTriggerSync_ReplayOverlapIsIdempotent(t *testing.T) {
	// Simulates a crash between ingest and cursor advance: the same items
	// are pulled again and must not duplicate ledger rows or facts.
	items := []models.KoboActivityItem{
		feedItem(1, "Replayed Book", 40),
		feedItem(2, "Other Book", 50),
	}
	feed := &fakeFeed{items: items}
	db, m := setupManager(t, feed, 10)
	ctx := context.Background()

	if _, err := m.TriggerSync(ctx); err != nil {
		t.Fatalf("first sync failed: %v", err)
	}

	// Re-ingest the same items using the manager's canonical encoding,
	// exactly as a replayed pull would.
	for _, item := range items {
		payloadItem := item
		res, err := db.IngestEvent(ctx, dispatch.ProviderKobo, mustMarshal(t, &payloadItem))
		if err != nil {
			t.Fatalf("replay ingest failed: %v", err)
		}
		if res.Inserted {
			t.Errorf("replayed item %d should be a duplicate", item.Sequence)
		}
	}

	counts, err := db.CountEventsByStatus(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if counts[models.EventProcessed] != 2 {
		t.Errorf("replay must not create new entries, got %v", counts)
	}
}

func TestTriggerSync_EmptyFeed(t *testing.T) {
	feed := &fakeFeed{}
	_, m := setupManager(t, feed, 10)

	summary, err := m.TriggerSync(context.Background())
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if summary.Pulled != 0 || summary.Cursor != 0 {
		t.Errorf("empty feed should be a no-op, got %+v", summary)
	}
	if feed.calls != 1 {
		t.Errorf("empty feed should be pulled exactly once, got %d calls", feed.calls)
	}
}

func TestTriggerSync_PagesThroughBacklog(t *testing.T) {
	feed := &fakeFeed{}
	for seq := int64(1); seq <= 5; seq++ {
		feed.items = append(feed.items, feedItem(seq, "Backlog Book", float64(seq*10)))
	}
	_, m := setupManager(t, feed, 2)

	summary, err := m.TriggerSync(context.Background())
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if summary.Pulled != 5 {
		t.Errorf("expected 5 pulled, got %+v", summary)
	}
	if summary.Cursor != 5 {
		t.Errorf("cursor = %d, want 5", summary.Cursor)
	}
	// 3 pages of data (2+2+1); the short final page ends the cycle.
	if feed.calls != 3 {
		t.Errorf("expected 3 feed pulls, got %d", feed.calls)
	}
}

// staleFeed misbehaves: it claims more pages are available but only ever
// serves items at or behind the requested sequence.
type staleFeed struct {
	items []models.KoboActivityItem
	calls int
}

func (f *staleFeed) Ping(ctx context.Context) error { return nil }

func (f *staleFeed) ActivitySince(ctx context.Context, afterSeq int64, limit int) (*models.KoboActivityPage, error) {
	f.calls++
	return &models.KoboActivityPage{Items: f.items, HasMore: true}, nil
}

func TestTriggerSync_StalePageDoesNotLoop(t *testing.T) {
	feed := &staleFeed{items: []models.KoboActivityItem{
		feedItem(3, "Annihilation", 40),
		feedItem(4, "Annihilation", 55),
	}}
	db, m := setupManager(t, feed, 10)
	ctx := context.Background()

	if _, err := db.AdvanceCursor(ctx, CursorSource, 5); err != nil {
		t.Fatalf("seeding cursor failed: %v", err)
	}

	summary, err := m.TriggerSync(ctx)
	if err != nil {
		t.Fatalf("TriggerSync failed: %v", err)
	}
	if feed.calls != 1 {
		t.Errorf("expected a single feed pull, got %d", feed.calls)
	}
	if summary.Cursor != 5 {
		t.Errorf("cursor = %d, want 5 (stale page must not move it)", summary.Cursor)
	}
}

func mustMarshal(t *testing.T, item *models.KoboActivityItem) []byte {
	t.Helper()
	payload, err := marshalItem(item)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return payload
}
