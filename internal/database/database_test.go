// Bibliograph - Reading Activity Ingestion and Reconciliation
// Copyright 2026 Bibliograph Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bibliograph/bibliograph

package database

import (
	"context"
	"testing"

	"github.com/bibliograph/bibliograph/internal/config"
	"github.com/bibliograph/bibliograph/internal/models"
)

// setupTestDB creates an isolated in-memory database per test.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(&config.DatabaseConfig{
		Path:      ":memory:",
		MaxMemory: "512MB",
	})
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close test database: %v", err)
		}
	})
	return db
}

func TestIngestEvent_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	payload := []byte(`{"event":"read.progress","percentage":42}`)

	first, err := db.IngestEvent(ctx, "koreader", payload)
	if err != nil {
		t.Fatalf("first ingest failed: %v", err)
	}
	if !first.Inserted {
		t.Error("first ingest should report inserted=true")
	}

	second, err := db.IngestEvent(ctx, "koreader", payload)
	if err != nil {
		t.Fatalf("second ingest failed: %v", err)
	}
	if second.Inserted {
		t.Error("byte-identical resend should report inserted=false")
	}
	if second.EntryID != first.EntryID {
		t.Errorf("duplicate should reference existing entry %d, got %d", first.EntryID, second.EntryID)
	}

	counts, err := db.CountEventsByStatus(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if counts[models.EventPending] != 1 {
		t.Errorf("expected exactly one PENDING row, got %d", counts[models.EventPending])
	}
}

func TestIngestEvent_SamePayloadDifferentProviders(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	payload := []byte(`{"event":"shelf.add"}`)

	a, err := db.IngestEvent(ctx, "hardcover", payload)
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	b, err := db.IngestEvent(ctx, "koreader", payload)
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if !a.Inserted || !b.Inserted {
		t.Error("identical payloads from different providers are distinct events")
	}
}

func TestMarkEvent_Transitions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	res, err := db.IngestEvent(ctx, "hardcover", []byte(`{"n":1}`))
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	ok, err := db.MarkEventFailed(ctx, res.EntryID, "handler exploded")
	if err != nil || !ok {
		t.Fatalf("MarkEventFailed = (%v, %v), want (true, nil)", ok, err)
	}

	entry, err := db.GetEventByID(ctx, res.EntryID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if entry.Status != models.EventFailed {
		t.Errorf("expected FAILED, got %s", entry.Status)
	}
	if entry.FailureReason == nil || *entry.FailureReason != "handler exploded" {
		t.Errorf("failure reason not recorded: %v", entry.FailureReason)
	}

	// FAILED entries retry the same terminal transition directly.
	ok, err = db.MarkEventProcessed(ctx, res.EntryID)
	if err != nil || !ok {
		t.Fatalf("MarkEventProcessed from FAILED = (%v, %v), want (true, nil)", ok, err)
	}
	entry, err = db.GetEventByID(ctx, res.EntryID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if entry.Status != models.EventProcessed {
		t.Errorf("expected PROCESSED, got %s", entry.Status)
	}
	if entry.FailureReason != nil {
		t.Error("failure reason should clear on success")
	}

	// PROCESSED is terminal: no further transitions.
	ok, err = db.MarkEventFailed(ctx, res.EntryID, "late failure")
	if err != nil {
		t.Fatalf("MarkEventFailed errored: %v", err)
	}
	if ok {
		t.Error("PROCESSED entry must not transition back to FAILED")
	}
}

func TestMarkEvent_UnknownID(t *testing.T) {
	db := setupTestDB(t)

	ok, err := db.MarkEventProcessed(context.Background(), 99999)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("marking a nonexistent entry should report false")
	}
}

func TestGetEventByID_NotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.GetEventByID(context.Background(), 42)
	if err != ErrEventNotFound {
		t.Errorf("expected ErrEventNotFound, got %v", err)
	}
}

func TestListEventsPage_Keyset(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 5; i++ {
		res, err := db.IngestEvent(ctx, "hardcover", []byte{byte('a' + i)})
		if err != nil {
			t.Fatalf("ingest failed: %v", err)
		}
		ids = append(ids, res.EntryID)
	}

	// Walk in pages of 2, carrying the cursor forward.
	var seen []int64
	afterID := int64(0)
	for {
		page, err := db.ListEventsPage(ctx, EventPageFilter{
			Statuses: []models.EventStatus{models.EventPending},
			AfterID:  afterID,
			PageSize: 2,
		})
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(page) == 0 {
			break
		}
		for _, e := range page {
			if e.ID <= afterID {
				t.Errorf("page returned id %d not after cursor %d", e.ID, afterID)
			}
			seen = append(seen, e.ID)
		}
		afterID = page[len(page)-1].ID
	}

	if len(seen) != len(ids) {
		t.Fatalf("expected %d entries across pages, saw %d", len(ids), len(seen))
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] <= seen[i-1] {
			t.Errorf("ids not strictly ascending: %v", seen)
		}
	}
}

func TestListEventsPage_FilterByProvider(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if _, err := db.IngestEvent(ctx, "hardcover", []byte("x")); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if _, err := db.IngestEvent(ctx, "kobo", []byte("y")); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	page, err := db.ListEventsPage(ctx, EventPageFilter{
		Provider: "kobo",
		PageSize: 10,
	})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(page) != 1 || page[0].Provider != "kobo" {
		t.Errorf("provider filter returned wrong rows: %+v", page)
	}
}

func TestListEventsPage_RejectsZeroPageSize(t *testing.T) {
	db := setupTestDB(t)

	if _, err := db.ListEventsPage(context.Background(), EventPageFilter{}); err == nil {
		t.Error("expected error for zero page size")
	}
}
