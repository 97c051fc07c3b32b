// Bibliograph - Reading Activity Ingestion and Reconciliation
// Copyright 2026 Bibliograph Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bibliograph/bibliograph

package database

import (
	"context"
	"fmt"
	"testing"

	"github.com/bibliograph/bibliograph/internal/models"
)

const testSource = "openlibrary"

func seedBooks(t *testing.T, db *DB, n int) []int64 {
	t.Helper()
	ctx := context.Background()
	var ids []int64
	for i := 0; i < n; i++ {
		b, err := db.EnsureBook(ctx, fmt.Sprintf("Book %d", i), "Author", "")
		if err != nil {
			t.Fatalf("EnsureBook failed: %v", err)
		}
		ids = append(ids, b.ID)
	}
	return ids
}

func TestListEnrichmentEligible_NewBooksEligible(t *testing.T) {
	db := setupTestDB(t)
	ids := seedBooks(t, db, 3)

	books, err := db.ListEnrichmentEligible(context.Background(), testSource, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(books) != 3 {
		t.Fatalf("expected 3 eligible books, got %d", len(books))
	}
	for i, b := range books {
		if b.ID != ids[i] {
			t.Errorf("eligible books must be ordered by id: %v", books)
		}
	}
}

func TestEnrichmentState_DoneExcludesFailedRetries(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	ids := seedBooks(t, db, 3)

	if err := db.MarkEnrichmentDone(ctx, ids[0], testSource); err != nil {
		t.Fatalf("mark done failed: %v", err)
	}
	if err := db.MarkEnrichmentFailed(ctx, ids[1], testSource); err != nil {
		t.Fatalf("mark failed failed: %v", err)
	}

	books, err := db.ListEnrichmentEligible(ctx, testSource, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	// DONE drops out; FAILED and never-seen stay eligible.
	if len(books) != 2 {
		t.Fatalf("expected 2 eligible, got %d", len(books))
	}
	if books[0].ID != ids[1] || books[1].ID != ids[2] {
		t.Errorf("unexpected eligible set: %v, %v", books[0].ID, books[1].ID)
	}
}

func TestForceEnrichment_ReeligibleWithoutHistoryLoss(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	ids := seedBooks(t, db, 1)

	if err := db.MarkEnrichmentDone(ctx, ids[0], testSource); err != nil {
		t.Fatalf("mark done failed: %v", err)
	}
	books, err := db.ListEnrichmentEligible(ctx, testSource, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(books) != 0 {
		t.Fatal("DONE book should not be eligible")
	}

	if err := db.ForceEnrichment(ctx, ids[0], testSource); err != nil {
		t.Fatalf("force failed: %v", err)
	}

	state, err := db.GetEnrichmentState(ctx, ids[0], testSource)
	if err != nil {
		t.Fatalf("get state failed: %v", err)
	}
	if state.Status != models.EnrichmentDone || !state.ForceNext {
		t.Errorf("force must keep DONE history and set force_next, got %+v", state)
	}

	books, err = db.ListEnrichmentEligible(ctx, testSource, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(books) != 1 {
		t.Fatal("forced book should be eligible again")
	}

	// A successful sweep clears the force flag.
	if err := db.MarkEnrichmentDone(ctx, ids[0], testSource); err != nil {
		t.Fatalf("mark done failed: %v", err)
	}
	state, err = db.GetEnrichmentState(ctx, ids[0], testSource)
	if err != nil {
		t.Fatalf("get state failed: %v", err)
	}
	if state.ForceNext {
		t.Error("force_next must clear after a successful enrichment")
	}
}

func TestGetEnrichmentState_AbsentIsNever(t *testing.T) {
	db := setupTestDB(t)
	ids := seedBooks(t, db, 1)

	state, err := db.GetEnrichmentState(context.Background(), ids[0], testSource)
	if err != nil {
		t.Fatalf("get state failed: %v", err)
	}
	if state.Status != models.EnrichmentNever {
		t.Errorf("absent state should read as NEVER, got %s", state.Status)
	}
}

func TestCountEnrichmentBacklog(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	ids := seedBooks(t, db, 4)

	if err := db.MarkEnrichmentDone(ctx, ids[0], testSource); err != nil {
		t.Fatalf("mark done failed: %v", err)
	}

	n, err := db.CountEnrichmentBacklog(ctx, testSource)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected backlog 3, got %d", n)
	}
}
