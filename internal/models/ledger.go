// Bibliograph - Reading Activity Ingestion and Reconciliation
// Copyright 2026 Bibliograph Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bibliograph/bibliograph

// Package models defines data structures used throughout Bibliograph:
// ledger entries, typed provider events, fact records, and sync state.
package models

import "time"

// EventStatus is the processing state of a ledger entry.
//
// The set is closed: every consumer switches exhaustively over these three
// values and treats anything else as corruption.
type EventStatus string

const (
	// EventPending marks an entry recorded but not yet dispatched.
	EventPending EventStatus = "PENDING"

	// EventProcessed marks an entry whose handler applied its facts.
	EventProcessed EventStatus = "PROCESSED"

	// EventFailed marks an entry whose dispatch failed. Failed entries stay
	// in the ledger and remain eligible for reprocessing.
	EventFailed EventStatus = "FAILED"
)

// Valid reports whether s is a known status value.
func (s EventStatus) Valid() bool {
	switch s {
	case EventPending, EventProcessed, EventFailed:
		return true
	}
	return false
}

// LedgerEntry is one raw inbound event as recorded by the event ledger.
//
// Entries are append-only: status is the only mutable column, and rows are
// never deleted (audit trail). Uniqueness on (Provider, Fingerprint) makes
// ingestion idempotent - a byte-identical resend is rejected at insert time.
type LedgerEntry struct {
	ID          int64       `json:"id"`
	Provider    string      `json:"provider"`
	RawPayload  []byte      `json:"raw_payload,omitempty"`
	Fingerprint string      `json:"fingerprint"`
	Status      EventStatus `json:"status"`
	// FailureReason holds the last dispatch error for FAILED entries.
	FailureReason *string   `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// IngestResult reports the outcome of recording a payload in the ledger.
type IngestResult struct {
	// Inserted is false when the payload was already present and the call
	// was an idempotent no-op.
	Inserted bool  `json:"inserted"`
	EntryID  int64 `json:"entry_id"`
}

// SyncCursor is the monotonic progress marker for one pull-based source.
//
// Position never decreases: an advance to a position at or below the current
// one is a no-op, so replaying an already-seen page cannot regress progress.
type SyncCursor struct {
	Source    string    `json:"source"`
	Position  int64     `json:"position"`
	UpdatedAt time.Time `json:"updated_at"`
}
