// Bibliograph - Reading Activity Ingestion and Reconciliation
// Copyright 2026 Bibliograph Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bibliograph/bibliograph

package models

import "time"

// EventKind identifies what a provider event describes.
//
// Providers send more kinds than we handle; unknown kinds are routed to a
// skip outcome, never an error.
type EventKind string

const (
	EventReviewUpsert  EventKind = "review.upsert"
	EventReviewRetract EventKind = "review.retract"
	EventReadProgress  EventKind = "read.progress"
	EventReadFinish    EventKind = "read.finish"
	EventShelfAdd      EventKind = "shelf.add"
)

// MediaKind identifies the medium an event applies to.
type MediaKind string

const (
	MediaBook      MediaKind = "book"
	MediaAudiobook MediaKind = "audiobook"
)

// ActivityEvent is the decoded, provider-neutral form of a ledger payload.
//
// Every provider adapter (webhook decoder, poll-page mapper) normalizes its
// wire format into this envelope before dispatch. Optional sections are nil
// when the event kind does not carry them.
//
// SourceUpdatedAt is the origin system's timestamp for the fact, not our
// arrival time. It drives the staleness guard on every fact write; a nil
// value means "no timestamp semantics, overwrite unconditionally".
type ActivityEvent struct {
	Kind      EventKind `json:"kind"`
	MediaKind MediaKind `json:"media_kind"`

	// Book identity. ISBN is preferred when the provider has one; otherwise
	// Title+Author feed the fingerprint that identifies the book.
	Title  string `json:"title"`
	Author string `json:"author"`
	ISBN   string `json:"isbn,omitempty"`

	UserID string `json:"user_id"`

	SourceUpdatedAt *time.Time `json:"source_updated_at,omitempty"`

	Review   *ReviewPayload   `json:"review,omitempty"`
	Progress *ProgressPayload `json:"progress,omitempty"`
}

// ReviewPayload carries review fields for review.* events.
//
// Pointer fields distinguish "explicitly null" (a retraction clears rating
// and body) from "not present in this update".
type ReviewPayload struct {
	Rating *float64 `json:"rating"`
	Body   *string  `json:"body"`
}

// ProgressPayload carries reading-progress fields for read.* events.
type ProgressPayload struct {
	Percent    float64    `json:"percent"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// HardcoverWebhook is the wire format Hardcover posts to the webhook
// endpoint. One webhook carries exactly one activity.
type HardcoverWebhook struct {
	Event     string     `json:"event"`      // e.g. "review.upsert"
	MediaType string     `json:"media_type"` // e.g. "book"
	UpdatedAt *time.Time `json:"updated_at"`
	Book      struct {
		Title  string `json:"title"`
		Author string `json:"author"`
		ISBN   string `json:"isbn"`
	} `json:"book"`
	User struct {
		ID string `json:"id"`
	} `json:"user"`
	Review *struct {
		Rating *float64 `json:"rating"`
		Body   *string  `json:"body"`
	} `json:"review,omitempty"`
	Read *struct {
		Percent    float64    `json:"percent"`
		StartedAt  *time.Time `json:"started_at"`
		FinishedAt *time.Time `json:"finished_at"`
	} `json:"read,omitempty"`
}

// KOReaderScrobble is the wire format the KOReader sync plugin pushes on
// each progress checkpoint.
type KOReaderScrobble struct {
	Document  string   `json:"document"` // "Title - Author" as shelved on device
	MediaType string   `json:"media_type"`
	ISBN      string   `json:"isbn,omitempty"`
	Percent   float64  `json:"percentage"`
	Device    string   `json:"device"`
	UserID    string   `json:"user"`
	Timestamp *int64   `json:"timestamp"` // unix seconds, may be absent
	Finished  bool     `json:"finished"`
	Pages     *int     `json:"pages,omitempty"`
	Progress  *float64 `json:"progress,omitempty"` // legacy field, superseded by percentage
}

// KoboActivityItem is one entry of Kobo's paginated activity feed.
// Sequence is the feed's monotonically increasing position; the sync cursor
// stores the highest sequence fully ingested.
type KoboActivityItem struct {
	Sequence  int64      `json:"sequence"`
	Event     string     `json:"event"`
	MediaType string     `json:"media_type"`
	Title     string     `json:"title"`
	Author    string     `json:"author"`
	ISBN      string     `json:"isbn,omitempty"`
	UserID    string     `json:"user_id"`
	Percent   float64    `json:"percent"`
	UpdatedAt *time.Time `json:"updated_at"`
}

// KoboActivityPage is one page of the Kobo activity feed.
type KoboActivityPage struct {
	Items   []KoboActivityItem `json:"items"`
	HasMore bool               `json:"has_more"`
}
