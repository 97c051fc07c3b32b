// Bibliograph - Reading Activity Ingestion and Reconciliation
// Copyright 2026 Bibliograph Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bibliograph/bibliograph

package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/bibliograph/bibliograph/internal/models"
)

// Decoder turns a provider's raw ledger payload into the provider-neutral
// event envelope. A decode error marks the entry FAILED (malformed payload,
// operator-retryable); ingest never inspects the bytes.
type Decoder func(rawPayload []byte) (*models.ActivityEvent, error)

// Providers known to the dispatcher.
const (
	ProviderHardcover = "hardcover"
	ProviderKOReader  = "koreader"
	ProviderKobo      = "kobo"
)

// defaultDecoders returns the provider decode table.
func defaultDecoders() map[string]Decoder {
	return map[string]Decoder{
		ProviderHardcover: decodeHardcover,
		ProviderKOReader:  decodeKOReader,
		ProviderKobo:      decodeKobo,
	}
}

func decodeHardcover(rawPayload []byte) (*models.ActivityEvent, error) {
	var wh models.HardcoverWebhook
	if err := json.Unmarshal(rawPayload, &wh); err != nil {
		return nil, fmt.Errorf("malformed hardcover payload: %w", err)
	}
	if wh.Book.Title == "" {
		return nil, fmt.Errorf("malformed hardcover payload: missing book title")
	}

	ev := &models.ActivityEvent{
		Kind:            models.EventKind(wh.Event),
		MediaKind:       models.MediaKind(wh.MediaType),
		Title:           wh.Book.Title,
		Author:          wh.Book.Author,
		ISBN:            wh.Book.ISBN,
		UserID:          wh.User.ID,
		SourceUpdatedAt: wh.UpdatedAt,
	}
	if wh.Review != nil {
		ev.Review = &models.ReviewPayload{Rating: wh.Review.Rating, Body: wh.Review.Body}
	}
	if wh.Read != nil {
		ev.Progress = &models.ProgressPayload{
			Percent:    wh.Read.Percent,
			StartedAt:  wh.Read.StartedAt,
			FinishedAt: wh.Read.FinishedAt,
		}
	}
	return ev, nil
}

func decodeKOReader(rawPayload []byte) (*models.ActivityEvent, error) {
	var sc models.KOReaderScrobble
	if err := json.Unmarshal(rawPayload, &sc); err != nil {
		return nil, fmt.Errorf("malformed koreader payload: %w", err)
	}
	if sc.Document == "" {
		return nil, fmt.Errorf("malformed koreader payload: missing document")
	}

	// KOReader shelves documents as "Title - Author"; a document without
	// the separator is all title.
	title, author := sc.Document, ""
	if idx := strings.LastIndex(sc.Document, " - "); idx > 0 {
		title, author = sc.Document[:idx], sc.Document[idx+3:]
	}

	media := models.MediaKind(sc.MediaType)
	if sc.MediaType == "" {
		media = models.MediaBook
	}

	kind := models.EventReadProgress
	if sc.Finished {
		kind = models.EventReadFinish
	}

	var sourceUpdatedAt *time.Time
	if sc.Timestamp != nil {
		t := time.Unix(*sc.Timestamp, 0).UTC()
		sourceUpdatedAt = &t
	}

	percent := sc.Percent
	if percent == 0 && sc.Progress != nil {
		percent = *sc.Progress * 100 // legacy 0-1 fraction
	}

	ev := &models.ActivityEvent{
		Kind:            kind,
		MediaKind:       media,
		Title:           title,
		Author:          author,
		ISBN:            sc.ISBN,
		UserID:          sc.UserID,
		SourceUpdatedAt: sourceUpdatedAt,
		Progress:        &models.ProgressPayload{Percent: percent},
	}
	if sc.Finished {
		ev.Progress.Percent = 100
		ev.Progress.FinishedAt = sourceUpdatedAt
	}
	return ev, nil
}

func decodeKobo(rawPayload []byte) (*models.ActivityEvent, error) {
	var item models.KoboActivityItem
	if err := json.Unmarshal(rawPayload, &item); err != nil {
		return nil, fmt.Errorf("malformed kobo payload: %w", err)
	}
	if item.Title == "" {
		return nil, fmt.Errorf("malformed kobo payload: missing title")
	}

	ev := &models.ActivityEvent{
		Kind:            models.EventKind(item.Event),
		MediaKind:       models.MediaKind(item.MediaType),
		Title:           item.Title,
		Author:          item.Author,
		ISBN:            item.ISBN,
		UserID:          item.UserID,
		SourceUpdatedAt: item.UpdatedAt,
		Progress:        &models.ProgressPayload{Percent: item.Percent},
	}
	if ev.Kind == models.EventReadFinish {
		ev.Progress.Percent = 100
		ev.Progress.FinishedAt = item.UpdatedAt
	}
	return ev, nil
}
