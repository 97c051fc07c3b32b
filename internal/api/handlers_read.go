// Bibliograph - Reading Activity Ingestion and Reconciliation
// Copyright 2026 Bibliograph Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bibliograph/bibliograph

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bibliograph/bibliograph/internal/database"
	"github.com/bibliograph/bibliograph/internal/models"
)

// maxListPageSize caps events list pages.
const maxListPageSize = 1000

// ListEvents returns a keyset-paginated, optionally filtered slice of the
// ledger. Pass the response's next_after_id as after_id to continue.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	rw, ctx := NewResponseWriter(w, r), r.Context()
	q := r.URL.Query()

	filter := database.EventPageFilter{
		Provider: q.Get("provider"),
		PageSize: 100,
	}
	for _, s := range q["status"] {
		status := models.EventStatus(s)
		if !status.Valid() {
			rw.Error(http.StatusBadRequest, ErrCodeValidationFailed, "invalid status: "+s)
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	if raw := q.Get("after_id"); raw != "" {
		afterID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || afterID < 0 {
			rw.BadRequest("invalid after_id")
			return
		}
		filter.AfterID = afterID
	}
	if raw := q.Get("page_size"); raw != "" {
		pageSize, err := strconv.Atoi(raw)
		if err != nil || pageSize < 1 || pageSize > maxListPageSize {
			rw.BadRequest("page_size must be between 1 and 1000")
			return
		}
		filter.PageSize = pageSize
	}

	page, err := h.db.ListEventsPage(ctx, filter)
	if err != nil {
		rw.InternalError("failed to list events")
		return
	}

	pagination := &PaginationMeta{
		Count:    len(page),
		PageSize: filter.PageSize,
		HasMore:  len(page) == filter.PageSize,
	}
	if len(page) > 0 {
		pagination.NextAfterID = page[len(page)-1].ID
	}
	rw.SuccessWithPagination(page, pagination)
}

// GetEvent returns one ledger entry by id.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	rw, ctx := NewResponseWriter(w, r), r.Context()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		rw.BadRequest("invalid entry id")
		return
	}

	entry, err := h.db.GetEventByID(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrEventNotFound) {
			rw.NotFound("no ledger entry with id " + strconv.FormatInt(id, 10))
			return
		}
		rw.InternalError("failed to load entry")
		return
	}
	rw.Success(entry)
}

// EventStats returns ledger entry counts by status.
func (h *Handler) EventStats(w http.ResponseWriter, r *http.Request) {
	rw, ctx := NewResponseWriter(w, r), r.Context()

	counts, err := h.db.CountEventsByStatus(ctx)
	if err != nil {
		rw.InternalError("failed to count events")
		return
	}
	rw.Success(counts)
}

// GetCursor returns the sync cursor for a poll source.
func (h *Handler) GetCursor(w http.ResponseWriter, r *http.Request) {
	rw, ctx := NewResponseWriter(w, r), r.Context()

	cursor, err := h.db.GetOrCreateCursor(ctx, chi.URLParam(r, "source"))
	if err != nil {
		rw.InternalError("failed to load cursor")
		return
	}
	rw.Success(cursor)
}

// GetBook returns a book with its edition metadata and enrichment state.
func (h *Handler) GetBook(w http.ResponseWriter, r *http.Request) {
	rw, ctx := NewResponseWriter(w, r), r.Context()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		rw.BadRequest("invalid book id")
		return
	}

	book, err := h.db.GetBookByID(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrBookNotFound) {
			rw.NotFound("no book with id " + strconv.FormatInt(id, 10))
			return
		}
		rw.InternalError("failed to load book")
		return
	}

	edition, err := h.db.GetEdition(ctx, id)
	if err != nil {
		rw.InternalError("failed to load edition")
		return
	}
	state, err := h.db.GetEnrichmentState(ctx, id, h.cfg.Enrichment.Source)
	if err != nil {
		rw.InternalError("failed to load enrichment state")
		return
	}

	rw.Success(map[string]interface{}{
		"book":       book,
		"edition":    edition,
		"enrichment": state,
	})
}

// EnrichmentBacklog reports how many books still await enrichment.
func (h *Handler) EnrichmentBacklog(w http.ResponseWriter, r *http.Request) {
	rw, ctx := NewResponseWriter(w, r), r.Context()

	backlog, err := h.db.CountEnrichmentBacklog(ctx, h.cfg.Enrichment.Source)
	if err != nil {
		rw.InternalError("failed to count backlog")
		return
	}
	rw.Success(map[string]interface{}{
		"source":  h.cfg.Enrichment.Source,
		"backlog": backlog,
	})
}
