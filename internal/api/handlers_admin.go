// Bibliograph - Reading Activity Ingestion and Reconciliation
// Copyright 2026 Bibliograph Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bibliograph/bibliograph

package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/bibliograph/bibliograph/internal/database"
	"github.com/bibliograph/bibliograph/internal/dispatch"
	"github.com/bibliograph/bibliograph/internal/logging"
	"github.com/bibliograph/bibliograph/internal/models"
)

// reprocessRequest is the body of POST /admin/reprocess. All fields are
// optional; the zero value replays the whole ledger from the start with the
// configured default page size.
type reprocessRequest struct {
	Statuses      []string `json:"statuses,omitempty"`
	Provider      string   `json:"provider,omitempty"`
	PageSize      int      `json:"page_size,omitempty"`
	ResumeAfterID int64    `json:"resume_after_id,omitempty"`
}

// Reprocess runs a resumable replay over matching ledger entries and
// returns the run summary, whose last_id is the resume cursor for a
// follow-up call.
func (h *Handler) Reprocess(w http.ResponseWriter, r *http.Request) {
	rw, ctx := NewResponseWriter(w, r), r.Context()

	var req reprocessRequest
	if err := decodeBody(r, &req); err != nil {
		rw.BadRequest(err.Error())
		return
	}

	filter := dispatch.ReprocessFilter{Provider: req.Provider}
	for _, s := range req.Statuses {
		status := models.EventStatus(s)
		if !status.Valid() {
			rw.Error(http.StatusBadRequest, ErrCodeValidationFailed, "invalid status: "+s)
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	pageSize := req.PageSize
	if pageSize == 0 {
		pageSize = h.cfg.Reprocess.PageSize
	}

	summary, err := h.reprocessor.Run(ctx, filter, pageSize, req.ResumeAfterID)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Reprocess run failed")
		if summary != nil {
			// Partial progress: return the summary so the caller can resume.
			rw.writeJSON(http.StatusInternalServerError, APIResponse{
				Success: false,
				Data:    summary,
				Error:   &APIError{Code: ErrCodeInternalError, Message: err.Error()},
				Meta:    rw.meta(),
			})
			return
		}
		rw.BadRequest(err.Error())
		return
	}
	rw.Success(summary)
}

// ReprocessByID re-dispatches one ledger entry.
func (h *Handler) ReprocessByID(w http.ResponseWriter, r *http.Request) {
	rw, ctx := NewResponseWriter(w, r), r.Context()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		rw.BadRequest("invalid entry id")
		return
	}

	outcome, err := h.reprocessor.ReprocessByID(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrEventNotFound) {
			rw.NotFound("no ledger entry with id " + strconv.FormatInt(id, 10))
			return
		}
		logging.Ctx(ctx).Error().Err(err).Int64("entry_id", id).Msg("Reprocess by id failed")
		rw.InternalError("failed to reprocess entry")
		return
	}

	entry, err := h.db.GetEventByID(ctx, id)
	if err != nil {
		rw.InternalError("failed to load entry after reprocess")
		return
	}
	rw.Success(map[string]interface{}{
		"entry_id": id,
		"outcome":  string(outcome.Kind),
		"detail":   outcome.String(),
		"status":   entry.Status,
	})
}

// TriggerSync runs one Kobo poll cycle immediately.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	rw, ctx := NewResponseWriter(w, r), r.Context()

	if h.syncManager == nil {
		rw.Error(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "kobo polling is not enabled")
		return
	}

	summary, err := h.syncManager.TriggerSync(ctx)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Manual sync failed")
		rw.Error(http.StatusBadGateway, ErrCodeServiceUnavailable, err.Error())
		return
	}
	rw.Success(summary)
}

// TriggerBackfill drains the enrichment backlog once.
func (h *Handler) TriggerBackfill(w http.ResponseWriter, r *http.Request) {
	rw, ctx := NewResponseWriter(w, r), r.Context()

	if h.backfill == nil {
		rw.Error(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "enrichment is not enabled")
		return
	}

	summary, err := h.backfill.Drain(ctx)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Backfill drain failed")
		rw.InternalError(err.Error())
		return
	}
	rw.Success(summary)
}

// ForceEnrichment flags one book for recomputation on the next drain
// without erasing its enrichment history.
func (h *Handler) ForceEnrichment(w http.ResponseWriter, r *http.Request) {
	rw, ctx := NewResponseWriter(w, r), r.Context()

	bookID, err := strconv.ParseInt(chi.URLParam(r, "bookID"), 10, 64)
	if err != nil {
		rw.BadRequest("invalid book id")
		return
	}

	if _, err := h.db.GetBookByID(ctx, bookID); err != nil {
		if errors.Is(err, database.ErrBookNotFound) {
			rw.NotFound("no book with id " + strconv.FormatInt(bookID, 10))
			return
		}
		rw.InternalError("failed to load book")
		return
	}

	if err := h.db.ForceEnrichment(ctx, bookID, h.cfg.Enrichment.Source); err != nil {
		logging.Ctx(ctx).Error().Err(err).Int64("book_id", bookID).Msg("Force enrichment failed")
		rw.InternalError("failed to flag book for enrichment")
		return
	}
	rw.Accepted(map[string]interface{}{
		"book_id": bookID,
		"source":  h.cfg.Enrichment.Source,
		"forced":  true,
	})
}

// decodeBody parses an optional JSON request body into dst. An empty body
// leaves dst at its zero value.
func decodeBody(r *http.Request, dst interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		return errors.New("failed to read request body")
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return errors.New("malformed JSON body")
	}
	return nil
}
