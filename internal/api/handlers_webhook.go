// Bibliograph - Reading Activity Ingestion and Reconciliation
// Copyright 2026 Bibliograph Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bibliograph/bibliograph

package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bibliograph/bibliograph/internal/dispatch"
	"github.com/bibliograph/bibliograph/internal/logging"
	"github.com/bibliograph/bibliograph/internal/metrics"
)

// maxWebhookBody caps webhook payload size at 1MB.
const maxWebhookBody = 1 << 20

// signatureHeader carries the hex HMAC-SHA256 of the raw body.
const signatureHeader = "X-Bibliograph-Signature"

// webhookReceipt is the response body for an accepted webhook.
type webhookReceipt struct {
	EntryID   int64  `json:"entry_id"`
	Duplicate bool   `json:"duplicate"`
	Outcome   string `json:"outcome"`
	Reason    string `json:"reason,omitempty"`
}

// Webhook accepts one push-provider event. The raw body is recorded in the
// ledger before any interpretation; redelivery of the same bytes is
// acknowledged without creating a second entry. Dispatch runs inline after
// ingest, but a dispatch failure still returns 202: the entry is durable
// and replayable, which is all the provider needs to know.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	rw, ctx := NewResponseWriter(w, r), r.Context()
	provider := chi.URLParam(r, "provider")

	var secret string
	switch provider {
	case dispatch.ProviderHardcover:
		if !h.cfg.Hardcover.Enabled {
			rw.NotFound("hardcover webhooks are not enabled")
			return
		}
		secret = h.cfg.Hardcover.Secret
	case dispatch.ProviderKOReader:
		if !h.cfg.KOReader.Enabled {
			rw.NotFound("koreader webhooks are not enabled")
			return
		}
		secret = h.cfg.KOReader.Secret
	default:
		rw.NotFound("unknown webhook provider: " + provider)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		rw.BadRequest("failed to read request body")
		return
	}
	if len(body) > maxWebhookBody {
		rw.Error(http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "payload exceeds 1MB")
		return
	}
	if len(body) == 0 {
		rw.BadRequest("empty payload")
		return
	}

	if secret != "" {
		signature := r.Header.Get(signatureHeader)
		if signature == "" {
			rw.Unauthorized(signatureHeader + " header required")
			return
		}
		if !verifySignature(body, signature, secret) {
			logging.Ctx(ctx).Warn().Str("provider", provider).Msg("Webhook signature verification failed")
			rw.Unauthorized("signature verification failed")
			return
		}
	}

	res, err := h.db.IngestEvent(ctx, provider, body)
	metrics.RecordIngest(provider, res != nil && res.Inserted, err)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("provider", provider).Msg("Webhook ingest failed")
		rw.InternalError("failed to record event")
		return
	}

	receipt := webhookReceipt{EntryID: res.EntryID, Duplicate: !res.Inserted}
	if !res.Inserted {
		// Redelivery: the original entry already went through dispatch.
		receipt.Outcome = "duplicate"
		rw.Success(receipt)
		return
	}

	entry, err := h.db.GetEventByID(ctx, res.EntryID)
	if err != nil {
		// The entry is durable; reprocess will pick it up.
		logging.Ctx(ctx).Error().Err(err).Int64("entry_id", res.EntryID).Msg("Webhook entry readback failed")
		receipt.Outcome = "pending"
		rw.Accepted(receipt)
		return
	}

	outcome := h.router.Process(ctx, entry)
	receipt.Outcome = string(outcome.Kind)
	if outcome.Kind != dispatch.OutcomeApplied {
		receipt.Reason = outcome.String()
	}
	rw.Accepted(receipt)
}

func verifySignature(body []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}
