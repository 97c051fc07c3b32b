// Bibliograph - Reading Activity Ingestion and Reconciliation
// Copyright 2026 Bibliograph Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bibliograph/bibliograph

package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/bibliograph/bibliograph/internal/config"
	"github.com/bibliograph/bibliograph/internal/database"
	"github.com/bibliograph/bibliograph/internal/dispatch"
	"github.com/bibliograph/bibliograph/internal/enrich"
	"github.com/bibliograph/bibliograph/internal/models"
)

const testSecret = "webhook-test-secret"

func setupTestAPI(t *testing.T) (*database.DB, http.Handler) {
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

	cfg := &config.Config{
		Hardcover: config.WebhookConfig{Enabled: true, Secret: testSecret},
		KOReader:  config.WebhookConfig{Enabled: true},
		Enrichment: config.EnrichmentConfig{
			Source:    "openlibrary",
			BatchSize: 10,
			MaxTotal:  100,
		},
		Reprocess: config.ReprocessConfig{PageSize: 200},
		Security: config.SecurityConfig{
			RateLimitReqs:   1000,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
	}

	router := dispatch.NewRouter(db)
	handler := NewHandler(cfg, db, router,
		dispatch.NewReprocessor(db, router),
		enrich.NewBackfill(&cfg.Enrichment, db, stubEditions{}),
		nil)
	return db, NewRouter(cfg, handler)
}

type stubEditions struct{}

func (stubEditions) LookupEdition(ctx context.Context, book *models.Book) (*models.Edition, error) {
	return nil, enrich.ErrNoMatch
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func doRequest(t *testing.T, h http.Handler, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) *APIResponse {
	t.Helper()
	var resp APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return &resp
}

const hardcoverBody = `{
	"event": "review.upsert",
	"media_type": "book",
	"updated_at": "2026-04-01T12:00:00Z",
	"book": {"title": "The Left Hand of Darkness", "author": "Ursula K. Le Guin"},
	"user": {"id": "u1"},
	"review": {"rating": 5}
}`

func TestWebhook_AcceptsAndDispatches(t *testing.T) {
	db, h := setupTestAPI(t)
	body := []byte(hardcoverBody)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/webhooks/hardcover", body,
		map[string]string{signatureHeader: sign(body)})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	if !resp.Success {
		t.Fatalf("expected success envelope, got %+v", resp)
	}

	data := resp.Data.(map[string]interface{})
	if data["outcome"] != "applied" {
		t.Errorf("outcome = %v", data["outcome"])
	}

	entryID := int64(data["entry_id"].(float64))
	entry, err := db.GetEventByID(context.Background(), entryID)
	if err != nil {
		t.Fatalf("entry not recorded: %v", err)
	}
	if entry.Status != models.EventProcessed {
		t.Errorf("entry status = %s, want PROCESSED", entry.Status)
	}
}

func TestWebhook_RedeliveryIsAcknowledgedOnce(t *testing.T) {
	db, h := setupTestAPI(t)
	body := []byte(hardcoverBody)
	headers := map[string]string{signatureHeader: sign(body)}

	first := doRequest(t, h, http.MethodPost, "/api/v1/webhooks/hardcover", body, headers)
	if first.Code != http.StatusAccepted {
		t.Fatalf("first delivery status = %d", first.Code)
	}

	second := doRequest(t, h, http.MethodPost, "/api/v1/webhooks/hardcover", body, headers)
	if second.Code != http.StatusOK {
		t.Fatalf("redelivery status = %d, want 200", second.Code)
	}
	data := decodeResponse(t, second).Data.(map[string]interface{})
	if data["duplicate"] != true {
		t.Errorf("redelivery should report duplicate, got %v", data)
	}

	counts, err := db.CountEventsByStatus(context.Background())
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	var total int64
	for _, n := range counts {
		total += n
	}
	if total != 1 {
		t.Errorf("redelivery must not create a second entry, got %d", total)
	}
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	_, h := setupTestAPI(t)
	body := []byte(hardcoverBody)

	missing := doRequest(t, h, http.MethodPost, "/api/v1/webhooks/hardcover", body, nil)
	if missing.Code != http.StatusUnauthorized {
		t.Errorf("missing signature status = %d, want 401", missing.Code)
	}

	wrong := doRequest(t, h, http.MethodPost, "/api/v1/webhooks/hardcover", body,
		map[string]string{signatureHeader: "deadbeef"})
	if wrong.Code != http.StatusUnauthorized {
		t.Errorf("bad signature status = %d, want 401", wrong.Code)
	}
}

func TestWebhook_UnknownProvider(t *testing.T) {
	_, h := setupTestAPI(t)
	rec := doRequest(t, h, http.MethodPost, "/api/v1/webhooks/goodreads", []byte(`{}`), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestWebhook_MalformedPayloadIsStillRecorded(t *testing.T) {
	// Ingestion is interpretation-free: bytes that fail to decode are
	// accepted, recorded, and marked FAILED by dispatch.
	db, h := setupTestAPI(t)
	body := []byte(`not json at all`)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/webhooks/koreader", body, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	data := decodeResponse(t, rec).Data.(map[string]interface{})
	if data["outcome"] != "failed" {
		t.Errorf("outcome = %v, want failed", data["outcome"])
	}

	entryID := int64(data["entry_id"].(float64))
	entry, err := db.GetEventByID(context.Background(), entryID)
	if err != nil {
		t.Fatalf("malformed payload must still be recorded: %v", err)
	}
	if entry.Status != models.EventFailed {
		t.Errorf("entry status = %s, want FAILED", entry.Status)
	}
}

func TestReprocessEndpoint_ReplaysFailedEntries(t *testing.T) {
	_, h := setupTestAPI(t)

	// Seed two entries that fail dispatch (unsupported media kind).
	for _, doc := range []string{"Saga Vol 1 - BKV", "Saga Vol 2 - BKV"} {
		body := []byte(`{"document": "` + doc + `", "media_type": "comic", "percentage": 10, "user": "u1"}`)
		rec := doRequest(t, h, http.MethodPost, "/api/v1/webhooks/koreader", body, nil)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("seed status = %d", rec.Code)
		}
	}

	body := []byte(`{"statuses": ["FAILED"], "page_size": 10}`)
	rec := doRequest(t, h, http.MethodPost, "/api/v1/admin/reprocess", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	data := decodeResponse(t, rec).Data.(map[string]interface{})
	if data["total"].(float64) != 2 {
		t.Errorf("expected 2 entries replayed, got %v", data)
	}
	if data["skipped"].(float64) != 2 {
		t.Errorf("unsupported entries should skip again, got %v", data)
	}
}

func TestReprocessEndpoint_RejectsInvalidStatus(t *testing.T) {
	_, h := setupTestAPI(t)
	rec := doRequest(t, h, http.MethodPost, "/api/v1/admin/reprocess",
		[]byte(`{"statuses": ["BOGUS"]}`), nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestListEvents_FiltersAndPaginates(t *testing.T) {
	_, h := setupTestAPI(t)

	body := []byte(hardcoverBody)
	doRequest(t, h, http.MethodPost, "/api/v1/webhooks/hardcover", body,
		map[string]string{signatureHeader: sign(body)})
	doRequest(t, h, http.MethodPost, "/api/v1/webhooks/koreader",
		[]byte(`{"document": "Solaris - Lem", "percentage": 30, "user": "u1"}`), nil)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/events?provider=hardcover", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	entries := resp.Data.([]interface{})
	if len(entries) != 1 {
		t.Errorf("provider filter should return 1 entry, got %d", len(entries))
	}
	if resp.Meta.Pagination == nil || resp.Meta.Pagination.Count != 1 {
		t.Errorf("pagination meta missing or wrong: %+v", resp.Meta)
	}

	stats := doRequest(t, h, http.MethodGet, "/api/v1/events/stats", nil, nil)
	if stats.Code != http.StatusOK {
		t.Fatalf("stats status = %d", stats.Code)
	}
}

func TestGetEvent_NotFound(t *testing.T) {
	_, h := setupTestAPI(t)
	rec := doRequest(t, h, http.MethodGet, "/api/v1/events/12345", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestForceEnrichment(t *testing.T) {
	db, h := setupTestAPI(t)

	missing := doRequest(t, h, http.MethodPost, "/api/v1/admin/enrichment/999/force", nil, nil)
	if missing.Code != http.StatusNotFound {
		t.Errorf("unknown book status = %d, want 404", missing.Code)
	}

	book, err := db.EnsureBook(context.Background(), "Solaris", "Stanislaw Lem", "")
	if err != nil {
		t.Fatalf("seed book failed: %v", err)
	}
	rec := doRequest(t, h, http.MethodPost,
		"/api/v1/admin/enrichment/"+strconv.FormatInt(book.ID, 10)+"/force", nil, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	state, err := db.GetEnrichmentState(context.Background(), book.ID, "openlibrary")
	if err != nil {
		t.Fatalf("state read failed: %v", err)
	}
	if !state.ForceNext {
		t.Error("force flag should be set")
	}
}

func TestTriggerSync_UnavailableWhenDisabled(t *testing.T) {
	_, h := setupTestAPI(t)
	rec := doRequest(t, h, http.MethodPost, "/api/v1/admin/sync", nil, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	_, h := setupTestAPI(t)
	rec := doRequest(t, h, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header should be set")
	}
}
