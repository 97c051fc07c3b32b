// Bibliograph - Reading Activity Ingestion and Reconciliation
// Copyright 2026 Bibliograph Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bibliograph/bibliograph

package sync

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/bibliograph/bibliograph/internal/config"
	"github.com/bibliograph/bibliograph/internal/logging"
	"github.com/bibliograph/bibliograph/internal/models"
)

// maxErrorBodySize limits how much of an error response body is read for
// diagnostics, preventing unbounded allocation on large error pages.
const maxErrorBodySize = 64 * 1024

// rate-limit retry policy for HTTP 429 responses
const (
	maxRateLimitRetries = 5
	baseRetryDelay      = time.Second
)

// KoboAPI is the pull-side activity feed contract. It is implemented by
// KoboClient for production use and by fakes in tests.
//
// All methods are safe for concurrent use.
type KoboAPI interface {
	// Ping verifies the feed endpoint is reachable and the key is accepted.
	Ping(ctx context.Context) error

	// ActivitySince returns one page of activity items with sequence
	// strictly greater than afterSeq, in ascending sequence order.
	ActivitySince(ctx context.Context, afterSeq int64, limit int) (*models.KoboActivityPage, error)
}

// KoboClient talks to a Kobo activity feed endpoint over HTTP.
type KoboClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewKoboClient builds a client from the poll configuration.
func NewKoboClient(cfg *config.KoboConfig) *KoboClient {
	return &KoboClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Ping verifies connectivity to the activity feed.
func (c *KoboClient) Ping(ctx context.Context) error {
	_, err := c.get(ctx, "/api/v1/ping", nil)
	return err
}

// ActivitySince fetches one page of the activity feed after the given
// sequence position.
func (c *KoboClient) ActivitySince(ctx context.Context, afterSeq int64, limit int) (*models.KoboActivityPage, error) {
	params := url.Values{}
	params.Set("after", strconv.FormatInt(afterSeq, 10))
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.get(ctx, "/api/v1/activity", params)
	if err != nil {
		return nil, err
	}

	var page models.KoboActivityPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("kobo activity: parsing response: %w", err)
	}
	return &page, nil
}

// get performs a GET with API key auth, retrying HTTP 429 with exponential
// backoff (1s, 2s, 4s, 8s, 16s).
func (c *KoboClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= maxRateLimitRetries; attempt++ {
		if attempt > 0 {
			delay := baseRetryDelay * time.Duration(1<<(attempt-1))
			logging.Warn().
				Str("endpoint", path).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("Kobo API rate limited, backing off")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("kobo request: %w", err)
		}
		req.Header.Set("X-API-Key", c.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("kobo request failed: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			closeBody(resp.Body)
			lastErr = fmt.Errorf("kobo API rate limited (HTTP 429)")
			continue
		}
		if resp.StatusCode != http.StatusOK {
			body := readBodyForError(resp.Body)
			closeBody(resp.Body)
			return nil, fmt.Errorf("kobo API returned HTTP %d: %s", resp.StatusCode, body)
		}

		body, err := io.ReadAll(resp.Body)
		closeBody(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("kobo response read: %w", err)
		}
		return body, nil
	}
	return nil, fmt.Errorf("kobo API retries exhausted: %w", lastErr)
}

// readBodyForError reads at most maxErrorBodySize bytes for error reporting.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("... (truncated)")...)
	}
	return body
}

func closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		logging.Debug().Err(err).Msg("Failed to close response body")
	}
}
