// Bibliograph - Reading Activity Ingestion and Reconciliation
// Copyright 2026 Bibliograph Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bibliograph/bibliograph

package enrich

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/bibliograph/bibliograph/internal/config"
	"github.com/bibliograph/bibliograph/internal/logging"
	"github.com/bibliograph/bibliograph/internal/metrics"
	"github.com/bibliograph/bibliograph/internal/models"
)

// ErrNoMatch indicates the source had no edition data for the book. It is a
// lookup failure for state-tracking purposes, not a transport error.
var ErrNoMatch = errors.New("no edition match")

// EditionAPI resolves edition metadata for a book. Implemented by
// OpenLibraryClient for production use and by fakes in tests.
type EditionAPI interface {
	LookupEdition(ctx context.Context, book *models.Book) (*models.Edition, error)
}

// maxResponseSize caps edition lookup responses. Search results for broad
// titles can be large; anything past this is a misbehaving response.
const maxResponseSize = 4 * 1024 * 1024

// OpenLibraryClient looks up edition metadata from the OpenLibrary API,
// preferring ISBN lookups and falling back to title/author search. All
// requests go through a circuit breaker.
type OpenLibraryClient struct {
	baseURL    string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker[*models.Edition]
	name       string
}

// NewOpenLibraryClient builds a client for the configured enrichment source.
func NewOpenLibraryClient(cfg *config.EnrichmentConfig) *OpenLibraryClient {
	cbName := "openlibrary-api"
	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0)

	cb := gobreaker.NewCircuitBreaker[*models.Edition](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("OpenLibrary circuit state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
		IsSuccessful: func(err error) bool {
			// A clean "not found" is a valid answer, not a source outage.
			return err == nil || errors.Is(err, ErrNoMatch)
		},
	})

	return &OpenLibraryClient{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		cb:   cb,
		name: cbName,
	}
}

// LookupEdition resolves edition metadata for the book. Returns ErrNoMatch
// when the source has no data for it.
func (c *OpenLibraryClient) LookupEdition(ctx context.Context, book *models.Book) (*models.Edition, error) {
	edition, err := c.cb.Execute(func() (*models.Edition, error) {
		if book.ISBN != nil && *book.ISBN != "" {
			return c.lookupByISBN(ctx, book)
		}
		return c.lookupBySearch(ctx, book)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(c.name, "rejected").Inc()
		} else if !errors.Is(err, ErrNoMatch) {
			metrics.CircuitBreakerRequests.WithLabelValues(c.name, "failure").Inc()
		}
		return nil, err
	}
	metrics.CircuitBreakerRequests.WithLabelValues(c.name, "success").Inc()
	return edition, nil
}

// olBookData is the jscmd=data shape of the books API.
type olBookData struct {
	Publishers []struct {
		Name string `json:"name"`
	} `json:"publishers"`
	PublishDate   string `json:"publish_date"`
	NumberOfPages int    `json:"number_of_pages"`
	Cover         struct {
		Medium string `json:"medium"`
	} `json:"cover"`
	Identifiers struct {
		ISBN13 []string `json:"isbn_13"`
	} `json:"identifiers"`
}

// olSearchResult is the search.json shape, narrowed to the fields used.
type olSearchResult struct {
	Docs []struct {
		Publisher        []string `json:"publisher"`
		FirstPublishYear int      `json:"first_publish_year"`
		PageCountMedian  int      `json:"number_of_pages_median"`
		CoverI           int64    `json:"cover_i"`
		ISBN             []string `json:"isbn"`
	} `json:"docs"`
}

func (c *OpenLibraryClient) lookupByISBN(ctx context.Context, book *models.Book) (*models.Edition, error) {
	bibkey := "ISBN:" + *book.ISBN
	params := url.Values{}
	params.Set("bibkeys", bibkey)
	params.Set("format", "json")
	params.Set("jscmd", "data")

	body, err := c.get(ctx, "/api/books", params)
	if err != nil {
		return nil, err
	}

	var results map[string]olBookData
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("openlibrary books: parsing response: %w", err)
	}
	data, ok := results[bibkey]
	if !ok {
		return nil, fmt.Errorf("%w: isbn %s", ErrNoMatch, *book.ISBN)
	}

	edition := &models.Edition{BookID: book.ID}
	if len(data.Publishers) > 0 && data.Publishers[0].Name != "" {
		edition.Publisher = &data.Publishers[0].Name
	}
	if year := parsePublishYear(data.PublishDate); year != 0 {
		edition.PublishYear = &year
	}
	if data.NumberOfPages > 0 {
		edition.PageCount = &data.NumberOfPages
	}
	if data.Cover.Medium != "" {
		edition.CoverID = &data.Cover.Medium
	}
	if len(data.Identifiers.ISBN13) > 0 {
		edition.ISBN13 = &data.Identifiers.ISBN13[0]
	}
	return edition, nil
}

func (c *OpenLibraryClient) lookupBySearch(ctx context.Context, book *models.Book) (*models.Edition, error) {
	params := url.Values{}
	params.Set("title", book.Title)
	if book.Author != "" {
		params.Set("author", book.Author)
	}
	params.Set("limit", "1")

	body, err := c.get(ctx, "/search.json", params)
	if err != nil {
		return nil, err
	}

	var result olSearchResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("openlibrary search: parsing response: %w", err)
	}
	if len(result.Docs) == 0 {
		return nil, fmt.Errorf("%w: title %q", ErrNoMatch, book.Title)
	}

	doc := result.Docs[0]
	edition := &models.Edition{BookID: book.ID}
	if len(doc.Publisher) > 0 && doc.Publisher[0] != "" {
		edition.Publisher = &doc.Publisher[0]
	}
	if doc.FirstPublishYear != 0 {
		edition.PublishYear = &doc.FirstPublishYear
	}
	if doc.PageCountMedian > 0 {
		edition.PageCount = &doc.PageCountMedian
	}
	if doc.CoverI != 0 {
		cover := strconv.FormatInt(doc.CoverI, 10)
		edition.CoverID = &cover
	}
	for _, isbn := range doc.ISBN {
		if len(isbn) == 13 {
			edition.ISBN13 = &isbn
			break
		}
	}
	return edition, nil
}

func (c *OpenLibraryClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := c.baseURL + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("openlibrary request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openlibrary request failed: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			logging.Debug().Err(cerr).Msg("Failed to close response body")
		}
	}()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNoMatch
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openlibrary API returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("openlibrary response read: %w", err)
	}
	return body, nil
}

// parsePublishYear extracts a 4-digit year from free-form publish dates
// like "1974", "May 1974", or "May 5, 1974".
func parsePublishYear(s string) int {
	for i := 0; i+4 <= len(s); i++ {
		if year, err := strconv.Atoi(s[i : i+4]); err == nil && year >= 1000 && year <= 9999 {
			return year
		}
	}
	return 0
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
