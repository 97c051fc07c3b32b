// Bibliograph - Reading Activity Ingestion and Reconciliation
// Copyright 2026 Bibliograph Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bibliograph/bibliograph

package sync

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/bibliograph/bibliograph/internal/config"
	"github.com/bibliograph/bibliograph/internal/logging"
	"github.com/bibliograph/bibliograph/internal/metrics"
	"github.com/bibliograph/bibliograph/internal/models"
)

// CircuitBreakerClient wraps KoboClient with a circuit breaker so a dead or
// degraded feed endpoint cannot stall every poll cycle.
//
// The breaker uses real time for its interval and timeout calculations; the
// timing governs recovery, not data integrity. Tests should fake KoboAPI
// rather than drive the breaker.
type CircuitBreakerClient struct {
	client *KoboClient
	cb     *gobreaker.CircuitBreaker[*models.KoboActivityPage]
	name   string
}

// NewCircuitBreakerClient creates a Kobo client with circuit breaker
// protection. The breaker opens after a 60% failure rate over at least 10
// requests, stays open for 2 minutes, and admits 3 probes when half-open.
func NewCircuitBreakerClient(cfg *config.KoboConfig) *CircuitBreakerClient {
	cbName := "kobo-feed"
	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0)

	cb := gobreaker.NewCircuitBreaker[*models.KoboActivityPage](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			if failureRatio >= 0.6 {
				logging.Warn().
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).
					Msg("Opening kobo feed circuit")
				return true
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("from", stateToString(from)).
				Str("to", stateToString(to)).
				Msg("Kobo feed circuit state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &CircuitBreakerClient{
		client: NewKoboClient(cfg),
		cb:     cb,
		name:   cbName,
	}
}

// Ping verifies feed connectivity through the breaker.
func (cbc *CircuitBreakerClient) Ping(ctx context.Context) error {
	_, err := cbc.execute(func() (*models.KoboActivityPage, error) {
		return nil, cbc.client.Ping(ctx)
	})
	return err
}

// ActivitySince fetches one feed page through the breaker.
func (cbc *CircuitBreakerClient) ActivitySince(ctx context.Context, afterSeq int64, limit int) (*models.KoboActivityPage, error) {
	return cbc.execute(func() (*models.KoboActivityPage, error) {
		return cbc.client.ActivitySince(ctx, afterSeq, limit)
	})
}

func (cbc *CircuitBreakerClient) execute(fn func() (*models.KoboActivityPage, error)) (*models.KoboActivityPage, error) {
	result, err := cbc.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "rejected").Inc()
			logging.Warn().Err(err).Msg("Kobo feed request rejected by circuit breaker")
		} else {
			metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "failure").Inc()
		}
		return nil, err
	}
	metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "success").Inc()
	return result, nil
}

func stateToFloat(state gobreaker.State) float64 {
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

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
