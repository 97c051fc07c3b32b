// Bibliograph - Reading Activity Ingestion and Reconciliation
// Copyright 2026 Bibliograph Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bibliograph/bibliograph

package services

import (
	"context"
	"time"

	"github.com/bibliograph/bibliograph/internal/enrich"
	"github.com/bibliograph/bibliograph/internal/logging"
)

// BackfillService periodically drains the enrichment backlog. Drain errors
// are logged and retried on the next tick; the service only exits on
// context cancellation.
type BackfillService struct {
	backfill *enrich.Backfill
	interval time.Duration
}

// NewBackfillService wraps a backfill for supervision.
func NewBackfillService(backfill *enrich.Backfill, interval time.Duration) *BackfillService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &BackfillService{backfill: backfill, interval: interval}
}

// Serve implements suture.Service.
func (s *BackfillService) Serve(ctx context.Context) error {
	logging.Info().Dur("interval", s.interval).Msg("Enrichment scheduler started")

	if _, err := s.backfill.Drain(ctx); err != nil {
		logging.Error().Err(err).Msg("Initial enrichment drain failed")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Enrichment scheduler stopping")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.backfill.Drain(ctx); err != nil {
				logging.Error().Err(err).Msg("Periodic enrichment drain failed")
			}
		}
	}
}

// String identifies the service in supervisor logs.
func (s *BackfillService) String() string {
	return "enrichment-scheduler"
}
