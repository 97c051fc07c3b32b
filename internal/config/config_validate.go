// Bibliograph - Reading Activity Ingestion and Reconciliation
// Copyright 2026 Bibliograph Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bibliograph/bibliograph

package config

import (
	"fmt"
	"net/url"

	"github.com/go-playground/validator/v10"
)

// Validate checks that the configuration is internally consistent. Struct
// tags cover ranges and enums; cross-field rules are checked by hand.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := c.validateKobo(); err != nil {
		return err
	}
	return c.validateEnrichment()
}

// validateKobo validates the Kobo poller config (only when enabled).
func (c *Config) validateKobo() error {
	if !c.Kobo.Enabled {
		return nil
	}
	if c.Kobo.BaseURL == "" {
		return fmt.Errorf("KOBO__BASE_URL is required when KOBO__ENABLED=true")
	}
	if err := validateHTTPURL(c.Kobo.BaseURL); err != nil {
		return fmt.Errorf("KOBO__BASE_URL is invalid: %w", err)
	}
	if c.Kobo.APIKey == "" {
		return fmt.Errorf("KOBO__API_KEY is required when KOBO__ENABLED=true")
	}
	if c.Kobo.PollInterval <= 0 {
		return fmt.Errorf("KOBO__POLL_INTERVAL must be positive")
	}
	return nil
}

// validateEnrichment validates the backfill config (only when enabled).
func (c *Config) validateEnrichment() error {
	if !c.Enrichment.Enabled {
		return nil
	}
	if err := validateHTTPURL(c.Enrichment.BaseURL); err != nil {
		return fmt.Errorf("ENRICHMENT__BASE_URL is invalid: %w", err)
	}
	if c.Enrichment.Source == "" {
		return fmt.Errorf("ENRICHMENT__SOURCE must not be empty")
	}
	if c.Enrichment.RatePerS <= 0 {
		return fmt.Errorf("ENRICHMENT__RATE_PER_S must be positive")
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
