// Bibliograph - Reading Activity Ingestion and Reconciliation
// Copyright 2026 Bibliograph Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bibliograph/bibliograph

// Package fingerprint computes deterministic content keys.
//
// A fingerprint is a SHA-256 over a normalized representation of an input
// string. The same normalization runs at every call site that produces
// comparable fingerprints, so two logically-identical inputs always collide
// and nothing else does (to hash strength). Fingerprints are pure values:
// stable across process restarts and independent of locale.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// slugMaxRunes bounds the human-readable part of derived slugs. Dedup keys
// are never truncated; only slugs are.
const slugMaxRunes = 64

// slugHashLen is the number of hex characters of the fingerprint appended to
// a slug to keep distinct inputs with identical prefixes apart.
const slugHashLen = 12

// Normalize canonicalizes s for fingerprinting: lowercase, trim, collapse
// internal whitespace to single spaces, and strip every rune outside the
// [a-z0-9 ] allow-set. Punctuation, diacritic marks, and symbols vanish, so
// "The Left Hand of Darkness!" and "the left  hand of darkness" normalize
// identically.
func Normalize(s string) string {
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true // leading whitespace collapses to nothing
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
		// anything else is stripped
	}
	return strings.TrimRight(b.String(), " ")
}

// Fingerprint returns the hex-encoded SHA-256 of the normalized input.
// Used as the dedup key for ledger entries and the identity key for books
// lacking a stable external identifier. Never truncated.
func Fingerprint(s string) string {
	sum := sha256.Sum256([]byte(Normalize(s)))
	return hex.EncodeToString(sum[:])
}

// Raw returns the hex-encoded SHA-256 of s without normalization. Ledger
// dedup of opaque payload bytes uses this form: two payloads are duplicates
// only when byte-identical.
func Raw(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Slug derives a human-readable identifier from s: the normalized form with
// spaces hyphenated, truncated to a bounded length, plus a fingerprint
// prefix. Truncation happens only here - the appended hash is computed over
// the full normalized input, so "A Very Long Title..." variants that share a
// 64-rune prefix still slug differently.
func Slug(s string) string {
	norm := Normalize(s)
	sum := sha256.Sum256([]byte(norm))
	suffix := hex.EncodeToString(sum[:])[:slugHashLen]

	runes := []rune(norm)
	if len(runes) > slugMaxRunes {
		norm = strings.TrimRight(string(runes[:slugMaxRunes]), " ")
	}
	norm = strings.ReplaceAll(norm, " ", "-")
	if norm == "" {
		return suffix
	}
	return norm + "-" + suffix
}
