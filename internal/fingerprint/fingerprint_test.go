// Bibliograph - Reading Activity Ingestion and Reconciliation
// Copyright 2026 Bibliograph Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bibliograph/bibliograph

package fingerprint

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase", "The Dispossessed", "the dispossessed"},
		{"trim", "  ursula k le guin  ", "ursula k le guin"},
		{"collapse whitespace", "a  wizard \t of\nearthsea", "a wizard of earthsea"},
		{"strip punctuation", "Howl's Moving Castle!", "howls moving castle"},
		{"strip symbols keep digits", "Fahrenheit 451 (c) 1953", "fahrenheit 451 c 1953"},
		{"unicode stripped", "Pérez — memoir", "prez memoir"},
		{"empty", "", ""},
		{"only punctuation", "?!...", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFingerprint_Stable(t *testing.T) {
	a := Fingerprint("The Left Hand of Darkness - Ursula K. Le Guin")
	b := Fingerprint("  the left  hand of darkness   ursula k le guin ")

	if a != b {
		t.Errorf("logically-identical inputs produced different fingerprints:\n%s\n%s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}

	// Known-answer check: the algorithm must never drift across releases,
	// or every stored dedup key silently invalidates.
	const want = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got := Fingerprint("Hello"); got != want {
		t.Errorf("Fingerprint(\"Hello\") = %s, want %s", got, want)
	}
}

func TestFingerprint_Distinct(t *testing.T) {
	if Fingerprint("dune") == Fingerprint("dune messiah") {
		t.Error("distinct inputs must not collide")
	}
}

func TestRaw_ByteIdentityOnly(t *testing.T) {
	a := Raw([]byte(`{"event":"read.progress"}`))
	b := Raw([]byte(`{"event":"read.progress"}`))
	c := Raw([]byte(`{"event": "read.progress"}`)) // one extra space

	if a != b {
		t.Error("identical bytes must produce identical raw fingerprints")
	}
	if a == c {
		t.Error("raw fingerprints must not normalize; differing bytes must differ")
	}
}

func TestSlug(t *testing.T) {
	s := Slug("The Left Hand of Darkness")
	if !strings.HasPrefix(s, "the-left-hand-of-darkness-") {
		t.Errorf("unexpected slug prefix: %s", s)
	}
	parts := strings.Split(s, "-")
	if got := parts[len(parts)-1]; len(got) != slugHashLen {
		t.Errorf("expected %d-char hash suffix, got %q", slugHashLen, got)
	}
}

func TestSlug_TruncatesReadablePartOnly(t *testing.T) {
	long := strings.Repeat("verylongword ", 20)
	a := Slug(long + "alpha")
	b := Slug(long + "beta")

	if a == b {
		t.Error("slugs sharing a truncated prefix must still differ via hash suffix")
	}
	// Readable part bounded, suffix fixed length.
	if len([]rune(a)) > slugMaxRunes+1+slugHashLen {
		t.Errorf("slug too long: %d runes", len([]rune(a)))
	}
}

func TestSlug_EmptyInput(t *testing.T) {
	if s := Slug("!!!"); len(s) != slugHashLen {
		t.Errorf("punctuation-only input should slug to bare hash, got %q", s)
	}
}
