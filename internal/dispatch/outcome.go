// Bibliograph - Reading Activity Ingestion and Reconciliation
// Copyright 2026 Bibliograph Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bibliograph/bibliograph

// Package dispatch routes ledger entries to typed event handlers.
//
// A dispatch decodes the entry's raw payload into an ActivityEvent, selects
// the handler registered for the event's (kind, media kind) pair, and runs
// it. Exactly one handler runs per dispatch. Handlers are idempotent: a
// redelivery of the same entry (crash between fact-write and status-update)
// produces the same end state as the first delivery.
package dispatch

import "fmt"

// OutcomeKind classifies the result of dispatching one ledger entry.
type OutcomeKind string

const (
	// OutcomeApplied means the handler ran and its facts were written
	// (possibly as staleness-guard no-ops, which still count as applied).
	OutcomeApplied OutcomeKind = "applied"

	// OutcomeSkipped means no handler is registered for the event's
	// (kind, media kind) pair. Providers send more kinds than are handled;
	// a skip is expected noise, not an operator-visible error. The entry
	// is still marked FAILED so it becomes processable by a later
	// reprocess once support is added.
	OutcomeSkipped OutcomeKind = "skipped"

	// OutcomeFailed means the payload could not be decoded or the handler
	// errored. The entry is marked FAILED and is operator-retryable.
	OutcomeFailed OutcomeKind = "failed"
)

// Outcome is the typed result of one dispatch.
type Outcome struct {
	Kind   OutcomeKind
	Reason string // skip reason, empty otherwise
	Err    error  // failure cause, nil otherwise
}

// Applied constructs a success outcome.
func Applied() Outcome {
	return Outcome{Kind: OutcomeApplied}
}

// Skipped constructs a skip outcome with the given reason.
func Skipped(reason string) Outcome {
	return Outcome{Kind: OutcomeSkipped, Reason: reason}
}

// Failed constructs a failure outcome wrapping err.
func Failed(err error) Outcome {
	return Outcome{Kind: OutcomeFailed, Err: err}
}

// Failedf constructs a failure outcome from a format string.
func Failedf(format string, args ...interface{}) Outcome {
	return Outcome{Kind: OutcomeFailed, Err: fmt.Errorf(format, args...)}
}

// String renders the outcome for ledger failure reasons and logs.
func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeApplied:
		return "applied"
	case OutcomeSkipped:
		return "skipped: " + o.Reason
	case OutcomeFailed:
		return "failed: " + o.Err.Error()
	}
	return "unknown"
}
