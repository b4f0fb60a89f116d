package audit

import "time"

// PassRecord is an immutable, append-only record of one reconciliation pass.
//
// Invariants:
// - Records are never updated or deleted.
// - Recording is best-effort; a history failure never fails a pass.
//
// Storage (SQL): sync_passes with one row per pass and sync_pass_errors
// holding the per-call error list in original order.
type PassRecord struct {
	ID string `json:"id"`

	// Trigger says what started the pass: schedule, manual (HTTP) or cli.
	Trigger Trigger `json:"trigger"`
	Outcome string  `json:"outcome"`

	FailureKind    string `json:"failure_kind,omitempty"`
	FailureMessage string `json:"failure_message,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Since is the window start used for the fetch; NextSince the watermark after finalizing.
	Since     time.Time `json:"since"`
	NextSince time.Time `json:"next_since"`

	Fetched int `json:"fetched"`
	Unique  int `json:"unique"`
	Synced  int `json:"synced"`

	// Skipped counts per skip reason (existing, already_processed, non_voice, duplicate).
	Skipped map[string]int `json:"skipped"`

	Errors []PassError `json:"errors"`
}

// PassError is one failed call within a pass.
type PassError struct {
	Key     string `json:"key"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
	TriggerCLI      Trigger = "cli"
)
