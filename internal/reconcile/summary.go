package reconcile

import (
	"time"

	"callsync/internal/audit"
)

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	// OutcomePartial: the pass finished but some calls failed to write.
	OutcomePartial Outcome = "partial"
	// OutcomeFailed: a fatal failure aborted the pass.
	OutcomeFailed Outcome = "failed"
	// OutcomeDropped: another pass was active; nothing was touched.
	OutcomeDropped Outcome = "dropped"
)

// Summary is returned by every pass, successful or not.
type Summary struct {
	PassID  string        `json:"pass_id"`
	Trigger audit.Trigger `json:"trigger"`
	Outcome Outcome       `json:"outcome"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Duration   string    `json:"duration"`

	Since     time.Time  `json:"since"`
	Until     *time.Time `json:"until,omitempty"`
	NextSince time.Time  `json:"next_since"`

	Fetched    int  `json:"fetched"`
	Invalid    int  `json:"invalid"`
	Unique     int  `json:"unique"`
	Duplicates int  `json:"duplicates"`
	Synced     int  `json:"synced"`
	Truncated  bool `json:"truncated"`

	Skipped SkipCounts    `json:"skipped"`
	Errors  []ErrorDetail `json:"errors"`
	Failure *Failure      `json:"failure,omitempty"`
}

type SkipCounts struct {
	Existing         int `json:"existing"`
	AlreadyProcessed int `json:"already_processed"`
	NonVoice         int `json:"non_voice"`
}

// ErrorDetail is one call that could not be written.
type ErrorDetail struct {
	Key     string      `json:"key"`
	Kind    FailureKind `json:"kind"`
	Error   string      `json:"error"`
	Details string      `json:"details,omitempty"`
}

type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// Fatal reports whether the pass was aborted.
func (s Summary) Fatal() bool { return s.Outcome == OutcomeFailed }

func (s Summary) skippedMap() map[string]int {
	return map[string]int{
		"duplicate":         s.Duplicates,
		"existing":          s.Skipped.Existing,
		"already_processed": s.Skipped.AlreadyProcessed,
		"non_voice":         s.Skipped.NonVoice,
	}
}

// callOutcomes feeds the per-call metrics.
func (s Summary) callOutcomes() map[string]int {
	m := s.skippedMap()
	m["synced"] = s.Synced
	m["write_failed"] = len(s.Errors)
	m["invalid"] = s.Invalid
	return m
}

func (s Summary) passRecord() audit.PassRecord {
	rec := audit.PassRecord{
		ID:         s.PassID,
		Trigger:    s.Trigger,
		Outcome:    string(s.Outcome),
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		Since:      s.Since,
		NextSince:  s.NextSince,
		Fetched:    s.Fetched,
		Unique:     s.Unique,
		Synced:     s.Synced,
		Skipped:    s.skippedMap(),
		Errors:     make([]audit.PassError, 0, len(s.Errors)),
	}
	if s.Failure != nil {
		rec.FailureKind = string(s.Failure.Kind)
		rec.FailureMessage = s.Failure.Message
	}
	for _, e := range s.Errors {
		rec.Errors = append(rec.Errors, audit.PassError{Key: e.Key, Error: e.Error, Details: e.Details})
	}
	return rec
}
