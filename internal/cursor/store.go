// Package cursor tracks how far reconciliation has progressed: the "since"
// watermark for the next fetch window, any unfinished backlog of an oversized
// window, and the set of correlation keys already written recently.
package cursor

import (
	"context"
	"time"
)

// Store is owned by the reconciliation engine and only mutated under the pass lock.
//
// Invariants:
// - Since never moves backward; Advance with an older or equal time is a no-op.
// - Advance ends any backlog.
// - IsHandled is a fast path only; the CRM existence check stays authoritative.
type Store interface {
	// Since returns the stored watermark, or now minus the initial lookback
	// when nothing has been stored yet.
	Since(ctx context.Context) (time.Time, error)
	Advance(ctx context.Context, t time.Time) error

	// Backlog reports an unfinished window left by a pass that hit the page limit.
	Backlog(ctx context.Context) (Backlog, bool, error)
	SetBacklog(ctx context.Context, b Backlog) error

	MarkHandled(ctx context.Context, key string) error
	IsHandled(ctx context.Context, key string) (bool, error)
}

// Backlog is the part of a window that still has to be read: calls starting
// in [Since, Until]. Once it is drained, Since moves to Resume, the start of
// the pass that first ran out of pages.
type Backlog struct {
	Until  time.Time `json:"until"`
	Resume time.Time `json:"resume"`
}

// Name identifies the single watermark row/key this service maintains.
const Name = "call_log"

const defaultHandledTTL = 7 * 24 * time.Hour

func initialSince(now time.Time, lookback time.Duration) time.Time {
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	return now.Add(-lookback).UTC()
}
