// Package reconcile runs reconciliation passes: fetch the provider call log
// since the cursor, drop calls already recorded, resolve who each call belongs
// to and create one CRM activity per call.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"callsync/internal/audit"
	"callsync/internal/auth"
	"callsync/internal/calls"
	"callsync/internal/crm"
	"callsync/internal/cursor"
	"callsync/internal/identity"
	"callsync/internal/metrics"
	"callsync/internal/telephony"
	"callsync/pkg/logger"

	"github.com/google/uuid"
)

// CRM is the subset of the CRM client used by passes.
type CRM interface {
	ExistenceChecker
	IntegrationUserID(ctx context.Context) (string, error)
	CreateActivity(ctx context.Context, rec crm.ActivityRecord) (string, error)
}

type Resolver interface {
	Resolve(ctx context.Context, c calls.CallEvent, fallbackOwner string) identity.Resolved
}

// History receives every finished (non-dropped) pass.
type History interface {
	Append(ctx context.Context, r audit.PassRecord) error
}

type Config struct {
	PageSize int
	// MaxPages bounds pagination within one pass. When the window has more
	// pages the pass records a backlog below the oldest call it read and the
	// following passes drain it before the cursor moves.
	MaxPages int
}

type Deps struct {
	Source   telephony.CallSource
	CRM      CRM
	Resolver Resolver
	Cursor   cursor.Store

	// Optional.
	Lock    DistributedLock
	History History
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Engine runs one pass at a time. Safe for concurrent use: overlapping
// triggers are dropped, not queued.
type Engine struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
	now  func() time.Time

	mu    sync.Mutex
	state atomic.Int32
}

func NewEngine(cfg Config, deps Deps) *Engine {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 20
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Engine{cfg: cfg, deps: deps, log: log, now: time.Now}
}

func (e *Engine) State() State { return State(e.state.Load()) }

func (e *Engine) setState(s State) { e.state.Store(int32(s)) }

// Run executes one pass and always returns a summary.
func (e *Engine) Run(ctx context.Context, trigger audit.Trigger) Summary {
	s := Summary{
		PassID:    uuid.NewString(),
		Trigger:   trigger,
		StartedAt: e.now().UTC(),
		Errors:    []ErrorDetail{},
	}
	log := e.log.With("pass_id", s.PassID, "trigger", string(trigger))

	if !e.mu.TryLock() {
		log.Warn("pass already running, dropping trigger")
		s.Outcome = OutcomeDropped
		e.finish(ctx, log, &s)
		return s
	}
	defer e.mu.Unlock()
	defer e.setState(StateIdle)

	passCtx := ctx
	stopKeepalive := func() {}
	var lost atomic.Bool
	if e.deps.Lock != nil {
		ok, err := e.deps.Lock.Acquire(ctx)
		if err != nil {
			e.fail(&s, FailureLock, err)
			log.Error("distributed pass lock unavailable", "error", err)
			e.finish(ctx, log, &s)
			return s
		}
		if !ok {
			log.Warn("pass running on another instance, dropping trigger")
			s.Outcome = OutcomeDropped
			e.finish(ctx, log, &s)
			return s
		}
		defer func() {
			// Release even if ctx is already cancelled.
			relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := e.deps.Lock.Release(relCtx); err != nil {
				log.Error("release distributed pass lock", "error", err)
			}
		}()

		var cancel context.CancelFunc
		passCtx, cancel = context.WithCancel(ctx)
		defer cancel()
		stopKeepalive = e.keepLock(passCtx, log, cancel, &lost)
	}

	e.pass(logger.With(passCtx, log), log, &s)
	stopKeepalive()
	if lost.Load() {
		// Whatever failure the cancellation caused, the cause is the lock.
		s.Failure = nil
		e.fail(&s, FailureLock, errLockLost)
	}
	e.finish(ctx, log, &s)
	return s
}

var errLockLost = errors.New("distributed pass lock lost")

// keepLock refreshes the distributed lock every TTL/3 until stop is called.
// A lost lock, or one left unrefreshed for a full TTL, cancels the pass.
func (e *Engine) keepLock(ctx context.Context, log *slog.Logger, cancel context.CancelFunc, lost *atomic.Bool) (stop func()) {
	ttl := e.deps.Lock.TTL()
	if ttl <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(ttl / 3)
		defer t.Stop()
		lastOK := time.Now()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
			}
			ok, err := e.deps.Lock.Refresh(ctx)
			switch {
			case err == nil && ok:
				lastOK = time.Now()
				continue
			case ctx.Err() != nil:
				return
			case err != nil && time.Since(lastOK) < ttl:
				log.Warn("refresh distributed pass lock", "error", err)
				continue
			}
			log.Error("distributed pass lock lost, cancelling pass", "error", err)
			lost.Store(true)
			cancel()
			return
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (e *Engine) pass(ctx context.Context, log *slog.Logger, s *Summary) {
	log.Info("pass started")

	owner, err := e.deps.CRM.IntegrationUserID(ctx)
	if err != nil {
		e.fail(s, Kind(err), err)
		return
	}

	since, err := e.deps.Cursor.Since(ctx)
	if err != nil {
		e.fail(s, FailureCursor, err)
		return
	}
	backlog, draining, err := e.deps.Cursor.Backlog(ctx)
	if err != nil {
		e.fail(s, FailureCursor, err)
		return
	}
	s.Since = since
	s.NextSince = since

	// While draining, re-read the boundary millisecond: several calls can
	// share the oldest start time and dedup drops the ones already written.
	var until time.Time
	if draining {
		until = backlog.Until.Add(time.Millisecond)
		s.Until = &until
		log.Info("draining call log backlog", "until", backlog.Until, "resume", backlog.Resume)
	}

	e.setState(StateFetching)
	events, oldest, err := e.fetch(ctx, log, since, until, s)
	if err != nil {
		e.fail(s, Kind(err), err)
		return
	}

	e.setState(StateDeduplicating)
	dd, err := Dedup(ctx, events, e.deps.CRM, e.deps.Cursor, log)
	s.Unique = dd.Unique
	s.Duplicates = dd.Duplicates
	s.Skipped.Existing = dd.Existing
	s.Skipped.AlreadyProcessed = dd.AlreadyProcessed
	if err != nil {
		e.fail(s, Kind(err), err)
		return
	}

	e.setState(StateResolvingWriting)
	if !e.write(ctx, log, owner, dd.Candidates, s) {
		return
	}

	e.setState(StateFinalizing)
	resume := s.StartedAt
	if draining {
		resume = backlog.Resume
	}
	if s.Truncated {
		e.narrowBacklog(ctx, log, backlog, draining, oldest, resume)
		return
	}
	if err := e.deps.Cursor.Advance(ctx, resume); err != nil {
		// Writes already happened; the CRM check keeps the next pass safe.
		log.Error("advance cursor", "error", err)
		return
	}
	if next, err := e.deps.Cursor.Since(ctx); err == nil {
		s.NextSince = next
	}
}

// narrowBacklog records how far back a truncated pass read so the next pass
// continues below it. The cursor stays put until the backlog is drained.
func (e *Engine) narrowBacklog(ctx context.Context, log *slog.Logger, prev cursor.Backlog, draining bool, oldest, resume time.Time) {
	log = log.With("max_pages", e.cfg.MaxPages)
	if oldest.IsZero() {
		log.Warn("call log window exceeded page limit without dated calls, cursor not advanced")
		return
	}
	if draining && !oldest.Before(prev.Until) {
		log.Warn("call log backlog did not shrink; raise page size or page limit", "until", prev.Until)
	}
	next := cursor.Backlog{Until: oldest, Resume: resume}
	if err := e.deps.Cursor.SetBacklog(ctx, next); err != nil {
		log.Error("record call log backlog", "error", err)
		return
	}
	log.Warn("call log window exceeded page limit, continuing next pass", "until", next.Until, "resume", next.Resume)
}

// fetch pages through the window, newest first. It also returns the oldest
// start time seen. Any page failure aborts the pass.
func (e *Engine) fetch(ctx context.Context, log *slog.Logger, since, until time.Time, s *Summary) ([]calls.CallEvent, time.Time, error) {
	var (
		events []calls.CallEvent
		oldest time.Time
	)
	for page := 1; page <= e.cfg.MaxPages; page++ {
		p, err := e.deps.Source.FetchCalls(ctx, telephony.FetchCallsRequest{
			Since:    since,
			Until:    until,
			PageSize: e.cfg.PageSize,
			Page:     page,
		})
		if err != nil {
			return nil, time.Time{}, err
		}
		for _, ev := range p.Records {
			if st := ev.StartTime; !st.IsZero() && (oldest.IsZero() || st.Before(oldest)) {
				oldest = st
			}
		}
		events = append(events, p.Records...)
		s.Invalid += p.Invalid
		if !p.HasNext {
			break
		}
		if page == e.cfg.MaxPages {
			s.Truncated = true
		}
	}
	s.Fetched = len(events)
	log.Info("fetched call log", "since", since, "calls", len(events), "invalid", s.Invalid, "truncated", s.Truncated)
	return events, oldest, nil
}

// write processes candidates sequentially. It returns false when an auth
// failure or cancellation aborted the remaining items.
func (e *Engine) write(ctx context.Context, log *slog.Logger, owner string, candidates []Candidate, s *Summary) bool {
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			e.fail(s, FailureCancelled, err)
			return false
		}

		clog := log.With("correlation_key", c.Key)
		if !c.Call.IsVoice() {
			s.Skipped.NonVoice++
			clog.Debug("skipping non-voice call", "type", c.Call.Type)
			continue
		}

		id := e.deps.Resolver.Resolve(ctx, c.Call, owner)
		rec := BuildActivity(c.Call, id)

		taskID, err := e.deps.CRM.CreateActivity(ctx, rec)
		if err != nil {
			kind := Kind(err)
			s.Errors = append(s.Errors, ErrorDetail{Key: c.Key, Kind: kind, Error: err.Error(), Details: writeDetails(err)})
			clog.Error("create activity failed", "error", err)
			if errors.Is(err, auth.ErrAuthFailed) {
				e.fail(s, FailureAuth, err)
				return false
			}
			continue
		}

		if err := e.deps.Cursor.MarkHandled(ctx, c.Key); err != nil {
			clog.Warn("mark handled", "error", err)
		}
		s.Synced++
		clog.Info("activity created", "task_id", taskID, "owner_id", id.OwnerID, "owner_source", string(id.OwnerSource), "who_id", id.WhoID)
	}
	return true
}

func (e *Engine) fail(s *Summary, kind FailureKind, err error) {
	if s.Failure != nil {
		return
	}
	s.Failure = &Failure{Kind: kind, Message: err.Error()}
}

func (e *Engine) finish(ctx context.Context, log *slog.Logger, s *Summary) {
	s.FinishedAt = e.now().UTC()
	d := s.FinishedAt.Sub(s.StartedAt)
	s.Duration = d.Round(time.Millisecond).String()

	switch {
	case s.Outcome == OutcomeDropped:
	case s.Failure != nil:
		s.Outcome = OutcomeFailed
	case len(s.Errors) > 0:
		s.Outcome = OutcomePartial
	default:
		s.Outcome = OutcomeCompleted
	}

	e.deps.Metrics.ObservePass(string(s.Outcome), d, s.callOutcomes(), s.NextSince)

	if s.Outcome == OutcomeDropped {
		return
	}

	attrs := []any{
		"outcome", s.Outcome,
		"duration", s.Duration,
		"fetched", s.Fetched,
		"unique", s.Unique,
		"synced", s.Synced,
		"skipped_existing", s.Skipped.Existing,
		"skipped_already_processed", s.Skipped.AlreadyProcessed,
		"skipped_non_voice", s.Skipped.NonVoice,
		"errors", len(s.Errors),
		"next_since", s.NextSince,
	}
	if s.Failure != nil {
		log.Error("pass failed", append(attrs, "failure_kind", s.Failure.Kind, "failure", s.Failure.Message)...)
	} else {
		log.Info("pass finished", attrs...)
	}

	if e.deps.History != nil {
		if err := e.deps.History.Append(context.WithoutCancel(ctx), s.passRecord()); err != nil {
			log.Warn("record pass history", "error", err)
		}
	}
}
