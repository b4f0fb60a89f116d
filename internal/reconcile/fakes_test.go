package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"callsync/internal/audit"
	"callsync/internal/calls"
	"callsync/internal/config"
	"callsync/internal/crm"
	"callsync/internal/cursor"
	"callsync/internal/identity"
	"callsync/internal/telephony"
	"callsync/pkg/logger"
)

// fakeSource serves pages of calls; page N is pages[N-1]. When feed is set it
// serves the feed instead, windowed like the provider and paged by PageSize.
type fakeSource struct {
	mu       sync.Mutex
	pages    [][]calls.CallEvent
	feed     []calls.CallEvent
	err      error
	requests []telephony.FetchCallsRequest

	// When set, FetchCalls signals entered and waits for release.
	entered chan struct{}
	release chan struct{}
}

func (f *fakeSource) FetchCalls(ctx context.Context, req telephony.FetchCallsRequest) (telephony.CallPage, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	entered, release := f.entered, f.release
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
			return telephony.CallPage{}, ctx.Err()
		}
	}
	if f.err != nil {
		return telephony.CallPage{}, f.err
	}
	if f.feed != nil {
		return f.feedPage(req), nil
	}
	if req.Page > len(f.pages) {
		return telephony.CallPage{}, nil
	}
	return telephony.CallPage{Records: f.pages[req.Page-1], HasNext: req.Page < len(f.pages)}, nil
}

// feedPage returns calls with Since <= start < Until, newest first.
func (f *fakeSource) feedPage(req telephony.FetchCallsRequest) telephony.CallPage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var window []calls.CallEvent
	for _, c := range f.feed {
		if c.StartTime.Before(req.Since) {
			continue
		}
		if !req.Until.IsZero() && !c.StartTime.Before(req.Until) {
			continue
		}
		window = append(window, c)
	}
	sort.SliceStable(window, func(i, j int) bool { return window[i].StartTime.After(window[j].StartTime) })

	start := (req.Page - 1) * req.PageSize
	if start >= len(window) {
		return telephony.CallPage{}
	}
	end := min(start+req.PageSize, len(window))
	return telephony.CallPage{Records: window[start:end], HasNext: end < len(window)}
}

func (f *fakeSource) addToFeed(c calls.CallEvent) {
	f.mu.Lock()
	f.feed = append(f.feed, c)
	f.mu.Unlock()
}

func (f *fakeSource) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// fakeCRM stores created tasks and answers lookups from fixtures.
type fakeCRM struct {
	mu sync.Mutex

	integrationUser string
	integrationErr  error

	tasks        []crm.ActivityRecord
	createErrFor map[string]error
	existenceErr error

	contacts map[string]crm.Party
	users    map[string]string

	existenceQueries int
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		integrationUser: "005XYZ",
		createErrFor:    map[string]error{},
		contacts:        map[string]crm.Party{},
		users:           map[string]string{},
	}
}

func (f *fakeCRM) IntegrationUserID(ctx context.Context) (string, error) {
	return f.integrationUser, f.integrationErr
}

func (f *fakeCRM) FindExistingByCorrelationKeys(ctx context.Context, keys []string) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.existenceQueries++
	if f.existenceErr != nil {
		return nil, f.existenceErr
	}
	out := map[string]struct{}{}
	for _, t := range f.tasks {
		for _, k := range keys {
			if strings.Contains(t.CallUniqueID, k) {
				out[k] = struct{}{}
			}
		}
	}
	return out, nil
}

func (f *fakeCRM) CreateActivity(ctx context.Context, rec crm.ActivityRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.createErrFor[rec.CallUniqueID]; err != nil {
		return "", err
	}
	f.tasks = append(f.tasks, rec)
	return fmt.Sprintf("00T%03d", len(f.tasks)), nil
}

func (f *fakeCRM) FindPartyByPhone(ctx context.Context, kind crm.RecordKind, digits string) (crm.Party, bool, error) {
	if kind != crm.KindContact {
		return crm.Party{}, false, nil
	}
	p, ok := f.contacts[digits]
	return p, ok, nil
}

func (f *fakeCRM) FindUserByName(ctx context.Context, name string) (string, bool, error) {
	id, ok := f.users[name]
	return id, ok, nil
}

func (f *fakeCRM) taskCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

func (f *fakeCRM) tasksFor(key string) []crm.ActivityRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []crm.ActivityRecord
	for _, t := range f.tasks {
		if t.CallUniqueID == key {
			out = append(out, t)
		}
	}
	return out
}

type harness struct {
	engine  *Engine
	source  *fakeSource
	crm     *fakeCRM
	cursor  *cursor.MemoryStore
	history *audit.MemoryRepo
	clock   *testClock
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var t0 = time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)

func newHarness(pages ...[]calls.CallEvent) *harness {
	h := &harness{
		source:  &fakeSource{pages: pages},
		crm:     newFakeCRM(),
		history: audit.NewMemoryRepo(),
		clock:   &testClock{now: t0},
	}
	h.cursor = newMemoryCursorAt(t0.Add(-24 * time.Hour))
	resolver := identity.NewResolver(h.crm, config.DefaultNamePrefixes, config.DefaultExtensionPrefixes, time.Minute, logger.Discard())
	h.engine = NewEngine(Config{PageSize: 50, MaxPages: 3}, Deps{
		Source:   h.source,
		CRM:      h.crm,
		Resolver: resolver,
		Cursor:   h.cursor,
		History:  audit.NewService(h.history),
		Logger:   logger.Discard(),
	})
	h.engine.now = h.clock.Now
	return h
}

func voiceCall(key string, dir calls.Direction) calls.CallEvent {
	return calls.CallEvent{
		CorrelationKey:  key,
		Direction:       dir,
		Type:            calls.CallTypeVoice,
		From:            calls.Party{PhoneNumber: "+15551234567", Name: "Jane Customer"},
		To:              calls.Party{PhoneNumber: "+15559876543"},
		StartTime:       t0.Add(-time.Hour),
		DurationSeconds: 60,
		Result:          "Accepted",
	}
}

func callAt(key string, start time.Time) calls.CallEvent {
	c := voiceCall(key, calls.DirectionInbound)
	c.StartTime = start
	return c
}

// fakeLock is a distributed lock whose refreshes succeed while keep is set.
type fakeLock struct {
	ttl       time.Duration
	keep      atomic.Bool
	refreshes atomic.Int32
	released  atomic.Bool
}

func (l *fakeLock) Acquire(ctx context.Context) (bool, error) { return true, nil }

func (l *fakeLock) Refresh(ctx context.Context) (bool, error) {
	l.refreshes.Add(1)
	return l.keep.Load(), nil
}

func (l *fakeLock) Release(ctx context.Context) error {
	l.released.Store(true)
	return nil
}

func (l *fakeLock) TTL() time.Duration { return l.ttl }

func newMemoryCursorAt(since time.Time) *cursor.MemoryStore {
	s := cursor.NewMemoryStore(24*time.Hour, time.Hour)
	_ = s.Advance(context.Background(), since)
	return s
}
