package cursor

import (
	"context"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"
)

// MemoryStore keeps the cursor in process memory. State is lost on restart,
// after which the window restarts at now minus the lookback.
type MemoryStore struct {
	mu       sync.Mutex
	since    time.Time
	backlog  *Backlog
	lookback time.Duration
	now      func() time.Time

	// handled keys expire after the handled TTL, like the Redis and SQL stores.
	handled *cache.Cache
}

func NewMemoryStore(lookback, handledTTL time.Duration) *MemoryStore {
	if handledTTL <= 0 {
		handledTTL = defaultHandledTTL
	}
	return &MemoryStore{
		lookback: lookback,
		handled:  cache.New(handledTTL, handledTTL/2),
		now:      time.Now,
	}
}

func (s *MemoryStore) Since(ctx context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.since.IsZero() {
		s.since = initialSince(s.now(), s.lookback)
	}
	return s.since, nil
}

func (s *MemoryStore) Advance(ctx context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.After(s.since) {
		s.since = t.UTC()
	}
	s.backlog = nil
	return nil
}

func (s *MemoryStore) Backlog(ctx context.Context) (Backlog, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backlog == nil {
		return Backlog{}, false, nil
	}
	return *s.backlog, true, nil
}

func (s *MemoryStore) SetBacklog(ctx context.Context, b Backlog) error {
	s.mu.Lock()
	s.backlog = &Backlog{Until: b.Until.UTC(), Resume: b.Resume.UTC()}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) MarkHandled(ctx context.Context, key string) error {
	s.handled.SetDefault(key, struct{}{})
	return nil
}

func (s *MemoryStore) IsHandled(ctx context.Context, key string) (bool, error) {
	_, ok := s.handled.Get(key)
	return ok, nil
}
