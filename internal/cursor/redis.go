package cursor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// advanceScript stores ARGV[1] (unix ms) only if it is later than the current
// value, and always drops the backlog.
var advanceScript = redis.NewScript(`
-- KEYS[1] = watermark key
-- KEYS[2] = backlog hash
-- ARGV[1] = candidate unix ms
redis.call('DEL', KEYS[2])
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local next = tonumber(ARGV[1])
if next > cur then
  redis.call('SET', KEYS[1], ARGV[1])
  return 1
end
return 0
`)

// RedisStore shares the cursor between instances. Handled keys are
// individual keys with a TTL so the set cannot grow without bound.
type RedisStore struct {
	rdb        *redis.Client
	prefix     string
	lookback   time.Duration
	handledTTL time.Duration
	now        func() time.Time
}

func NewRedisStore(rdb *redis.Client, prefix string, lookback, handledTTL time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "callsync"
	}
	if handledTTL <= 0 {
		handledTTL = defaultHandledTTL
	}
	return &RedisStore{rdb: rdb, prefix: prefix, lookback: lookback, handledTTL: handledTTL, now: time.Now}
}

func (s *RedisStore) sinceKey() string { return s.prefix + ":cursor:" + Name }
func (s *RedisStore) backlogKey() string { return s.prefix + ":backlog:" + Name }
func (s *RedisStore) handledKey(key string) string { return s.prefix + ":handled:" + key }

func (s *RedisStore) Since(ctx context.Context) (time.Time, error) {
	v, err := s.rdb.Get(ctx, s.sinceKey()).Result()
	if errors.Is(err, redis.Nil) {
		return initialSince(s.now(), s.lookback), nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("cursor: read since: %w", err)
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("cursor: corrupt since value %q: %w", v, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

func (s *RedisStore) Advance(ctx context.Context, t time.Time) error {
	if err := advanceScript.Run(ctx, s.rdb, []string{s.sinceKey(), s.backlogKey()}, t.UnixMilli()).Err(); err != nil {
		return fmt.Errorf("cursor: advance: %w", err)
	}
	return nil
}

func (s *RedisStore) Backlog(ctx context.Context) (Backlog, bool, error) {
	vals, err := s.rdb.HGetAll(ctx, s.backlogKey()).Result()
	if err != nil {
		return Backlog{}, false, fmt.Errorf("cursor: read backlog: %w", err)
	}
	if len(vals) == 0 {
		return Backlog{}, false, nil
	}
	until, err1 := strconv.ParseInt(vals["until"], 10, 64)
	resume, err2 := strconv.ParseInt(vals["resume"], 10, 64)
	if err := errors.Join(err1, err2); err != nil {
		return Backlog{}, false, fmt.Errorf("cursor: corrupt backlog %v: %w", vals, err)
	}
	return Backlog{Until: time.UnixMilli(until).UTC(), Resume: time.UnixMilli(resume).UTC()}, true, nil
}

func (s *RedisStore) SetBacklog(ctx context.Context, b Backlog) error {
	err := s.rdb.HSet(ctx, s.backlogKey(), "until", b.Until.UnixMilli(), "resume", b.Resume.UnixMilli()).Err()
	if err != nil {
		return fmt.Errorf("cursor: set backlog: %w", err)
	}
	return nil
}

func (s *RedisStore) MarkHandled(ctx context.Context, key string) error {
	if err := s.rdb.Set(ctx, s.handledKey(key), s.now().UnixMilli(), s.handledTTL).Err(); err != nil {
		return fmt.Errorf("cursor: mark handled: %w", err)
	}
	return nil
}

func (s *RedisStore) IsHandled(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.handledKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("cursor: is handled: %w", err)
	}
	return n == 1, nil
}
