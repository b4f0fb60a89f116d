package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"callsync/internal/calls"
)

// Candidate is a call that survived deduplication and should be considered for write.
type Candidate struct {
	Key  string
	Call calls.CallEvent
}

// DedupResult lists candidates in fetch order plus skip counts.
type DedupResult struct {
	Candidates []Candidate

	Unique           int
	Duplicates       int
	Existing         int
	AlreadyProcessed int
}

// ExistenceChecker answers which correlation keys already have an activity.
type ExistenceChecker interface {
	FindExistingByCorrelationKeys(ctx context.Context, keys []string) (map[string]struct{}, error)
}

// HandledChecker is the fast-path handled set.
type HandledChecker interface {
	IsHandled(ctx context.Context, key string) (bool, error)
}

// Dedup collapses repeated keys (first occurrence wins), then drops keys that
// already exist in the CRM or were handled earlier. A failed existence query
// returns the counts so far and no candidates: writing blind could duplicate
// activities the handled set no longer remembers.
func Dedup(ctx context.Context, events []calls.CallEvent, existing ExistenceChecker, handled HandledChecker, log *slog.Logger) (DedupResult, error) {
	var res DedupResult

	seen := make(map[string]struct{}, len(events))
	unique := make([]Candidate, 0, len(events))
	for _, ev := range events {
		if _, dup := seen[ev.CorrelationKey]; dup {
			res.Duplicates++
			continue
		}
		seen[ev.CorrelationKey] = struct{}{}
		unique = append(unique, Candidate{Key: ev.CorrelationKey, Call: ev})
	}
	res.Unique = len(unique)
	if len(unique) == 0 {
		return res, nil
	}

	keys := make([]string, len(unique))
	for i, c := range unique {
		keys[i] = c.Key
	}
	found, err := existing.FindExistingByCorrelationKeys(ctx, keys)
	if err != nil {
		return res, fmt.Errorf("existence check for %d keys: %w", len(keys), err)
	}

	res.Candidates = make([]Candidate, 0, len(unique))
	for _, c := range unique {
		if _, ok := found[c.Key]; ok {
			res.Existing++
			log.Debug("skipping call, already in crm", "correlation_key", c.Key)
			continue
		}
		if handled != nil {
			ok, err := handled.IsHandled(ctx, c.Key)
			if err != nil {
				log.Warn("handled-set check failed", "correlation_key", c.Key, "error", err)
			} else if ok {
				res.AlreadyProcessed++
				log.Debug("skipping call, already handled", "correlation_key", c.Key)
				continue
			}
		}
		res.Candidates = append(res.Candidates, c)
	}
	return res, nil
}
