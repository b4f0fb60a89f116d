package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for pass history.
//
// It MUST be append-only: no Update/Delete methods.
type Repository interface {
	Append(ctx context.Context, r PassRecord) error
	// Recent lists the newest records first.
	Recent(ctx context.Context, limit int) ([]PassRecord, error)
}

// Service records pass history for operators.
//
// Callers should treat Append as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidRecord = errors.New("audit: invalid pass record")

const (
	DefaultRecentLimit = 20
	MaxRecentLimit     = 200
)

func (s *Service) Append(ctx context.Context, r PassRecord) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if r.Outcome == "" || r.Trigger == "" {
		return ErrInvalidRecord
	}

	now := s.clock().UTC()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = now
	}
	if r.FinishedAt.IsZero() {
		r.FinishedAt = now
	}
	if r.Skipped == nil {
		r.Skipped = map[string]int{}
	}
	return s.repo.Append(ctx, r)
}

// Recent returns up to limit records, newest first. limit is clamped to
// [1, MaxRecentLimit]; zero or negative means DefaultRecentLimit.
func (s *Service) Recent(ctx context.Context, limit int) ([]PassRecord, error) {
	if s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	switch {
	case limit <= 0:
		limit = DefaultRecentLimit
	case limit > MaxRecentLimit:
		limit = MaxRecentLimit
	}
	return s.repo.Recent(ctx, limit)
}
