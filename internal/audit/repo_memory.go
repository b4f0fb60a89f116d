package audit

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory append-only repository, used by tests and the
// memory cursor backend. History is lost on restart.
type MemoryRepo struct {
	mu      sync.Mutex
	records []PassRecord
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(ctx context.Context, rec PassRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *MemoryRepo) Recent(ctx context.Context, limit int) ([]PassRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PassRecord, 0, min(limit, len(r.records)))
	for i := len(r.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.records[i])
	}
	return out, nil
}
