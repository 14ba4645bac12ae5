package recordstore

import (
	"context"
	"sort"
	"sync"

	"github.com/cortexdata/cortex/internal/domain"
)

// MemoryStore is an in-process Store, suitable for tests and for
// single-node deployments where durability across restarts is not
// required.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]domain.ExecutionRecord
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]domain.ExecutionRecord)}
}

func (s *MemoryStore) Put(_ context.Context, rec domain.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ExecutionID] = rec
	return nil
}

func (s *MemoryStore) Get(_ context.Context, executionID string) (domain.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[executionID]
	if !ok {
		return domain.ExecutionRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, executionID string, update StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[executionID]
	if !ok {
		return ErrNotFound
	}
	applyUpdate(&rec, update)
	s.records[executionID] = rec
	return nil
}

func (s *MemoryStore) ListBySession(_ context.Context, sessionID string, limit int) ([]domain.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]domain.ExecutionRecord, 0)
	for _, rec := range s.records {
		if rec.SessionID == sessionID {
			matches = append(matches, rec)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *MemoryStore) Close() error { return nil }

func applyUpdate(rec *domain.ExecutionRecord, u StatusUpdate) {
	if u.Status != "" {
		rec.Status = u.Status
	}
	if u.Stdout != nil {
		rec.Stdout = *u.Stdout
	}
	if u.Stderr != nil {
		rec.Stderr = *u.Stderr
	}
	if u.Result != nil {
		rec.Result = u.Result
	}
	if u.Visualizations != nil {
		rec.Visualizations = u.Visualizations
	}
	if u.ElapsedMs != nil {
		rec.ElapsedMs = u.ElapsedMs
	}
	if u.StartedAt != nil {
		rec.StartedAt = u.StartedAt
	}
	if u.CompletedAt != nil {
		rec.CompletedAt = u.CompletedAt
	}
}
