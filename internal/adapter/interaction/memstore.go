package interaction

import (
	"context"
	"sort"
	"sync"

	"leadpilot/internal/domain"
)

// MemoryStore is an in-memory domain.InteractionStore for tests and
// ephemeral deployments.
type MemoryStore struct {
	mu      sync.Mutex
	records []domain.InteractionRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, record domain.InteractionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *MemoryStore) Query(_ context.Context, filter domain.InteractionFilter, limit, offset int) ([]domain.InteractionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]domain.InteractionRecord, 0)
	for _, r := range s.records {
		if filter.Matches(r) {
			matched = append(matched, r)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})

	if offset > 0 {
		if offset >= len(matched) {
			return []domain.InteractionRecord{}, nil
		}
		matched = matched[offset:]
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *MemoryStore) Stats(_ context.Context) (domain.InteractionStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.InteractionStats{ActiveRecords: len(s.records)}, nil
}

func (s *MemoryStore) Close() error { return nil }

var _ domain.InteractionStore = (*MemoryStore)(nil)
