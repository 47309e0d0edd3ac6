package taskstore

import (
	"context"
	"sort"
	"sync"

	"leadpilot/internal/domain"
)

// MemoryTaskStore is an in-memory domain.TaskStore used when the scheduler
// runs without persistence and in tests.
type MemoryTaskStore struct {
	mu    sync.Mutex
	tasks map[string]domain.ScheduledTask
}

// NewMemoryTaskStore creates an empty in-memory store.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{tasks: make(map[string]domain.ScheduledTask)}
}

func (s *MemoryTaskStore) Put(_ context.Context, task domain.ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
	return nil
}

func (s *MemoryTaskStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return domain.NewSubSystemError("schedule", "MemoryTaskStore.Delete", domain.ErrNotFound, id)
	}
	delete(s.tasks, id)
	return nil
}

func (s *MemoryTaskStore) List(_ context.Context) ([]domain.ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks := make([]domain.ScheduledTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })
	return tasks, nil
}

func (s *MemoryTaskStore) Close() error { return nil }

var _ domain.TaskStore = (*MemoryTaskStore)(nil)
