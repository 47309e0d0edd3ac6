package domain

import (
	"context"
	"time"
)

// ScheduledTask is a deferred or recurring agent invocation created from a
// schedule_task instruction. Tasks survive restarts; the scheduler re-arms
// every stored task at boot.
type ScheduledTask struct {
	ID        string         `json:"id"`
	Agent     string         `json:"agent"`
	Schedule  string         `json:"schedule"` // cron expression or duration ("30m")
	Payload   map[string]any `json:"payload,omitempty"`
	OneShot   bool           `json:"one_shot"`
	CreatedAt time.Time      `json:"created_at"`
}

// TaskStore persists scheduled tasks.
type TaskStore interface {
	Put(ctx context.Context, task ScheduledTask) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]ScheduledTask, error)
	Close() error
}
