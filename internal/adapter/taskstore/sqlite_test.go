package taskstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"leadpilot/internal/domain"
)

func newSQLite(t *testing.T) *SQLiteTaskStore {
	t.Helper()
	store, err := NewSQLiteTaskStore(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("NewSQLiteTaskStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLitePutListDelete(t *testing.T) {
	store := newSQLite(t)
	ctx := context.Background()

	task := domain.ScheduledTask{
		ID:        "01TASK",
		Agent:     "ScraperAgent",
		Schedule:  "0 9 * * *",
		Payload:   map[string]any{"city": "Austin"},
		OneShot:   false,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.Put(ctx, task); err != nil {
		t.Fatalf("Put: %v", err)
	}

	tasks, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("List returned %d tasks, want 1", len(tasks))
	}
	got := tasks[0]
	if got.Agent != "ScraperAgent" || got.Schedule != "0 9 * * *" {
		t.Errorf("roundtrip mismatch: %+v", got)
	}
	if got.Payload["city"] != "Austin" {
		t.Errorf("payload city = %v, want Austin", got.Payload["city"])
	}

	if err := store.Delete(ctx, "01TASK"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	tasks, err = store.List(ctx)
	if err != nil {
		t.Fatalf("List after delete: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("List returned %d tasks after delete, want 0", len(tasks))
	}
}

func TestSQLiteDeleteUnknown(t *testing.T) {
	store := newSQLite(t)

	err := store.Delete(context.Background(), "ghost")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if code := domain.ErrorCodeOf(err); code != domain.CodeScheduleNotFound {
		t.Errorf("ErrorCodeOf = %v, want %v", code, domain.CodeScheduleNotFound)
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.db")
	ctx := context.Background()

	store, err := NewSQLiteTaskStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteTaskStore: %v", err)
	}
	task := domain.ScheduledTask{
		ID:        "01KEEP",
		Agent:     "OutreachAgent",
		Schedule:  "30m",
		OneShot:   true,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.Put(ctx, task); err != nil {
		t.Fatalf("Put: %v", err)
	}
	store.Close()

	reopened, err := NewSQLiteTaskStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	tasks, err := reopened.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "01KEEP" || !tasks[0].OneShot {
		t.Fatalf("persisted tasks = %+v, want the stored one-shot task", tasks)
	}
}
