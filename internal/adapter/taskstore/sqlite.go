// Package taskstore persists scheduled tasks in SQLite so deferred
// instructions survive process restarts.
package taskstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"leadpilot/internal/domain"
)

// SQLiteTaskStore implements domain.TaskStore using SQLite.
type SQLiteTaskStore struct {
	db *sql.DB
}

// NewSQLiteTaskStore opens (or creates) the database at dbPath and runs
// the schema migration.
func NewSQLiteTaskStore(dbPath string) (*SQLiteTaskStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open task db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate task db: %w", err)
	}
	return &SQLiteTaskStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS scheduled_tasks (
			id         TEXT PRIMARY KEY,
			agent      TEXT NOT NULL,
			schedule   TEXT NOT NULL,
			payload    TEXT NOT NULL DEFAULT '{}',
			one_shot   INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteTaskStore) Close() error {
	return s.db.Close()
}

// Put inserts or replaces a task by id.
func (s *SQLiteTaskStore) Put(_ context.Context, task domain.ScheduledTask) error {
	payload, err := json.Marshal(task.Payload)
	if err != nil {
		return fmt.Errorf("marshal task payload: %w", err)
	}
	oneShot := 0
	if task.OneShot {
		oneShot = 1
	}
	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO scheduled_tasks (id, agent, schedule, payload, one_shot, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		task.ID, task.Agent, task.Schedule, string(payload), oneShot,
		task.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// Delete removes a task by id. Unknown ids return a schedule NotFound.
func (s *SQLiteTaskStore) Delete(_ context.Context, id string) error {
	res, err := s.db.Exec("DELETE FROM scheduled_tasks WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.NewSubSystemError("schedule", "SQLiteTaskStore.Delete", domain.ErrNotFound, id)
	}
	return nil
}

// List returns all stored tasks ordered by creation time.
func (s *SQLiteTaskStore) List(_ context.Context) ([]domain.ScheduledTask, error) {
	rows, err := s.db.Query("SELECT id, agent, schedule, payload, one_shot, created_at FROM scheduled_tasks ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.ScheduledTask
	for rows.Next() {
		var t domain.ScheduledTask
		var payloadStr, createdStr string
		var oneShot int
		if err := rows.Scan(&t.ID, &t.Agent, &t.Schedule, &payloadStr, &oneShot, &createdStr); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payloadStr), &t.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal task payload: %w", err)
		}
		t.OneShot = oneShot != 0
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

var _ domain.TaskStore = (*SQLiteTaskStore)(nil)
