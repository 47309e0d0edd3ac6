package domain

import (
	"context"
	"strings"
	"time"
)

// Severity classifies an interaction record.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// InteractionRecord is one agent-to-agent or admin-to-agent exchange.
// Records are immutable once written; many records share a ContextID,
// forming the causal trace of one logical operation.
type InteractionRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	FromAgent string    `json:"from_agent"`
	ToAgent   string    `json:"to_agent,omitempty"` // empty = system/log-only
	Message   string    `json:"message"`
	ContextID string    `json:"context_id,omitempty"`
	Severity  Severity  `json:"severity"`
}

// InteractionFilter selects records for a query. Zero-valued fields match
// everything.
type InteractionFilter struct {
	FromAgent       string
	ToAgent         string
	ContextID       string
	MessageContains string
	Since           time.Time
	Until           time.Time
}

// Matches reports whether the record satisfies every set filter field.
func (f InteractionFilter) Matches(r InteractionRecord) bool {
	if f.FromAgent != "" && r.FromAgent != f.FromAgent {
		return false
	}
	if f.ToAgent != "" && r.ToAgent != f.ToAgent {
		return false
	}
	if f.ContextID != "" && r.ContextID != f.ContextID {
		return false
	}
	if f.MessageContains != "" && !strings.Contains(r.Message, f.MessageContains) {
		return false
	}
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && r.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// InteractionStats describes the rotating store for system-state reads.
type InteractionStats struct {
	ActiveRecords       int `json:"active_records"`
	ArchivedGenerations int `json:"archived_generations"`
}

// InteractionStore persists interaction records in a rotating store.
// Append is atomic per record; rotation never loses an in-flight append.
type InteractionStore interface {
	Append(ctx context.Context, record InteractionRecord) error
	Query(ctx context.Context, filter InteractionFilter, limit, offset int) ([]InteractionRecord, error)
	Stats(ctx context.Context) (InteractionStats, error)
	Close() error
}
