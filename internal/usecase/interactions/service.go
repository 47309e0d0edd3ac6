// Package interactions wraps the rotating interaction store with the
// logging policy: appends never fail the caller and queries degrade to an
// empty page when the store is unavailable.
package interactions

import (
	"context"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"leadpilot/internal/domain"
	"leadpilot/internal/usecase/eventbus"
)

// Service is the interaction logging facade used by the orchestrator,
// workflow executor, and gateway.
type Service struct {
	store  domain.InteractionStore
	bus    *eventbus.Bus
	logger *slog.Logger
}

// NewService creates a Service over the given store.
func NewService(store domain.InteractionStore, bus *eventbus.Bus, logger *slog.Logger) *Service {
	return &Service{store: store, bus: bus, logger: logger}
}

// Log appends a record, filling in ID, timestamp, and severity when unset.
// A failed append is retried once; a second failure drops the record with
// an error-level self-log. Log never returns an error: interaction logging
// must not take down the operation being logged.
func (s *Service) Log(ctx context.Context, record domain.InteractionRecord) {
	if record.ID == "" {
		record.ID = ulid.Make().String()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	if record.Severity == "" {
		record.Severity = domain.SeverityInfo
	}

	err := s.store.Append(ctx, record)
	if err != nil {
		s.logger.Warn("interaction append failed, retrying once", "record_id", record.ID, "error", err)
		err = s.store.Append(ctx, record)
	}
	if err != nil {
		s.logger.Error("interaction record dropped after retry",
			"record_id", record.ID,
			"from", record.FromAgent,
			"to", record.ToAgent,
			"error", err,
		)
		return
	}

	s.bus.Emit(ctx, domain.EventInteractionLogged, record)
}

// Query returns matching records in ascending timestamp order. A store
// error yields an empty page, not a failure; the admin surface prefers a
// blank history view over a 500.
func (s *Service) Query(ctx context.Context, filter domain.InteractionFilter, limit, offset int) []domain.InteractionRecord {
	records, err := s.store.Query(ctx, filter, limit, offset)
	if err != nil {
		s.logger.Error("interaction query failed", "error", err)
		return []domain.InteractionRecord{}
	}
	if records == nil {
		records = []domain.InteractionRecord{}
	}
	return records
}

// Stats reports store counters for system-state reads. Errors degrade to
// zero stats.
func (s *Service) Stats(ctx context.Context) domain.InteractionStats {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		s.logger.Error("interaction stats failed", "error", err)
		return domain.InteractionStats{}
	}
	return stats
}
