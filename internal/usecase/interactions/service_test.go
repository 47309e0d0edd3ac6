package interactions

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"leadpilot/internal/domain"
	"leadpilot/internal/usecase/eventbus"
)

type fakeStore struct {
	appended  []domain.InteractionRecord
	failCount int // number of initial Appends that fail
	queryErr  error
	records   []domain.InteractionRecord
}

func (f *fakeStore) Append(_ context.Context, r domain.InteractionRecord) error {
	if f.failCount > 0 {
		f.failCount--
		return domain.ErrInteractionWrite
	}
	f.appended = append(f.appended, r)
	return nil
}

func (f *fakeStore) Query(_ context.Context, filter domain.InteractionFilter, limit, offset int) ([]domain.InteractionRecord, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.records, nil
}

func (f *fakeStore) Stats(_ context.Context) (domain.InteractionStats, error) {
	return domain.InteractionStats{ActiveRecords: len(f.appended)}, nil
}

func (f *fakeStore) Close() error { return nil }

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newService(store *fakeStore) (*Service, *eventbus.Bus) {
	bus := eventbus.New(testLogger())
	return NewService(store, bus, testLogger()), bus
}

func TestLogFillsDefaults(t *testing.T) {
	store := &fakeStore{}
	svc, bus := newService(store)
	defer bus.Close()

	svc.Log(context.Background(), domain.InteractionRecord{
		FromAgent: "ScraperAgent",
		Message:   "scraped 12 leads",
	})

	if len(store.appended) != 1 {
		t.Fatalf("appended %d records, want 1", len(store.appended))
	}
	got := store.appended[0]
	if got.ID == "" {
		t.Error("ID not filled")
	}
	if got.Timestamp.IsZero() {
		t.Error("Timestamp not filled")
	}
	if got.Severity != domain.SeverityInfo {
		t.Errorf("Severity = %q, want info", got.Severity)
	}
}

func TestLogRetriesOnce(t *testing.T) {
	store := &fakeStore{failCount: 1}
	svc, bus := newService(store)
	defer bus.Close()

	svc.Log(context.Background(), domain.InteractionRecord{Message: "flaky write"})

	if len(store.appended) != 1 {
		t.Fatalf("appended %d records after one transient failure, want 1", len(store.appended))
	}
}

func TestLogDropsAfterSecondFailure(t *testing.T) {
	store := &fakeStore{failCount: 2}
	svc, bus := newService(store)
	defer bus.Close()

	// Must not panic or return an error; the record is simply dropped.
	svc.Log(context.Background(), domain.InteractionRecord{Message: "doomed write"})

	if len(store.appended) != 0 {
		t.Fatalf("appended %d records, want 0", len(store.appended))
	}
}

func TestQueryErrorYieldsEmptyPage(t *testing.T) {
	store := &fakeStore{queryErr: errors.New("disk gone")}
	svc, bus := newService(store)
	defer bus.Close()

	got := svc.Query(context.Background(), domain.InteractionFilter{}, 10, 0)
	if got == nil {
		t.Fatal("Query returned nil, want empty slice")
	}
	if len(got) != 0 {
		t.Errorf("Query returned %d records, want 0", len(got))
	}
}

func TestQueryPassesThrough(t *testing.T) {
	store := &fakeStore{records: []domain.InteractionRecord{
		{ID: "01A", Message: "first"},
		{ID: "01B", Message: "second"},
	}}
	svc, bus := newService(store)
	defer bus.Close()

	got := svc.Query(context.Background(), domain.InteractionFilter{}, 10, 0)
	if len(got) != 2 {
		t.Fatalf("Query returned %d records, want 2", len(got))
	}
}

func TestLogPublishesEvent(t *testing.T) {
	store := &fakeStore{}
	bus := eventbus.New(testLogger())
	svc := NewService(store, bus, testLogger())

	seen := make(chan domain.Event, 1)
	bus.Subscribe(domain.EventInteractionLogged, func(_ context.Context, e domain.Event) {
		seen <- e
	})

	svc.Log(context.Background(), domain.InteractionRecord{Message: "observed"})
	bus.Close()

	select {
	case e := <-seen:
		if e.Type != domain.EventInteractionLogged {
			t.Errorf("event type = %q", e.Type)
		}
	default:
		t.Fatal("no interaction.logged event published")
	}
}
