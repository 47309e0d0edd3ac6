package intent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"leadpilot/internal/domain"
	"leadpilot/internal/usecase/registry"
)

type stubClassifier struct {
	output string
	err    error
	gotReq domain.ClassifyRequest
}

func (s *stubClassifier) Classify(_ context.Context, req domain.ClassifyRequest) (string, error) {
	s.gotReq = req
	return s.output, s.err
}

func (s *stubClassifier) Name() string { return "stub" }

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testRegistry() *registry.Registry {
	r := registry.New(testLogger())
	handler := domain.HandlerFunc(func(_ context.Context, _ domain.Payload) (domain.Result, error) {
		return domain.Result{"status": domain.StatusSuccess}, nil
	})
	r.Register(domain.AgentDescriptor{Name: "ScraperAgent", Handler: handler})
	r.Register(domain.AgentDescriptor{Name: "CoordinatorAgent", Handler: handler})
	return r
}

func TestResolveValidIntent(t *testing.T) {
	cls := &stubClassifier{output: `{"intent_kind":"update_config","confidence":0.95,"target_agent":"ScraperAgent","payload":{"max_leads":50}}`}
	res := NewResolver(cls, testRegistry(), "CoordinatorAgent", 10, testLogger())

	intent, err := res.Resolve(context.Background(), "set scraper max leads to 50", nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if intent.Kind != domain.IntentUpdateConfig {
		t.Errorf("Kind = %v, want update_config", intent.Kind)
	}
	if intent.Confidence != 0.95 {
		t.Errorf("Confidence = %v, want 0.95", intent.Confidence)
	}
	if intent.TargetAgent != "ScraperAgent" {
		t.Errorf("TargetAgent = %q, want ScraperAgent", intent.TargetAgent)
	}
	if intent.FallbackApplied {
		t.Error("FallbackApplied should be false for a registered agent")
	}
	if got := intent.Payload["max_leads"]; got != float64(50) {
		t.Errorf("payload max_leads = %v, want 50", got)
	}
}

func TestResolveCanonicalizesAgentCasing(t *testing.T) {
	cls := &stubClassifier{output: `{"intent_kind":"execute_agent","confidence":0.9,"target_agent":"scraper_agent"}`}
	res := NewResolver(cls, testRegistry(), "CoordinatorAgent", 10, testLogger())

	intent, err := res.Resolve(context.Background(), "run the scraper", nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if intent.TargetAgent != "ScraperAgent" {
		t.Errorf("TargetAgent = %q, want canonical ScraperAgent", intent.TargetAgent)
	}
}

func TestResolveSubstitutesFallbackForUnknownAgent(t *testing.T) {
	cls := &stubClassifier{output: `{"intent_kind":"execute_agent","confidence":0.88,"target_agent":"SuperScraperAgent"}`}
	res := NewResolver(cls, testRegistry(), "CoordinatorAgent", 10, testLogger())

	intent, err := res.Resolve(context.Background(), "run the super scraper", nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if intent.TargetAgent != "CoordinatorAgent" {
		t.Errorf("TargetAgent = %q, want fallback CoordinatorAgent", intent.TargetAgent)
	}
	if !intent.FallbackApplied {
		t.Error("FallbackApplied should be true")
	}
	if intent.Confidence > FallbackConfidenceCap {
		t.Errorf("Confidence = %v, want <= %v after fallback", intent.Confidence, FallbackConfidenceCap)
	}
}

func TestResolveFallbackKeepsLowerConfidence(t *testing.T) {
	cls := &stubClassifier{output: `{"intent_kind":"execute_agent","confidence":0.2,"target_agent":"NopeAgent"}`}
	res := NewResolver(cls, testRegistry(), "CoordinatorAgent", 10, testLogger())

	intent, err := res.Resolve(context.Background(), "run nope", nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if intent.Confidence != 0.2 {
		t.Errorf("Confidence = %v, want 0.2 untouched", intent.Confidence)
	}
}

func TestResolveOmittedConfidenceIsZero(t *testing.T) {
	cls := &stubClassifier{output: `{"intent_kind":"help"}`}
	res := NewResolver(cls, testRegistry(), "CoordinatorAgent", 10, testLogger())

	intent, err := res.Resolve(context.Background(), "help", nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if intent.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0 for omitted field", intent.Confidence)
	}
}

func TestResolveUnknownKindCoerced(t *testing.T) {
	cls := &stubClassifier{output: `{"intent_kind":"launch_rocket","confidence":0.7}`}
	res := NewResolver(cls, testRegistry(), "CoordinatorAgent", 10, testLogger())

	intent, err := res.Resolve(context.Background(), "launch", nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if intent.Kind != domain.IntentUnknown {
		t.Errorf("Kind = %v, want unknown", intent.Kind)
	}
}

func TestResolveUnparseableOutput(t *testing.T) {
	cls := &stubClassifier{output: "I have no idea what that means."}
	res := NewResolver(cls, testRegistry(), "CoordinatorAgent", 10, testLogger())

	_, err := res.Resolve(context.Background(), "gibberish", nil)
	if !errors.Is(err, domain.ErrClassifyParse) {
		t.Fatalf("expected ErrClassifyParse, got %v", err)
	}
}

func TestResolveClassifierErrorPropagates(t *testing.T) {
	cls := &stubClassifier{err: domain.ErrProviderError}
	res := NewResolver(cls, testRegistry(), "CoordinatorAgent", 10, testLogger())

	_, err := res.Resolve(context.Background(), "anything", nil)
	if !errors.Is(err, domain.ErrProviderError) {
		t.Fatalf("expected ErrProviderError, got %v", err)
	}
}

func TestResolveTruncatesHistory(t *testing.T) {
	cls := &stubClassifier{output: `{"intent_kind":"help","confidence":1}`}
	res := NewResolver(cls, testRegistry(), "CoordinatorAgent", 3, testLogger())

	history := make([]domain.HistoryTurn, 8)
	for i := range history {
		history[i] = domain.HistoryTurn{Sender: "user", Message: "turn"}
	}
	if _, err := res.Resolve(context.Background(), "help", history); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(cls.gotReq.History) != 3 {
		t.Errorf("classifier saw %d history turns, want 3", len(cls.gotReq.History))
	}
	if len(cls.gotReq.AgentNames) != 2 {
		t.Errorf("classifier saw %d agent names, want 2", len(cls.gotReq.AgentNames))
	}
}

func TestResolveConfidenceClamped(t *testing.T) {
	cls := &stubClassifier{output: `{"intent_kind":"help","confidence":1.7}`}
	res := NewResolver(cls, testRegistry(), "CoordinatorAgent", 10, testLogger())

	intent, err := res.Resolve(context.Background(), "help", nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if intent.Confidence != 1 {
		t.Errorf("Confidence = %v, want clamped to 1", intent.Confidence)
	}
}
