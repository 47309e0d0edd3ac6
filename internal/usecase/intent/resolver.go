// Package intent converts one free-text administrator instruction into a
// validated ActionIntent. Classification is delegated to an external LLM
// oracle; everything downstream of the raw completion (JSON extraction,
// kind coercion, agent validation) lives here and is fully testable
// without a live model.
package intent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"leadpilot/internal/domain"
	"leadpilot/internal/infra/tracer"
	"leadpilot/internal/usecase/registry"
)

// FallbackConfidenceCap is the ceiling applied to confidence whenever the
// fallback agent is substituted for an unresolvable target.
const FallbackConfidenceCap = 0.5

// Resolver validates classifier output against the agent registry.
type Resolver struct {
	classifier domain.Classifier
	registry   *registry.Registry
	fallback   string // canonical fallback agent name
	historyMax int
	logger     *slog.Logger
}

// NewResolver creates a Resolver. fallback must be a registered agent name;
// historyMax bounds how many history turns reach the classifier.
func NewResolver(classifier domain.Classifier, reg *registry.Registry, fallback string, historyMax int, logger *slog.Logger) *Resolver {
	if historyMax <= 0 {
		historyMax = 10
	}
	return &Resolver{
		classifier: classifier,
		registry:   reg,
		fallback:   fallback,
		historyMax: historyMax,
		logger:     logger,
	}
}

// wireIntent is the raw classifier JSON shape before validation.
type wireIntent struct {
	IntentKind  string         `json:"intent_kind"`
	Confidence  float64        `json:"confidence"`
	TargetAgent string         `json:"target_agent"`
	Payload     map[string]any `json:"payload"`
}

// Resolve classifies instruction and returns a validated ActionIntent.
// On ErrClassifyParse the caller must treat the instruction as unknown
// intent with confidence 0 rather than fail the request.
func (r *Resolver) Resolve(ctx context.Context, instruction string, history []domain.HistoryTurn) (*domain.ActionIntent, error) {
	ctx, span := tracer.StartSpan(ctx, "intent.resolve",
		trace.WithAttributes(tracer.StringAttr("classifier", r.classifier.Name())),
	)
	defer span.End()

	if len(history) > r.historyMax {
		history = history[len(history)-r.historyMax:]
	}

	raw, err := r.classifier.Classify(ctx, domain.ClassifyRequest{
		Instruction: instruction,
		History:     history,
		AgentNames:  r.registry.Names(),
	})
	if err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapOp("Resolver.Resolve", err)
	}

	obj, err := ExtractJSONObject(raw)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var wire wireIntent
	if err := json.Unmarshal(obj, &wire); err != nil {
		perr := domain.NewDomainError("Resolver.Resolve", domain.ErrClassifyParse, err.Error())
		tracer.RecordError(span, perr)
		return nil, perr
	}

	intent := r.validate(wire)
	span.SetAttributes(
		tracer.StringAttr("intent.kind", string(intent.Kind)),
		tracer.StringAttr("intent.target", intent.TargetAgent),
	)
	tracer.SetOK(span)
	return intent, nil
}

// validate applies the post-classification rules. An unresolved agent
// name never travels downstream; the fallback agent is substituted and
// confidence capped instead.
func (r *Resolver) validate(wire wireIntent) *domain.ActionIntent {
	intent := &domain.ActionIntent{
		Kind:       domain.ParseIntentKind(wire.IntentKind),
		Confidence: clamp01(wire.Confidence),
		Payload:    wire.Payload,
	}

	if wire.TargetAgent == "" {
		return intent
	}

	desc, err := r.registry.Resolve(wire.TargetAgent)
	if err == nil {
		intent.TargetAgent = desc.Name
		return intent
	}
	if !errors.Is(err, domain.ErrNotFound) {
		// Resolve only fails with NotFound today; anything else would be
		// a registry bug, but the fallback policy still applies.
		r.logger.Error("unexpected registry error", "agent", wire.TargetAgent, "error", err)
	}

	r.logger.Warn("classifier named unknown agent, substituting fallback",
		"requested", wire.TargetAgent,
		"fallback", r.fallback,
	)
	intent.TargetAgent = r.fallback
	intent.FallbackApplied = true
	if intent.Confidence > FallbackConfidenceCap {
		intent.Confidence = FallbackConfidenceCap
	}
	return intent
}

// UnknownIntent is the degraded result for unparseable classifier output.
func UnknownIntent() *domain.ActionIntent {
	return &domain.ActionIntent{Kind: domain.IntentUnknown, Confidence: 0}
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
