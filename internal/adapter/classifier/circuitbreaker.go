package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"leadpilot/internal/domain"
	"leadpilot/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// BreakerClassifier wraps a Classifier with circuit breaker protection.
// When the provider fails repeatedly, the circuit opens and calls fail
// fast without reaching the provider, preventing retry storms.
type BreakerClassifier struct {
	inner   domain.Classifier
	breaker *gobreaker.CircuitBreaker[string]
	logger  *slog.Logger
}

// NewBreakerClassifier wraps inner with a circuit breaker. Zero-valued
// settings get defaults.
func NewBreakerClassifier(inner domain.Classifier, cfg config.BreakerConfig, logger *slog.Logger) *BreakerClassifier {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	name := inner.Name()
	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "classifier:" + name,
		MaxRequests: 1, // one probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})

	return &BreakerClassifier{inner: inner, breaker: cb, logger: logger}
}

// Classify routes the call through the breaker.
func (b *BreakerClassifier) Classify(ctx context.Context, req domain.ClassifyRequest) (string, error) {
	out, err := b.breaker.Execute(func() (string, error) {
		return b.inner.Classify(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("classifier %q circuit open: %w", b.inner.Name(), domain.ErrProviderError)
		}
		return "", err
	}
	return out, nil
}

// Name implements domain.Classifier.
func (b *BreakerClassifier) Name() string { return b.inner.Name() }

// State returns the breaker state for system-state reads.
func (b *BreakerClassifier) State() gobreaker.State { return b.breaker.State() }

var _ domain.Classifier = (*BreakerClassifier)(nil)

// New builds the configured provider wrapped in a circuit breaker.
func New(cfg config.ClassifierConfig, logger *slog.Logger) (domain.Classifier, error) {
	var inner domain.Classifier
	switch cfg.Provider {
	case "openai":
		inner = NewOpenAIClassifier(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Timeout, logger)
	case "anthropic":
		inner = NewAnthropicClassifier(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Timeout, logger)
	default:
		return nil, fmt.Errorf("classifier provider %q not supported", cfg.Provider)
	}
	return NewBreakerClassifier(inner, cfg.Breaker, logger), nil
}
