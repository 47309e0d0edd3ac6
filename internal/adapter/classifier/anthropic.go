package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"leadpilot/internal/domain"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	anthropicMaxTokens      = 1024
)

// AnthropicClassifier calls the Anthropic messages endpoint.
type AnthropicClassifier struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewAnthropicClassifier creates a classifier against baseURL (the
// official API when empty).
func NewAnthropicClassifier(apiKey, model, baseURL string, timeout time.Duration, logger *slog.Logger) *AnthropicClassifier {
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	return &AnthropicClassifier{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  newHTTPClient(timeout),
		logger:  logger,
	}
}

func (c *AnthropicClassifier) Name() string { return "anthropic" }

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Classify sends the classification prompt and returns the raw completion.
func (c *AnthropicClassifier) Classify(ctx context.Context, req domain.ClassifyRequest) (string, error) {
	body, err := json.Marshal(anthropicRequest{
		Model:     c.model,
		MaxTokens: anthropicMaxTokens,
		System:    systemPrompt(req.AgentNames),
		Messages: []anthropicMessage{
			{Role: "user", Content: userPrompt(req)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := doJSONRequest(ctx, c.client, c.baseURL+"/v1/messages", body, map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": anthropicVersion,
	})
	if err != nil {
		return "", err
	}

	var resp anthropicResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", domain.ErrProviderError, err)
	}
	for _, block := range resp.Content {
		if block.Type == "text" {
			c.logger.Debug("classification completed", "provider", c.Name(), "model", c.model)
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("%w: response contained no text block", domain.ErrProviderError)
}

var _ domain.Classifier = (*AnthropicClassifier)(nil)
