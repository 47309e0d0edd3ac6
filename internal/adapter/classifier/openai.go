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

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIClassifier calls an OpenAI-compatible chat completions endpoint.
type OpenAIClassifier struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewOpenAIClassifier creates a classifier against baseURL (the official
// API when empty). Any server speaking the chat completions dialect works.
func NewOpenAIClassifier(apiKey, model, baseURL string, timeout time.Duration, logger *slog.Logger) *OpenAIClassifier {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &OpenAIClassifier{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  newHTTPClient(timeout),
		logger:  logger,
	}
}

func (c *OpenAIClassifier) Name() string { return "openai" }

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Classify sends the classification prompt and returns the raw completion.
func (c *OpenAIClassifier) Classify(ctx context.Context, req domain.ClassifyRequest) (string, error) {
	body, err := json.Marshal(openAIRequest{
		Model: c.model,
		Messages: []openAIMessage{
			{Role: "system", Content: systemPrompt(req.AgentNames)},
			{Role: "user", Content: userPrompt(req)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := doJSONRequest(ctx, c.client, c.baseURL+"/chat/completions", body, map[string]string{
		"Authorization": "Bearer " + c.apiKey,
	})
	if err != nil {
		return "", err
	}

	var resp openAIResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", domain.ErrProviderError, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: response contained no choices", domain.ErrProviderError)
	}

	c.logger.Debug("classification completed", "provider", c.Name(), "model", c.model)
	return resp.Choices[0].Message.Content, nil
}

var _ domain.Classifier = (*OpenAIClassifier)(nil)
