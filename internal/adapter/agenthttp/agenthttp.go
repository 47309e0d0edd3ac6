// Package agenthttp invokes external agents over HTTP. Each configured
// agent exposes one endpoint accepting {action, parameters, context} and
// answering {status, ...}.
package agenthttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"leadpilot/internal/domain"
	"leadpilot/internal/infra/config"
	"leadpilot/internal/usecase/registry"
)

// maxResponseBody caps how much of an agent response body is read.
const maxResponseBody = 10 * 1024 * 1024 // 10 MB

// Handler is the domain.AgentHandler for one HTTP-backed agent.
type Handler struct {
	name     string
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewHandler creates an HTTP handler for one agent endpoint. The client
// is shared across handlers so the connection pool spans all agents.
func NewHandler(name, endpoint string, client *http.Client, logger *slog.Logger) *Handler {
	return &Handler{name: name, endpoint: endpoint, client: client, logger: logger}
}

// NewClient builds the pooled HTTP client shared by all agent handlers.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        50,
			MaxIdleConnsPerHost: 5,
			IdleConnTimeout:     90 * time.Second,
		},
		Timeout: timeout,
	}
}

type wireRequest struct {
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters"`
	Context    map[string]any `json:"context,omitempty"`
}

// buildRequest maps a payload onto the wire contract. The "action" and
// "context" keys are lifted out; an explicit "parameters" sub-map wins,
// otherwise every remaining key becomes a parameter.
func buildRequest(payload domain.Payload) wireRequest {
	req := wireRequest{Parameters: map[string]any{}}
	req.Action, _ = payload["action"].(string)
	req.Context, _ = payload["context"].(map[string]any)

	if params, ok := payload["parameters"].(map[string]any); ok {
		req.Parameters = params
		return req
	}
	for k, v := range payload {
		if k == "action" || k == "context" {
			continue
		}
		req.Parameters[k] = v
	}
	return req
}

// Invoke posts the payload to the agent endpoint and decodes the result.
// Transport failures, non-200 statuses, and undecodable bodies all
// surface as ErrHandlerFailed.
func (h *Handler) Invoke(ctx context.Context, payload domain.Payload) (domain.Result, error) {
	body, err := json.Marshal(buildRequest(payload))
	if err != nil {
		return nil, domain.NewDomainError("agenthttp.Invoke", domain.ErrHandlerFailed,
			fmt.Sprintf("%s: marshal request: %v", h.name, err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewDomainError("agenthttp.Invoke", domain.ErrHandlerFailed,
			fmt.Sprintf("%s: create request: %v", h.name, err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, domain.NewDomainError("agenthttp.Invoke", domain.ErrHandlerFailed,
			fmt.Sprintf("%s: %v", h.name, err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, domain.NewDomainError("agenthttp.Invoke", domain.ErrHandlerFailed,
			fmt.Sprintf("%s: read response: %v", h.name, err))
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, domain.NewDomainError("agenthttp.Invoke", domain.ErrHandlerFailed,
			fmt.Sprintf("%s: status %d: %s", h.name, httpResp.StatusCode, respBody))
	}

	var result domain.Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, domain.NewDomainError("agenthttp.Invoke", domain.ErrHandlerFailed,
			fmt.Sprintf("%s: decode response: %v", h.name, err))
	}

	h.logger.Debug("agent invoked", "agent", h.name, "duration", time.Since(start))
	return result, nil
}

// RegisterAll builds handlers for every configured agent instance and
// registers them. Called once from the composition root.
func RegisterAll(reg *registry.Registry, cfg config.AgentsConfig, logger *slog.Logger) {
	client := NewClient(cfg.InvokeTimeout)
	for _, inst := range cfg.Instances {
		reg.Register(domain.AgentDescriptor{
			Name:        inst.Name,
			Description: inst.Description,
			Handler:     NewHandler(inst.Name, inst.Endpoint, client, logger),
		})
	}
}

var _ domain.AgentHandler = (*Handler)(nil)
