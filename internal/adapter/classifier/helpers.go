// Package classifier implements the external LLM classification boundary:
// OpenAI-compatible and Anthropic backends behind domain.Classifier, plus
// a circuit breaker wrapper shared by both.
package classifier

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"leadpilot/internal/domain"
)

// maxResponseBody caps how much of a provider response body is read.
const maxResponseBody = 10 * 1024 * 1024 // 10 MB

// doJSONRequest performs a JSON POST and returns the response body.
// Non-200 responses map to domain sentinels via mapHTTPError.
func doJSONRequest(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, mapHTTPError(httpResp.StatusCode, respBody)
	}

	return respBody, nil
}

// mapHTTPError maps an HTTP status code + response body to a domain error
// so the circuit breaker and the orchestrator's error responses classify
// provider failures correctly.
func mapHTTPError(statusCode int, body []byte) error {
	detail := fmt.Sprintf("API error %d: %s", statusCode, string(body))

	switch {
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimit, detail)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, detail)
	case statusCode >= 500:
		return fmt.Errorf("%w: %s", domain.ErrProviderError, detail)
	default:
		return fmt.Errorf("%s", detail)
	}
}

// newHTTPClient builds a client with pooled transport sized for a single
// provider host with concurrent classification calls.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			MaxConnsPerHost:     20,
			IdleConnTimeout:     120 * time.Second,
			ForceAttemptHTTP2:   true,
		},
		Timeout: timeout,
	}
}

// systemPrompt builds the classification instructions, including the
// closed intent enumeration and the registered agent names.
func systemPrompt(agentNames []string) string {
	var b strings.Builder
	b.WriteString("You classify administrator instructions for a lead-generation agent platform.\n")
	b.WriteString("Respond with a single JSON object and nothing else. Fields:\n")
	b.WriteString(`  "intent_kind": one of update_config, execute_agent, get_system_state, orchestrate_workflow, schedule_task, cancel_task, help, unknown` + "\n")
	b.WriteString(`  "confidence": number between 0 and 1` + "\n")
	b.WriteString(`  "target_agent": the agent the instruction refers to, omitted when none applies` + "\n")
	b.WriteString(`  "payload": object with any parameters extracted from the instruction` + "\n")
	b.WriteString("Registered agents: ")
	b.WriteString(strings.Join(agentNames, ", "))
	b.WriteString("\nUse unknown with low confidence when the instruction fits no intent.")
	return b.String()
}

// userPrompt renders the conversation history followed by the instruction.
func userPrompt(req domain.ClassifyRequest) string {
	if len(req.History) == 0 {
		return req.Instruction
	}
	var b strings.Builder
	b.WriteString("Recent conversation:\n")
	for _, turn := range req.History {
		b.WriteString(turn.Sender)
		b.WriteString(": ")
		b.WriteString(turn.Message)
		b.WriteByte('\n')
	}
	b.WriteString("\nInstruction to classify:\n")
	b.WriteString(req.Instruction)
	return b.String()
}
