package domain

import "context"

// Payload is the structured input passed to an agent handler.
// By convention it carries an "action" field plus a "parameters" sub-map.
type Payload map[string]any

// Result is the structured output returned by an agent handler.
// By convention it carries a "status" field ("success" or "error") and
// either a "message"/"response" field or a domain payload such as "leads".
type Result map[string]any

// Status values used in handler results and orchestrator responses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// AgentHandler is the invocable capability registered for an agent name.
// Handlers are external collaborators (scrapers, cleaners, messengers);
// the orchestration core only depends on this calling contract.
type AgentHandler interface {
	Invoke(ctx context.Context, payload Payload) (Result, error)
}

// HandlerFunc adapts a plain function to AgentHandler.
type HandlerFunc func(ctx context.Context, payload Payload) (Result, error)

func (f HandlerFunc) Invoke(ctx context.Context, payload Payload) (Result, error) {
	return f(ctx, payload)
}

// AgentDescriptor binds a canonical agent name to its handler.
// Descriptors are registered once at startup and immutable afterwards.
type AgentDescriptor struct {
	Name        string
	Description string
	Handler     AgentHandler
}
