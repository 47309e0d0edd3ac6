package domain

import "context"

// IntentKind classifies an administrator instruction into one of the
// fixed actions the orchestrator knows how to execute.
type IntentKind string

const (
	IntentUpdateConfig        IntentKind = "update_config"
	IntentExecuteAgent        IntentKind = "execute_agent"
	IntentGetSystemState      IntentKind = "get_system_state"
	IntentOrchestrateWorkflow IntentKind = "orchestrate_workflow"
	IntentScheduleTask        IntentKind = "schedule_task"
	IntentCancelTask          IntentKind = "cancel_task"
	IntentHelp                IntentKind = "help"
	IntentUnknown             IntentKind = "unknown"
)

// validIntentKinds is the closed enumeration accepted from the classifier.
var validIntentKinds = map[IntentKind]bool{
	IntentUpdateConfig:        true,
	IntentExecuteAgent:        true,
	IntentGetSystemState:      true,
	IntentOrchestrateWorkflow: true,
	IntentScheduleTask:        true,
	IntentCancelTask:          true,
	IntentHelp:                true,
	IntentUnknown:             true,
}

// ParseIntentKind coerces an arbitrary classifier string to a valid kind.
// Anything outside the enumeration becomes IntentUnknown.
func ParseIntentKind(s string) IntentKind {
	k := IntentKind(s)
	if validIntentKinds[k] {
		return k
	}
	return IntentUnknown
}

// ActionIntent is the validated, structured form of one instruction.
// TargetAgent, when set, always resolves in the registry: the resolver
// substitutes the fallback agent for unknown names before returning.
type ActionIntent struct {
	Kind        IntentKind     `json:"intent_kind"`
	Confidence  float64        `json:"confidence"`
	TargetAgent string         `json:"target_agent,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`

	// FallbackApplied records that TargetAgent was substituted because
	// the classifier named an unregistered agent.
	FallbackApplied bool `json:"-"`
}

// HistoryTurn is one prior exchange included in the classification request.
type HistoryTurn struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

// ClassifyRequest is the input to the external classification oracle.
type ClassifyRequest struct {
	Instruction string
	History     []HistoryTurn
	AgentNames  []string
}

// Classifier is the external LLM boundary. Implementations return the raw
// completion text; the intent resolver owns all parsing and validation so
// the oracle can be swapped or mocked without touching downstream logic.
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (string, error)
	Name() string
}
