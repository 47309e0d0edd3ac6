package domain

import "time"

// TriggerKey is the reserved output key under which the external trigger
// payload is seeded. A step with an empty input key reads from it.
const TriggerKey = ""

// WorkflowStep is one unit of a workflow: invoke Agent with the value
// stored under InputKey, store the result under OutputKey.
type WorkflowStep struct {
	Agent     string `yaml:"agent" json:"agent"`
	InputKey  string `yaml:"input,omitempty" json:"input,omitempty"` // empty = trigger payload
	OutputKey string `yaml:"output" json:"output"`
}

// FromTrigger reports whether the step reads the external trigger payload
// rather than an earlier step's output.
func (s WorkflowStep) FromTrigger() bool { return s.InputKey == TriggerKey }

// WorkflowDefinition is a named, ordered sequence of agent invocations.
// Definitions are plain data loaded once at startup; steps execute in the
// literal order declared, with no parallelism or conditional skipping.
type WorkflowDefinition struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Steps       []WorkflowStep `yaml:"steps" json:"steps"`
}

// Workflow run status values.
const (
	WorkflowCompleted = "completed"
	WorkflowFailed    = "failed"
)

// WorkflowResult reports one workflow execution: the final step's output,
// the complete output-key map for diagnostics, and on failure the index
// and agent of the step that aborted the run.
type WorkflowResult struct {
	RunID    string                    `json:"run_id"`
	Workflow string                    `json:"workflow"`
	Status   string                    `json:"status"`
	Output   Result                    `json:"output,omitempty"`  // final step's output
	Outputs  map[string]map[string]any `json:"outputs,omitempty"` // output key → value
	Duration time.Duration             `json:"duration"`

	// Failure details (Status == WorkflowFailed). FailedStep is the
	// zero-based index of the aborting step.
	FailedStep  int    `json:"failed_step"`
	FailedAgent string `json:"failed_agent,omitempty"`
	Error       string `json:"error,omitempty"`
}
