package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorCodeOfSentinels(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorCode
	}{
		{ErrNotFound, CodeNotFound},
		{ErrClassifyParse, CodeClassifyParse},
		{ErrHandlerFailed, CodeHandlerFailed},
		{ErrInteractionWrite, CodeInteractionWrite},
		{nil, CodeUnknown},
		{errors.New("something else"), CodeUnknown},
	}
	for _, tt := range tests {
		if got := ErrorCodeOf(tt.err); got != tt.want {
			t.Errorf("ErrorCodeOf(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestErrorCodeOfSubSystem(t *testing.T) {
	err := NewSubSystemError("agent", "Registry.Resolve", ErrNotFound, "SuperScraperAgent")
	if got := ErrorCodeOf(err); got != CodeAgentNotFound {
		t.Errorf("ErrorCodeOf = %v, want %v", got, CodeAgentNotFound)
	}

	err = NewSubSystemError("workflow", "Executor.Run", ErrNotFound, "no_such_workflow")
	if got := ErrorCodeOf(err); got != CodeWorkflowNotFound {
		t.Errorf("ErrorCodeOf = %v, want %v", got, CodeWorkflowNotFound)
	}

	// Unknown subsystem falls back to the category code.
	err = NewSubSystemError("other", "op", ErrNotFound, "")
	if got := ErrorCodeOf(err); got != CodeNotFound {
		t.Errorf("ErrorCodeOf = %v, want %v", got, CodeNotFound)
	}
}

func TestErrorCodeOfWrapped(t *testing.T) {
	err := fmt.Errorf("outer: %w", ErrRateLimit)
	if got := ErrorCodeOf(err); got != CodeRateLimit {
		t.Errorf("ErrorCodeOf = %v, want %v", got, CodeRateLimit)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("Orchestrator.dispatch", ErrHandlerFailed, "ScraperAgent panicked")
	if !errors.Is(err, ErrHandlerFailed) {
		t.Error("expected errors.Is(err, ErrHandlerFailed)")
	}
	want := "Orchestrator.dispatch: ScraperAgent panicked: agent handler failed"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrapOpNil(t *testing.T) {
	if WrapOp("op", nil) != nil {
		t.Error("WrapOp(nil) should be nil")
	}
}

func TestParseIntentKind(t *testing.T) {
	if got := ParseIntentKind("execute_agent"); got != IntentExecuteAgent {
		t.Errorf("got %v", got)
	}
	if got := ParseIntentKind("launch_missiles"); got != IntentUnknown {
		t.Errorf("unrecognized kind should coerce to unknown, got %v", got)
	}
	if got := ParseIntentKind(""); got != IntentUnknown {
		t.Errorf("empty kind should coerce to unknown, got %v", got)
	}
}
