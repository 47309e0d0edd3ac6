package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Use with NewSubSystemError for subsystem-specific
// errors (agent, intent, workflow, interaction, schedule, classifier).
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrDuplicate    = fmt.Errorf("duplicate")
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrInvalidInput = fmt.Errorf("invalid input")

	// Classifier boundary errors.
	ErrClassifyParse = fmt.Errorf("classifier output contained no JSON object")
	ErrRateLimit     = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid   = fmt.Errorf("authentication failed")
	ErrProviderError = fmt.Errorf("provider error")

	// Dispatch errors.
	ErrHandlerFailed    = fmt.Errorf("agent handler failed")
	ErrInteractionWrite = fmt.Errorf("interaction log write failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Executor.Run")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier; used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem so that
// ErrorCodeOf can map the sentinel + subsystem pair to a specific code.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for monitoring.
type ErrorCode string

const (
	CodeUnknown          ErrorCode = "UNKNOWN"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeDuplicate        ErrorCode = "DUPLICATE"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
	CodeClassifyParse    ErrorCode = "CLASSIFY_PARSE"
	CodeRateLimit        ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid      ErrorCode = "AUTH_INVALID"
	CodeProviderError    ErrorCode = "PROVIDER_ERROR"
	CodeHandlerFailed    ErrorCode = "HANDLER_FAILED"
	CodeInteractionWrite ErrorCode = "INTERACTION_WRITE"

	// Subsystem-specific codes resolved via subSystemCodeMap.
	CodeAgentNotFound    ErrorCode = "AGENT_NOT_FOUND"
	CodeWorkflowNotFound ErrorCode = "WORKFLOW_NOT_FOUND"
	CodeScheduleNotFound ErrorCode = "SCHEDULE_NOT_FOUND"
	CodeWorkflowTimeout  ErrorCode = "WORKFLOW_TIMEOUT"
	CodeWorkflowInvalid  ErrorCode = "WORKFLOW_INVALID_STEP"
	CodeScheduleInvalid  ErrorCode = "SCHEDULE_INVALID"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:         CodeNotFound,
	ErrDuplicate:        CodeDuplicate,
	ErrTimeout:          CodeTimeout,
	ErrInvalidInput:     CodeInvalidInput,
	ErrClassifyParse:    CodeClassifyParse,
	ErrRateLimit:        CodeRateLimit,
	ErrAuthInvalid:      CodeAuthInvalid,
	ErrProviderError:    CodeProviderError,
	ErrHandlerFailed:    CodeHandlerFailed,
	ErrInteractionWrite: CodeInteractionWrite,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to codes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"agent":    CodeAgentNotFound,
		"workflow": CodeWorkflowNotFound,
		"schedule": CodeScheduleNotFound,
	},
	ErrTimeout: {
		"workflow": CodeWorkflowTimeout,
	},
	ErrInvalidInput: {
		"workflow": CodeWorkflowInvalid,
		"schedule": CodeScheduleInvalid,
	},
}

// ErrorCodeOf returns the machine-parseable error code for err.
// It unwraps DomainError, checks subsystem-specific mappings first, and
// falls back to walking the error chain with errors.Is.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if de.SubSystem != "" {
			if subsysMap, ok := subSystemCodeMap[de.Err]; ok {
				if code, ok := subsysMap[de.SubSystem]; ok {
					return code
				}
			}
		}
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
