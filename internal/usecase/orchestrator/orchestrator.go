// Package orchestrator is the single entry point for free-text
// administrator instructions: classify, branch on the resolved intent,
// execute, log, and answer with one structured response.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"leadpilot/internal/domain"
	"leadpilot/internal/infra/tracer"
	"leadpilot/internal/usecase/eventbus"
	"leadpilot/internal/usecase/intent"
	"leadpilot/internal/usecase/interactions"
	"leadpilot/internal/usecase/registry"
	"leadpilot/internal/usecase/scheduling"
	"leadpilot/internal/usecase/workflow"
)

// AdminName is the FromAgent recorded for instruction interactions.
const AdminName = "admin"

// Response is the single structured answer every instruction receives.
type Response struct {
	ContextID  string            `json:"context_id"`
	Intent     domain.IntentKind `json:"intent"`
	Confidence float64           `json:"confidence"`
	Status     string            `json:"status"` // success or error
	Message    string            `json:"message"`
	Data       map[string]any    `json:"data,omitempty"`
	ErrorCode  domain.ErrorCode  `json:"error_code,omitempty"`
}

// Orchestrator wires the resolver, registry, executor, scheduler, and
// settings store behind HandleInstruction.
type Orchestrator struct {
	resolver      *intent.Resolver
	registry      *registry.Registry
	executor      *workflow.Executor
	scheduler     *scheduling.Service // nil when scheduling is disabled
	settings      *SettingsStore
	log           *interactions.Service
	bus           *eventbus.Bus
	invokeTimeout time.Duration
	logger        *slog.Logger
}

// New creates an Orchestrator. scheduler may be nil; schedule_task and
// cancel_task instructions then answer with an explanatory error.
func New(
	resolver *intent.Resolver,
	reg *registry.Registry,
	executor *workflow.Executor,
	scheduler *scheduling.Service,
	settings *SettingsStore,
	log *interactions.Service,
	bus *eventbus.Bus,
	invokeTimeout time.Duration,
	logger *slog.Logger,
) *Orchestrator {
	if invokeTimeout <= 0 {
		invokeTimeout = 60 * time.Second
	}
	return &Orchestrator{
		resolver:      resolver,
		registry:      reg,
		executor:      executor,
		scheduler:     scheduler,
		settings:      settings,
		log:           log,
		bus:           bus,
		invokeTimeout: invokeTimeout,
		logger:        logger,
	}
}

// HandleInstruction processes one instruction end to end. It never returns
// an error and never panics outward: downstream failures and panics are
// caught, logged with their diagnostic detail, and surfaced in the
// response with the real cause.
func (o *Orchestrator) HandleInstruction(ctx context.Context, text string, history []domain.HistoryTurn, contextID string) (resp *Response) {
	if contextID == "" {
		contextID = ulid.Make().String()
	}

	ctx, span := tracer.StartSpan(ctx, "orchestrator.handle",
		trace.WithAttributes(tracer.StringAttr("context_id", contextID)),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("instruction handling panicked", "context_id", contextID, "panic", r)
			resp = &Response{
				ContextID: contextID,
				Intent:    domain.IntentUnknown,
				Status:    domain.StatusError,
				Message:   fmt.Sprintf("internal failure while handling instruction: %v", r),
				ErrorCode: domain.CodeUnknown,
			}
			o.respond(ctx, resp)
		}
	}()

	o.bus.Emit(ctx, domain.EventInstructionReceived, map[string]string{"context_id": contextID, "text": text})
	o.log.Log(ctx, domain.InteractionRecord{
		FromAgent: AdminName,
		Message:   text,
		ContextID: contextID,
	})

	action, err := o.resolver.Resolve(ctx, text, history)
	if err != nil {
		if errors.Is(err, domain.ErrClassifyParse) {
			// Unparseable classifier output degrades to unknown intent
			// rather than failing the instruction.
			o.logger.Warn("classifier output unparseable, treating as unknown", "context_id", contextID, "error", err)
			action = intent.UnknownIntent()
		} else {
			o.logger.Error("classification failed", "context_id", contextID, "error", err)
			resp = &Response{
				ContextID: contextID,
				Intent:    domain.IntentUnknown,
				Status:    domain.StatusError,
				Message:   fmt.Sprintf("classification failed: %v", err),
				ErrorCode: domain.ErrorCodeOf(err),
			}
			o.respond(ctx, resp)
			return resp
		}
	}

	span.SetAttributes(tracer.StringAttr("intent", string(action.Kind)))
	o.bus.Emit(ctx, domain.EventInstructionClassified, action)
	o.logger.Info("instruction classified",
		"context_id", contextID,
		"intent", string(action.Kind),
		"confidence", action.Confidence,
		"target_agent", action.TargetAgent,
		"fallback_applied", action.FallbackApplied,
	)

	resp = o.dispatch(ctx, action, contextID)
	resp.ContextID = contextID
	resp.Intent = action.Kind
	resp.Confidence = action.Confidence
	o.respond(ctx, resp)
	return resp
}

// respond records the outgoing response as an interaction and publishes
// the responded event.
func (o *Orchestrator) respond(ctx context.Context, resp *Response) {
	severity := domain.SeverityInfo
	if resp.Status == domain.StatusError {
		severity = domain.SeverityError
	}
	o.log.Log(ctx, domain.InteractionRecord{
		FromAgent: "Orchestrator",
		ToAgent:   AdminName,
		Message:   resp.Message,
		ContextID: resp.ContextID,
		Severity:  severity,
	})
	o.bus.Emit(ctx, domain.EventInstructionResponded, resp)
}

// dispatch branches on the resolved intent kind.
func (o *Orchestrator) dispatch(ctx context.Context, action *domain.ActionIntent, contextID string) *Response {
	switch action.Kind {
	case domain.IntentExecuteAgent:
		return o.executeAgent(ctx, action, contextID)
	case domain.IntentOrchestrateWorkflow:
		return o.orchestrateWorkflow(ctx, action, contextID)
	case domain.IntentUpdateConfig:
		return o.updateConfig(ctx, action)
	case domain.IntentGetSystemState:
		return o.systemState(ctx)
	case domain.IntentScheduleTask:
		return o.scheduleTask(ctx, action)
	case domain.IntentCancelTask:
		return o.cancelTask(ctx, action)
	case domain.IntentHelp:
		return o.help()
	default:
		return &Response{
			Status:  domain.StatusSuccess,
			Message: "I could not map that instruction to an action. Try rephrasing, or ask for help to see what I can do.",
			Data:    map[string]any{"agents": o.registry.Names()},
		}
	}
}

func (o *Orchestrator) executeAgent(ctx context.Context, action *domain.ActionIntent, contextID string) *Response {
	if action.TargetAgent == "" {
		return errorResponse(domain.NewSubSystemError("agent", "Orchestrator.executeAgent", domain.ErrInvalidInput,
			"instruction names no agent to execute"))
	}
	desc, err := o.registry.Resolve(action.TargetAgent)
	if err != nil {
		return errorResponse(err)
	}

	// Copy before augmenting so the resolved intent stays untouched.
	payload := make(domain.Payload, len(action.Payload)+1)
	for k, v := range action.Payload {
		payload[k] = v
	}
	if _, ok := payload["context"]; !ok {
		payload["context"] = map[string]any{"context_id": contextID}
	}

	invokeCtx, cancel := context.WithTimeout(ctx, o.invokeTimeout)
	defer cancel()

	result, err := desc.Handler.Invoke(invokeCtx, payload)
	if err != nil {
		if invokeCtx.Err() == context.DeadlineExceeded {
			err = domain.NewDomainError("Orchestrator.executeAgent", domain.ErrTimeout,
				fmt.Sprintf("%s did not answer within %s", desc.Name, o.invokeTimeout))
		}
		o.logger.Error("agent invocation failed", "agent", desc.Name, "context_id", contextID, "error", err)
		return errorResponse(err)
	}

	o.log.Log(ctx, domain.InteractionRecord{
		FromAgent: "Orchestrator",
		ToAgent:   desc.Name,
		Message:   fmt.Sprintf("executed %s on admin instruction", desc.Name),
		ContextID: contextID,
	})

	message := fmt.Sprintf("%s executed", desc.Name)
	if action.FallbackApplied {
		message = fmt.Sprintf("requested agent was unknown; executed fallback %s instead", desc.Name)
	}
	return &Response{
		Status:  domain.StatusSuccess,
		Message: message,
		Data:    map[string]any{"agent": desc.Name, "result": map[string]any(result)},
	}
}

func (o *Orchestrator) orchestrateWorkflow(ctx context.Context, action *domain.ActionIntent, contextID string) *Response {
	name, _ := action.Payload["workflow"].(string)
	if name == "" {
		return errorResponse(domain.NewSubSystemError("workflow", "Orchestrator.orchestrateWorkflow", domain.ErrInvalidInput,
			"instruction names no workflow"))
	}

	trigger, _ := action.Payload["trigger"].(map[string]any)
	result, err := o.executor.Run(ctx, name, domain.Payload(trigger), contextID)
	if err != nil {
		return errorResponse(err)
	}

	if result.Status == domain.WorkflowFailed {
		return &Response{
			Status: domain.StatusError,
			Message: fmt.Sprintf("workflow %s failed at step %d (%s): %s",
				result.Workflow, result.FailedStep, result.FailedAgent, result.Error),
			Data:      map[string]any{"run": result},
			ErrorCode: domain.CodeHandlerFailed,
		}
	}
	return &Response{
		Status:  domain.StatusSuccess,
		Message: fmt.Sprintf("workflow %s completed in %s", result.Workflow, result.Duration.Round(time.Millisecond)),
		Data:    map[string]any{"run": result},
	}
}

func (o *Orchestrator) updateConfig(ctx context.Context, action *domain.ActionIntent) *Response {
	if action.TargetAgent == "" {
		return errorResponse(domain.NewSubSystemError("agent", "Orchestrator.updateConfig", domain.ErrInvalidInput,
			"instruction names no agent to configure"))
	}
	if len(action.Payload) == 0 {
		return errorResponse(domain.NewDomainError("Orchestrator.updateConfig", domain.ErrInvalidInput,
			"instruction carries no settings to apply"))
	}

	updated, err := o.settings.Update(action.TargetAgent, action.Payload)
	if err != nil {
		o.logger.Error("settings update failed", "agent", action.TargetAgent, "error", err)
		return errorResponse(err)
	}

	o.bus.Emit(ctx, domain.EventConfigUpdated, map[string]any{
		"agent": action.TargetAgent, "settings": updated,
	})
	message := fmt.Sprintf("configuration updated for %s", action.TargetAgent)
	if action.FallbackApplied {
		message = fmt.Sprintf("requested agent was unknown; configuration updated for fallback %s instead", action.TargetAgent)
	}
	return &Response{
		Status:  domain.StatusSuccess,
		Message: message,
		Data:    map[string]any{"agent": action.TargetAgent, "settings": updated},
	}
}

func (o *Orchestrator) systemState(ctx context.Context) *Response {
	data := map[string]any{
		"agents":       o.registry.Names(),
		"workflows":    o.executor.Names(),
		"interactions": o.log.Stats(ctx),
		"settings":     o.settings.All(),
	}
	if o.scheduler != nil {
		tasks, err := o.scheduler.List(ctx)
		if err != nil {
			o.logger.Error("task listing failed during state read", "error", err)
		} else {
			data["scheduled_tasks"] = tasks
		}
	}
	return &Response{
		Status:  domain.StatusSuccess,
		Message: "system state",
		Data:    data,
	}
}

func (o *Orchestrator) scheduleTask(ctx context.Context, action *domain.ActionIntent) *Response {
	if o.scheduler == nil {
		return errorResponse(domain.NewSubSystemError("schedule", "Orchestrator.scheduleTask", domain.ErrInvalidInput,
			"scheduling is disabled in this deployment"))
	}
	schedule, _ := action.Payload["schedule"].(string)
	if action.TargetAgent == "" || schedule == "" {
		return errorResponse(domain.NewSubSystemError("schedule", "Orchestrator.scheduleTask", domain.ErrInvalidInput,
			"scheduling needs both an agent and a schedule"))
	}
	payload, _ := action.Payload["payload"].(map[string]any)
	oneShot, _ := action.Payload["one_shot"].(bool)

	task, err := o.scheduler.Schedule(ctx, action.TargetAgent, schedule, payload, oneShot)
	if err != nil {
		return errorResponse(err)
	}
	return &Response{
		Status:  domain.StatusSuccess,
		Message: fmt.Sprintf("task %s scheduled: %s runs %q", task.ID, task.Agent, task.Schedule),
		Data:    map[string]any{"task": task},
	}
}

func (o *Orchestrator) cancelTask(ctx context.Context, action *domain.ActionIntent) *Response {
	if o.scheduler == nil {
		return errorResponse(domain.NewSubSystemError("schedule", "Orchestrator.cancelTask", domain.ErrInvalidInput,
			"scheduling is disabled in this deployment"))
	}
	taskID, _ := action.Payload["task_id"].(string)
	if taskID == "" {
		return errorResponse(domain.NewSubSystemError("schedule", "Orchestrator.cancelTask", domain.ErrInvalidInput,
			"instruction names no task id"))
	}
	if err := o.scheduler.Cancel(ctx, taskID); err != nil {
		return errorResponse(err)
	}
	return &Response{
		Status:  domain.StatusSuccess,
		Message: fmt.Sprintf("task %s cancelled", taskID),
	}
}

func (o *Orchestrator) help() *Response {
	var b strings.Builder
	b.WriteString("I coordinate the lead-generation agents. I can: ")
	b.WriteString("execute an agent, run a workflow, update an agent's configuration, ")
	b.WriteString("report system state, schedule or cancel a deferred task.")
	return &Response{
		Status:  domain.StatusSuccess,
		Message: b.String(),
		Data: map[string]any{
			"agents":    o.registry.Names(),
			"workflows": o.executor.Names(),
		},
	}
}

// errorResponse surfaces the real cause: the error text verbatim plus the
// machine-parseable code, never a generic message.
func errorResponse(err error) *Response {
	return &Response{
		Status:    domain.StatusError,
		Message:   err.Error(),
		ErrorCode: domain.ErrorCodeOf(err),
	}
}
