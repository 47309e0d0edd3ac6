package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"leadpilot/internal/domain"
	"leadpilot/internal/infra/tracer"
	"leadpilot/internal/usecase/eventbus"
	"leadpilot/internal/usecase/interactions"
	"leadpilot/internal/usecase/registry"
)

// EngineName is the FromAgent recorded on workflow-generated interactions.
const EngineName = "WorkflowEngine"

// Executor runs workflow definitions step by step. It holds no per-run
// state, so one Executor serves concurrent runs.
type Executor struct {
	registry    *registry.Registry
	library     *Library
	log         *interactions.Service
	bus         *eventbus.Bus
	stepTimeout time.Duration
	logger      *slog.Logger
}

// NewExecutor creates an Executor. stepTimeout bounds each agent
// invocation; zero disables the per-step deadline.
func NewExecutor(reg *registry.Registry, lib *Library, log *interactions.Service, bus *eventbus.Bus, stepTimeout time.Duration, logger *slog.Logger) *Executor {
	return &Executor{
		registry:    reg,
		library:     lib,
		log:         log,
		bus:         bus,
		stepTimeout: stepTimeout,
		logger:      logger,
	}
}

// Names lists the runnable workflow names.
func (e *Executor) Names() []string { return e.library.Names() }

// Run executes the named workflow with trigger as the seed payload.
// An unknown workflow name returns an error; execution failures are
// reported inside the WorkflowResult with the aborting step's index and
// agent. Remaining steps never run after a failure.
func (e *Executor) Run(ctx context.Context, name string, trigger domain.Payload, contextID string) (*domain.WorkflowResult, error) {
	def, err := e.library.Get(name)
	if err != nil {
		return nil, err
	}

	runID := ulid.Make().String()
	ctx, span := tracer.StartSpan(ctx, "workflow.run",
		trace.WithAttributes(
			tracer.StringAttr("workflow", name),
			tracer.StringAttr("run_id", runID),
			tracer.IntAttr("steps", len(def.Steps)),
		),
	)
	defer span.End()

	started := time.Now()
	outputs := map[string]map[string]any{
		domain.TriggerKey: map[string]any(trigger),
	}

	e.logger.Info("workflow started", "workflow", name, "run_id", runID, "steps", len(def.Steps))
	e.bus.Emit(ctx, domain.EventWorkflowStarted, map[string]any{
		"workflow": name, "run_id": runID, "steps": len(def.Steps),
	})

	prevAgent := EngineName
	for i, step := range def.Steps {
		stepResult, stepAgent, err := e.runStep(ctx, def, i, step, prevAgent, outputs, runID, contextID)
		if err != nil {
			result := &domain.WorkflowResult{
				RunID:       runID,
				Workflow:    name,
				Status:      domain.WorkflowFailed,
				Outputs:     outputs,
				Duration:    time.Since(started),
				FailedStep:  i,
				FailedAgent: step.Agent,
				Error:       err.Error(),
			}
			e.logger.Error("workflow failed",
				"workflow", name,
				"run_id", runID,
				"step", i,
				"agent", step.Agent,
				"error", err,
			)
			e.log.Log(ctx, domain.InteractionRecord{
				FromAgent: EngineName,
				ToAgent:   step.Agent,
				Message:   fmt.Sprintf("workflow %s aborted at step %d: %v", name, i, err),
				ContextID: contextID,
				Severity:  domain.SeverityError,
			})
			e.bus.Emit(ctx, domain.EventWorkflowFailed, result)
			tracer.RecordError(span, err)
			return result, nil
		}
		outputs[step.OutputKey] = stepResult
		prevAgent = stepAgent
	}

	final := outputs[def.Steps[len(def.Steps)-1].OutputKey]
	result := &domain.WorkflowResult{
		RunID:    runID,
		Workflow: name,
		Status:   domain.WorkflowCompleted,
		Output:   domain.Result(final),
		Outputs:  outputs,
		Duration: time.Since(started),
	}
	e.logger.Info("workflow completed", "workflow", name, "run_id", runID, "duration", result.Duration)
	e.bus.Emit(ctx, domain.EventWorkflowCompleted, result)
	tracer.SetOK(span)
	return result, nil
}

// runStep resolves and invokes one step's agent. Unknown agents fail fast:
// the fallback policy applies only to free-text instructions, never inside
// a declared workflow. The interaction recorded for the step names the
// previous step's agent as the sender, preserving the data lineage.
func (e *Executor) runStep(ctx context.Context, def domain.WorkflowDefinition, index int, step domain.WorkflowStep, fromAgent string, outputs map[string]map[string]any, runID, contextID string) (map[string]any, string, error) {
	desc, err := e.registry.Resolve(step.Agent)
	if err != nil {
		return nil, "", err
	}

	input, ok := outputs[step.InputKey]
	if !ok {
		// Load-time validation makes this unreachable; guard anyway.
		return nil, "", domain.NewSubSystemError("workflow", "Executor.runStep", domain.ErrInvalidInput,
			fmt.Sprintf("input key %q has no value", step.InputKey))
	}

	stepCtx := ctx
	if e.stepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, e.stepTimeout)
		defer cancel()
	}

	ctx, span := tracer.StartSpan(stepCtx, "workflow.step",
		trace.WithAttributes(
			tracer.StringAttr("agent", desc.Name),
			tracer.IntAttr("step", index),
		),
	)
	defer span.End()

	res, err := desc.Handler.Invoke(ctx, domain.Payload(input))
	if err != nil {
		if stepCtx.Err() == context.DeadlineExceeded {
			err = domain.NewSubSystemError("workflow", "Executor.runStep", domain.ErrTimeout, desc.Name)
		}
		tracer.RecordError(span, err)
		return nil, "", err
	}
	if status, _ := res["status"].(string); status == domain.StatusError {
		msg, _ := res["message"].(string)
		err := domain.NewDomainError("Executor.runStep", domain.ErrHandlerFailed,
			fmt.Sprintf("%s reported error: %s", desc.Name, msg))
		tracer.RecordError(span, err)
		return nil, "", err
	}

	e.log.Log(ctx, domain.InteractionRecord{
		FromAgent: fromAgent,
		ToAgent:   desc.Name,
		Message:   fmt.Sprintf("workflow %s step %d completed, output stored under %q", def.Name, index, step.OutputKey),
		ContextID: contextID,
	})
	e.bus.Emit(ctx, domain.EventWorkflowStep, map[string]any{
		"workflow": def.Name, "run_id": runID, "step": index, "agent": desc.Name, "output_key": step.OutputKey,
	})
	tracer.SetOK(span)
	return map[string]any(res), desc.Name, nil
}
