package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventInstructionReceived   EventType = "instruction.received"
	EventInstructionClassified EventType = "instruction.classified"
	EventInstructionResponded  EventType = "instruction.responded"

	EventWorkflowStarted   EventType = "workflow.started"
	EventWorkflowStep      EventType = "workflow.step.completed"
	EventWorkflowCompleted EventType = "workflow.completed"
	EventWorkflowFailed    EventType = "workflow.failed"

	EventTaskScheduled EventType = "task.scheduled"
	EventTaskCancelled EventType = "task.cancelled"
	EventTaskFired     EventType = "task.fired"

	EventInteractionLogged EventType = "interaction.logged"
	EventConfigUpdated     EventType = "config.updated"
)

// Event is a single published occurrence.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler consumes published events.
type EventHandler func(ctx context.Context, event Event)

// EventBus fans events out to subscribers. Publishing never blocks on
// slow consumers.
type EventBus interface {
	Publish(ctx context.Context, event Event)
	Subscribe(eventType EventType, handler EventHandler) func()
	SubscribeAll(handler EventHandler) func()
}
