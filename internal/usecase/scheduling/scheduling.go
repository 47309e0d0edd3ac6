// Package scheduling runs deferred and recurring agent invocations created
// from schedule_task instructions. Tasks are persisted and re-armed at
// boot, so a restart never loses a pending schedule.
package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"

	"leadpilot/internal/domain"
	"leadpilot/internal/usecase/eventbus"
	"leadpilot/internal/usecase/interactions"
	"leadpilot/internal/usecase/registry"
)

// SchedulerName is the FromAgent recorded on scheduler-generated
// interactions.
const SchedulerName = "Scheduler"

// TaskStatus is one scheduled task plus its next planned run.
type TaskStatus struct {
	domain.ScheduledTask
	NextRun time.Time `json:"next_run"`
}

// Service owns the cron runner, the task store, and the firing logic.
type Service struct {
	registry      *registry.Registry
	store         domain.TaskStore
	log           *interactions.Service
	bus           *eventbus.Bus
	invokeTimeout time.Duration
	logger        *slog.Logger

	cron    *cron.Cron
	mu      sync.Mutex
	entries map[string]cron.EntryID // task id → cron entry
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewService creates a scheduling service. invokeTimeout bounds each fired
// agent invocation.
func NewService(reg *registry.Registry, store domain.TaskStore, log *interactions.Service, bus *eventbus.Bus, invokeTimeout time.Duration, logger *slog.Logger) *Service {
	if invokeTimeout <= 0 {
		invokeTimeout = 5 * time.Minute
	}
	return &Service{
		registry:      reg,
		store:         store,
		log:           log,
		bus:           bus,
		invokeTimeout: invokeTimeout,
		logger:        logger,
		cron:          cron.New(),
		entries:       make(map[string]cron.EntryID),
	}
}

// Start re-arms every stored task and begins running the cron loop.
// Stored tasks that no longer validate (agent removed, schedule invalid)
// are logged and skipped, never fatal.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.mu.Unlock()

	tasks, err := s.store.List(ctx)
	if err != nil {
		return domain.WrapOp("Scheduler.Start", err)
	}
	for _, task := range tasks {
		if err := s.arm(task); err != nil {
			s.logger.Error("stored task could not be re-armed, skipping",
				"task_id", task.ID,
				"agent", task.Agent,
				"error", err,
			)
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "tasks", len(tasks))
	return nil
}

// Stop cancels in-flight firings and waits for running jobs to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	<-s.cron.Stop().Done()
}

// Schedule validates, persists, and arms a new task. The agent name is
// canonicalized through the registry; an invalid schedule string fails
// with a schedule-invalid error.
func (s *Service) Schedule(ctx context.Context, agent, schedule string, payload map[string]any, oneShot bool) (domain.ScheduledTask, error) {
	desc, err := s.registry.Resolve(agent)
	if err != nil {
		return domain.ScheduledTask{}, err
	}
	if _, err := parseSchedule(schedule); err != nil {
		return domain.ScheduledTask{}, domain.NewSubSystemError("schedule", "Scheduler.Schedule", domain.ErrInvalidInput, err.Error())
	}

	task := domain.ScheduledTask{
		ID:        ulid.Make().String(),
		Agent:     desc.Name,
		Schedule:  schedule,
		Payload:   payload,
		OneShot:   oneShot,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Put(ctx, task); err != nil {
		return domain.ScheduledTask{}, domain.WrapOp("Scheduler.Schedule", err)
	}
	if err := s.arm(task); err != nil {
		return domain.ScheduledTask{}, err
	}

	s.logger.Info("task scheduled", "task_id", task.ID, "agent", task.Agent, "schedule", schedule, "one_shot", oneShot)
	s.bus.Emit(ctx, domain.EventTaskScheduled, task)
	return task, nil
}

// Cancel removes a task from the runner and the store.
func (s *Service) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	entryID, armed := s.entries[id]
	if armed {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
	s.mu.Unlock()

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("task cancelled", "task_id", id)
	s.bus.Emit(ctx, domain.EventTaskCancelled, map[string]string{"task_id": id})
	return nil
}

// List returns all stored tasks with their next planned run.
func (s *Service) List(ctx context.Context) ([]TaskStatus, error) {
	tasks, err := s.store.List(ctx)
	if err != nil {
		return nil, domain.WrapOp("Scheduler.List", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskStatus, 0, len(tasks))
	for _, task := range tasks {
		status := TaskStatus{ScheduledTask: task}
		if entryID, ok := s.entries[task.ID]; ok {
			status.NextRun = s.cron.Entry(entryID).Next
		}
		out = append(out, status)
	}
	return out, nil
}

// arm registers the task with the cron runner.
func (s *Service) arm(task domain.ScheduledTask) error {
	schedule, err := parseSchedule(task.Schedule)
	if err != nil {
		return domain.NewSubSystemError("schedule", "Scheduler.arm", domain.ErrInvalidInput, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[task.ID]; exists {
		return domain.NewSubSystemError("schedule", "Scheduler.arm", domain.ErrDuplicate, task.ID)
	}
	s.entries[task.ID] = s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.fire(task)
	}))
	return nil
}

// fire runs one scheduled invocation. Failures are logged as interactions;
// they never stop the schedule (a one-shot is still consumed).
func (s *Service) fire(task domain.ScheduledTask) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		s.logger.Debug("scheduler stopped, skipping task", "task_id", task.ID)
		return
	}

	fireCtx, cancel := context.WithTimeout(ctx, s.invokeTimeout)
	defer cancel()

	s.bus.Emit(fireCtx, domain.EventTaskFired, task)
	start := time.Now()

	desc, err := s.registry.Resolve(task.Agent)
	if err == nil {
		_, err = desc.Handler.Invoke(fireCtx, domain.Payload(task.Payload))
	}

	record := domain.InteractionRecord{
		FromAgent: SchedulerName,
		ToAgent:   task.Agent,
		ContextID: task.ID,
	}
	if err != nil {
		s.logger.Warn("scheduled task failed", "task_id", task.ID, "agent", task.Agent, "error", err, "duration", time.Since(start))
		record.Message = fmt.Sprintf("scheduled task %s failed: %v", task.ID, err)
		record.Severity = domain.SeverityError
	} else {
		s.logger.Info("scheduled task completed", "task_id", task.ID, "agent", task.Agent, "duration", time.Since(start))
		record.Message = fmt.Sprintf("scheduled task %s invoked %s", task.ID, task.Agent)
	}
	s.log.Log(fireCtx, record)

	if task.OneShot {
		s.mu.Lock()
		if entryID, ok := s.entries[task.ID]; ok {
			s.cron.Remove(entryID)
			delete(s.entries, task.ID)
		}
		s.mu.Unlock()
		if err := s.store.Delete(fireCtx, task.ID); err != nil {
			s.logger.Warn("one-shot task cleanup failed", "task_id", task.ID, "error", err)
		}
	}
}

// parseSchedule accepts a standard five-field cron expression (plus
// descriptors like "@hourly") or a duration string ("30m" fires every
// thirty minutes, sub-second durations included).
func parseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return &constantDelay{delay: dur}, nil
}

// constantDelay implements cron.Schedule for a fixed interval. Unlike
// cron.Every(), it supports sub-second durations.
type constantDelay struct {
	delay time.Duration
}

func (d *constantDelay) Next(t time.Time) time.Time {
	return t.Add(d.delay)
}
