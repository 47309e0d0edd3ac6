package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"leadpilot/internal/adapter/interaction"
	"leadpilot/internal/adapter/taskstore"
	"leadpilot/internal/domain"
	"leadpilot/internal/usecase/eventbus"
	"leadpilot/internal/usecase/intent"
	"leadpilot/internal/usecase/interactions"
	"leadpilot/internal/usecase/registry"
	"leadpilot/internal/usecase/scheduling"
	"leadpilot/internal/usecase/workflow"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// scriptedClassifier returns canned completions per call.
type scriptedClassifier struct {
	output string
	err    error
}

func (s *scriptedClassifier) Classify(_ context.Context, _ domain.ClassifyRequest) (string, error) {
	return s.output, s.err
}

func (s *scriptedClassifier) Name() string { return "scripted" }

type fixture struct {
	orch       *Orchestrator
	classifier *scriptedClassifier
	store      *interaction.MemoryStore
	settings   *SettingsStore
}

func newFixture(t *testing.T, agents ...domain.AgentDescriptor) *fixture {
	t.Helper()

	reg := registry.New(testLogger())
	reg.Register(domain.AgentDescriptor{
		Name: "CoordinatorAgent",
		Handler: domain.HandlerFunc(func(_ context.Context, _ domain.Payload) (domain.Result, error) {
			return domain.Result{"status": domain.StatusSuccess, "message": "noted"}, nil
		}),
	})
	for _, a := range agents {
		reg.Register(a)
	}

	bus := eventbus.New(testLogger())
	t.Cleanup(bus.Close)

	store := interaction.NewMemoryStore()
	log := interactions.NewService(store, bus, testLogger())

	classifier := &scriptedClassifier{}
	resolver := intent.NewResolver(classifier, reg, "CoordinatorAgent", 10, testLogger())

	lib, err := workflow.NewLibrary(domain.WorkflowDefinition{
		Name: "lead_pipeline",
		Steps: []domain.WorkflowStep{
			{Agent: "ScraperAgent", OutputKey: "raw"},
		},
	})
	if err != nil {
		t.Fatalf("NewLibrary: %v", err)
	}
	executor := workflow.NewExecutor(reg, lib, log, bus, time.Second, testLogger())

	scheduler := scheduling.NewService(reg, taskstore.NewMemoryTaskStore(), log, bus, time.Second, testLogger())
	t.Cleanup(scheduler.Stop)

	settings, err := NewSettingsStore(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatalf("NewSettingsStore: %v", err)
	}

	orch := New(resolver, reg, executor, scheduler, settings, log, bus, time.Second, testLogger())
	return &fixture{orch: orch, classifier: classifier, store: store, settings: settings}
}

func scraper(fn func(domain.Payload) (domain.Result, error)) domain.AgentDescriptor {
	return domain.AgentDescriptor{
		Name: "ScraperAgent",
		Handler: domain.HandlerFunc(func(_ context.Context, p domain.Payload) (domain.Result, error) {
			return fn(p)
		}),
	}
}

func TestExecuteAgent(t *testing.T) {
	var gotPayload domain.Payload
	f := newFixture(t, scraper(func(p domain.Payload) (domain.Result, error) {
		gotPayload = p
		return domain.Result{"status": domain.StatusSuccess, "leads": 12}, nil
	}))
	f.classifier.output = `{"intent_kind":"execute_agent","confidence":0.9,"target_agent":"ScraperAgent","payload":{"city":"Austin"}}`

	resp := f.orch.HandleInstruction(context.Background(), "scrape Austin", nil, "")
	if resp.Status != domain.StatusSuccess {
		t.Fatalf("Status = %q: %s", resp.Status, resp.Message)
	}
	if resp.Intent != domain.IntentExecuteAgent {
		t.Errorf("Intent = %q", resp.Intent)
	}
	if resp.ContextID == "" {
		t.Error("ContextID not assigned")
	}
	if gotPayload["city"] != "Austin" {
		t.Errorf("agent payload = %v", gotPayload)
	}
	result, _ := resp.Data["result"].(map[string]any)
	if result["leads"] != 12 {
		t.Errorf("result = %v", result)
	}
}

func TestExecuteAgentErrorSurfacesRealCause(t *testing.T) {
	f := newFixture(t, scraper(func(domain.Payload) (domain.Result, error) {
		return nil, domain.NewDomainError("scrape", domain.ErrHandlerFailed, "target site returned 403")
	}))
	f.classifier.output = `{"intent_kind":"execute_agent","confidence":0.9,"target_agent":"ScraperAgent"}`

	resp := f.orch.HandleInstruction(context.Background(), "scrape", nil, "")
	if resp.Status != domain.StatusError {
		t.Fatalf("Status = %q", resp.Status)
	}
	if !strings.Contains(resp.Message, "target site returned 403") {
		t.Errorf("Message = %q, want the real cause", resp.Message)
	}
	if resp.ErrorCode != domain.CodeHandlerFailed {
		t.Errorf("ErrorCode = %q", resp.ErrorCode)
	}
}

func TestExecuteAgentFallbackSubstitution(t *testing.T) {
	f := newFixture(t)
	f.classifier.output = `{"intent_kind":"execute_agent","confidence":0.95,"target_agent":"SuperScraperAgent"}`

	resp := f.orch.HandleInstruction(context.Background(), "run the super scraper", nil, "")
	if resp.Status != domain.StatusSuccess {
		t.Fatalf("Status = %q: %s", resp.Status, resp.Message)
	}
	if resp.Confidence > 0.5 {
		t.Errorf("Confidence = %v, want capped at 0.5", resp.Confidence)
	}
	if agent := resp.Data["agent"]; agent != "CoordinatorAgent" {
		t.Errorf("executed %v, want fallback CoordinatorAgent", agent)
	}
	if !strings.Contains(resp.Message, "fallback") {
		t.Errorf("Message = %q, should mention the substitution", resp.Message)
	}
}

func TestOrchestrateWorkflow(t *testing.T) {
	f := newFixture(t, scraper(func(domain.Payload) (domain.Result, error) {
		return domain.Result{"status": domain.StatusSuccess, "count": 4}, nil
	}))
	f.classifier.output = `{"intent_kind":"orchestrate_workflow","confidence":0.9,"payload":{"workflow":"lead_pipeline","trigger":{"city":"Austin"}}}`

	resp := f.orch.HandleInstruction(context.Background(), "run the pipeline", nil, "")
	if resp.Status != domain.StatusSuccess {
		t.Fatalf("Status = %q: %s", resp.Status, resp.Message)
	}
	run, ok := resp.Data["run"].(*domain.WorkflowResult)
	if !ok {
		t.Fatalf("Data.run = %T", resp.Data["run"])
	}
	if run.Status != domain.WorkflowCompleted {
		t.Errorf("run status = %q", run.Status)
	}
}

func TestOrchestrateWorkflowFailureNamesStep(t *testing.T) {
	f := newFixture(t, scraper(func(domain.Payload) (domain.Result, error) {
		return nil, errors.New("scrape quota exhausted")
	}))
	f.classifier.output = `{"intent_kind":"orchestrate_workflow","confidence":0.9,"payload":{"workflow":"lead_pipeline"}}`

	resp := f.orch.HandleInstruction(context.Background(), "run the pipeline", nil, "")
	if resp.Status != domain.StatusError {
		t.Fatalf("Status = %q", resp.Status)
	}
	if !strings.Contains(resp.Message, "step 0") || !strings.Contains(resp.Message, "ScraperAgent") {
		t.Errorf("Message = %q, want step index and agent", resp.Message)
	}
	if !strings.Contains(resp.Message, "scrape quota exhausted") {
		t.Errorf("Message = %q, want the real cause", resp.Message)
	}
}

func TestOrchestrateUnknownWorkflow(t *testing.T) {
	f := newFixture(t)
	f.classifier.output = `{"intent_kind":"orchestrate_workflow","confidence":0.9,"payload":{"workflow":"ghost_flow"}}`

	resp := f.orch.HandleInstruction(context.Background(), "run ghost flow", nil, "")
	if resp.Status != domain.StatusError {
		t.Fatalf("Status = %q", resp.Status)
	}
	if resp.ErrorCode != domain.CodeWorkflowNotFound {
		t.Errorf("ErrorCode = %q", resp.ErrorCode)
	}
}

func TestUpdateConfigPersists(t *testing.T) {
	f := newFixture(t, scraper(func(domain.Payload) (domain.Result, error) {
		return domain.Result{"status": domain.StatusSuccess}, nil
	}))
	f.classifier.output = `{"intent_kind":"update_config","confidence":0.95,"target_agent":"ScraperAgent","payload":{"max_leads":50}}`

	resp := f.orch.HandleInstruction(context.Background(), "set scraper max leads to 50", nil, "")
	if resp.Status != domain.StatusSuccess {
		t.Fatalf("Status = %q: %s", resp.Status, resp.Message)
	}

	got := f.settings.Get("ScraperAgent")
	if got["max_leads"] != float64(50) {
		t.Errorf("persisted settings = %v", got)
	}
}

func TestUpdateConfigFallbackSubstitutionIsSurfaced(t *testing.T) {
	f := newFixture(t)
	f.classifier.output = `{"intent_kind":"update_config","confidence":0.95,"target_agent":"GhostAgent","payload":{"max_leads":50}}`

	resp := f.orch.HandleInstruction(context.Background(), "set ghost max leads to 50", nil, "")
	if resp.Status != domain.StatusSuccess {
		t.Fatalf("Status = %q: %s", resp.Status, resp.Message)
	}
	if !strings.Contains(resp.Message, "fallback") {
		t.Errorf("Message = %q, should mention the substitution", resp.Message)
	}
	if agent := resp.Data["agent"]; agent != "CoordinatorAgent" {
		t.Errorf("configured %v, want fallback CoordinatorAgent", agent)
	}
	got := f.settings.Get("CoordinatorAgent")
	if got["max_leads"] != float64(50) {
		t.Errorf("persisted settings = %v", got)
	}
}

func TestExecuteAgentLeavesIntentPayloadUntouched(t *testing.T) {
	var gotPayload domain.Payload
	f := newFixture(t, scraper(func(p domain.Payload) (domain.Result, error) {
		gotPayload = p
		return domain.Result{"status": domain.StatusSuccess}, nil
	}))

	action := &domain.ActionIntent{
		Kind:        domain.IntentExecuteAgent,
		Confidence:  0.9,
		TargetAgent: "ScraperAgent",
		Payload:     map[string]any{"city": "Austin"},
	}
	resp := f.orch.executeAgent(context.Background(), action, "ctx-copy")
	if resp.Status != domain.StatusSuccess {
		t.Fatalf("Status = %q: %s", resp.Status, resp.Message)
	}
	if _, ok := gotPayload["context"]; !ok {
		t.Errorf("handler payload missing context: %v", gotPayload)
	}
	if _, ok := action.Payload["context"]; ok {
		t.Errorf("intent payload gained a context key: %v", action.Payload)
	}
	if len(action.Payload) != 1 || action.Payload["city"] != "Austin" {
		t.Errorf("intent payload mutated: %v", action.Payload)
	}
}

func TestGetSystemState(t *testing.T) {
	f := newFixture(t)
	f.classifier.output = `{"intent_kind":"get_system_state","confidence":1}`

	resp := f.orch.HandleInstruction(context.Background(), "status?", nil, "")
	if resp.Status != domain.StatusSuccess {
		t.Fatalf("Status = %q", resp.Status)
	}
	agents, _ := resp.Data["agents"].([]string)
	if len(agents) == 0 {
		t.Error("state missing agents")
	}
	workflows, _ := resp.Data["workflows"].([]string)
	if len(workflows) != 1 || workflows[0] != "lead_pipeline" {
		t.Errorf("state workflows = %v", workflows)
	}
	if _, ok := resp.Data["interactions"]; !ok {
		t.Error("state missing interaction stats")
	}
	if _, ok := resp.Data["scheduled_tasks"]; !ok {
		t.Error("state missing scheduled tasks")
	}
}

func TestScheduleAndCancelTask(t *testing.T) {
	f := newFixture(t)
	f.classifier.output = `{"intent_kind":"schedule_task","confidence":0.9,"target_agent":"CoordinatorAgent","payload":{"schedule":"1h"}}`

	resp := f.orch.HandleInstruction(context.Background(), "remind me hourly", nil, "")
	if resp.Status != domain.StatusSuccess {
		t.Fatalf("schedule Status = %q: %s", resp.Status, resp.Message)
	}
	task, ok := resp.Data["task"].(domain.ScheduledTask)
	if !ok || task.ID == "" {
		t.Fatalf("Data.task = %v", resp.Data["task"])
	}

	f.classifier.output = fmt.Sprintf(`{"intent_kind":"cancel_task","confidence":0.9,"payload":{"task_id":%q}}`, task.ID)
	resp = f.orch.HandleInstruction(context.Background(), "cancel that", nil, "")
	if resp.Status != domain.StatusSuccess {
		t.Fatalf("cancel Status = %q: %s", resp.Status, resp.Message)
	}

	f.classifier.output = fmt.Sprintf(`{"intent_kind":"cancel_task","confidence":0.9,"payload":{"task_id":%q}}`, task.ID)
	resp = f.orch.HandleInstruction(context.Background(), "cancel it again", nil, "")
	if resp.Status != domain.StatusError {
		t.Fatalf("second cancel Status = %q", resp.Status)
	}
	if resp.ErrorCode != domain.CodeScheduleNotFound {
		t.Errorf("ErrorCode = %q", resp.ErrorCode)
	}
}

func TestHelp(t *testing.T) {
	f := newFixture(t)
	f.classifier.output = `{"intent_kind":"help","confidence":1}`

	resp := f.orch.HandleInstruction(context.Background(), "what can you do?", nil, "")
	if resp.Status != domain.StatusSuccess {
		t.Fatalf("Status = %q", resp.Status)
	}
	if _, ok := resp.Data["agents"]; !ok {
		t.Error("help missing agent list")
	}
}

func TestUnparseableClassifierOutputDegradesToUnknown(t *testing.T) {
	f := newFixture(t)
	f.classifier.output = "I really cannot tell what they want."

	resp := f.orch.HandleInstruction(context.Background(), "asdfgh", nil, "")
	if resp.Intent != domain.IntentUnknown {
		t.Errorf("Intent = %q, want unknown", resp.Intent)
	}
	if resp.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0", resp.Confidence)
	}
	if resp.Status != domain.StatusSuccess {
		t.Errorf("unknown intent should still get a non-error response, got %q", resp.Status)
	}
}

func TestClassifierFailureSurfacesRealCause(t *testing.T) {
	f := newFixture(t)
	f.classifier.err = fmt.Errorf("%w: API error 429", domain.ErrRateLimit)

	resp := f.orch.HandleInstruction(context.Background(), "anything", nil, "")
	if resp.Status != domain.StatusError {
		t.Fatalf("Status = %q", resp.Status)
	}
	if !strings.Contains(resp.Message, "API error 429") {
		t.Errorf("Message = %q, want real cause", resp.Message)
	}
	if resp.ErrorCode != domain.CodeRateLimit {
		t.Errorf("ErrorCode = %q", resp.ErrorCode)
	}
}

func TestPanicInHandlerIsCaught(t *testing.T) {
	f := newFixture(t, scraper(func(domain.Payload) (domain.Result, error) {
		panic("nil map write in scraper")
	}))
	f.classifier.output = `{"intent_kind":"execute_agent","confidence":0.9,"target_agent":"ScraperAgent"}`

	resp := f.orch.HandleInstruction(context.Background(), "scrape", nil, "ctx-panic")
	if resp == nil {
		t.Fatal("no response after panic")
	}
	if resp.Status != domain.StatusError {
		t.Fatalf("Status = %q", resp.Status)
	}
	if !strings.Contains(resp.Message, "nil map write in scraper") {
		t.Errorf("Message = %q, want the panic cause", resp.Message)
	}
	if resp.ContextID != "ctx-panic" {
		t.Errorf("ContextID = %q", resp.ContextID)
	}
}

func TestEveryInstructionIsLogged(t *testing.T) {
	f := newFixture(t)
	f.classifier.output = `{"intent_kind":"help","confidence":1}`

	f.orch.HandleInstruction(context.Background(), "help", nil, "ctx-log")

	records, err := f.store.Query(context.Background(), domain.InteractionFilter{ContextID: "ctx-log"}, 0, 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	var sawInstruction, sawResponse bool
	for _, r := range records {
		if r.FromAgent == AdminName {
			sawInstruction = true
		}
		if r.ToAgent == AdminName {
			sawResponse = true
		}
	}
	if !sawInstruction || !sawResponse {
		t.Errorf("instruction/response interactions missing: %+v", records)
	}
}
