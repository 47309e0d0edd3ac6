package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"leadpilot/internal/adapter/agenthttp"
	"leadpilot/internal/adapter/classifier"
	"leadpilot/internal/adapter/gateway"
	"leadpilot/internal/adapter/interaction"
	"leadpilot/internal/adapter/taskstore"
	"leadpilot/internal/infra/config"
	"leadpilot/internal/infra/logger"
	"leadpilot/internal/infra/tracer"
	"leadpilot/internal/usecase/eventbus"
	"leadpilot/internal/usecase/intent"
	"leadpilot/internal/usecase/interactions"
	"leadpilot/internal/usecase/orchestrator"
	"leadpilot/internal/usecase/registry"
	"leadpilot/internal/usecase/scheduling"
	"leadpilot/internal/usecase/workflow"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`overseer - lead-generation agent orchestrator

USAGE:
    overseer [FLAGS]

FLAGS:
    -h, --help       Show this help message
    --config PATH    Config file path (default: ./config.yaml)

CONFIGURATION:
    Config file: ./config.yaml
    ${VAR} references in the file are expanded from the environment.

The admin gateway listens on gateway.addr (default 127.0.0.1:8420):
    POST /api/instructions   run a natural-language instruction
    GET  /api/interactions   query the interaction log
    GET  /api/agents         registered agents
    GET  /api/workflows      workflow names
    GET  /api/state          system state snapshot
    GET  /api/tasks          scheduled tasks
    GET  /ws                 websocket event feed`)
}

func configPath() string {
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("LEADPILOT_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

func run() error {
	// 1. Config
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	// 3. Data directories
	for _, p := range []string{cfg.Interactions.Path, cfg.Scheduler.DBPath, cfg.State.Path} {
		if dir := filepath.Dir(p); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return fmt.Errorf("data dir %s: %w", dir, err)
			}
		}
	}

	// 4. Event bus
	bus := eventbus.New(log)
	defer bus.Close()

	// 5. Interaction store
	store, err := interaction.NewFileStore(
		cfg.Interactions.Path,
		cfg.Interactions.MaxRecords,
		cfg.Interactions.MaxBytes,
		cfg.Interactions.MaxGenerations,
		log,
	)
	if err != nil {
		return fmt.Errorf("interaction store: %w", err)
	}
	defer store.Close()
	interactionLog := interactions.NewService(store, bus, log)

	// 6. Agent registry
	reg := registry.New(log)
	agenthttp.RegisterAll(reg, cfg.Agents, log)

	// 7. Intent resolver
	llm, err := classifier.New(cfg.Classifier, log)
	if err != nil {
		return fmt.Errorf("classifier: %w", err)
	}
	fallback := cfg.Agents.Fallback
	if desc, err := reg.Resolve(fallback); err == nil {
		fallback = desc.Name
	}
	resolver := intent.NewResolver(llm, reg, fallback, cfg.Classifier.HistoryMax, log)

	// 8. Workflows
	lib, err := workflow.LoadLibrary(cfg.Workflows.Dir)
	if err != nil {
		return fmt.Errorf("workflows: %w", err)
	}
	executor := workflow.NewExecutor(reg, lib, interactionLog, bus, cfg.Workflows.StepTimeout, log)

	// 9. Scheduler
	var scheduler *scheduling.Service
	if cfg.Scheduler.Enabled {
		tasks, err := taskstore.NewSQLiteTaskStore(cfg.Scheduler.DBPath)
		if err != nil {
			return fmt.Errorf("task store: %w", err)
		}
		defer tasks.Close()

		scheduler = scheduling.NewService(reg, tasks, interactionLog, bus, cfg.Agents.InvokeTimeout, log)
		if err := scheduler.Start(ctx); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		defer scheduler.Stop()
	}

	// 10. Orchestrator
	settings, err := orchestrator.NewSettingsStore(cfg.State.Path)
	if err != nil {
		return fmt.Errorf("settings store: %w", err)
	}
	orch := orchestrator.New(resolver, reg, executor, scheduler, settings, interactionLog, bus, cfg.Agents.InvokeTimeout, log)

	// 11. Graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 12. Gateway
	log.Info("overseer starting",
		"classifier", llm.Name(),
		"agents", len(reg.Names()),
		"workflows", len(executor.Names()),
		"scheduler", cfg.Scheduler.Enabled,
		"addr", cfg.Gateway.Addr,
	)

	srv := gateway.NewServer(orch, reg, executor, scheduler, interactionLog, bus, cfg.Gateway, log)
	return srv.Start(ctx)
}
