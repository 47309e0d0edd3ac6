package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Logger       LoggerConfig       `yaml:"logger"`
	Tracer       TracerConfig       `yaml:"tracer"`
	Classifier   ClassifierConfig   `yaml:"classifier"`
	Agents       AgentsConfig       `yaml:"agents"`
	Workflows    WorkflowsConfig    `yaml:"workflows"`
	Interactions InteractionsConfig `yaml:"interactions"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	State        StateConfig        `yaml:"state"`
	Gateway      GatewayConfig      `yaml:"gateway"`
}

// LoggerConfig controls slog output.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// TracerConfig controls OpenTelemetry tracing.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "noop"
}

// ClassifierConfig holds the external classification call settings.
type ClassifierConfig struct {
	Provider    string        `yaml:"provider"` // "openai" or "anthropic"
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url,omitempty"`
	Timeout     time.Duration `yaml:"timeout"`      // per-call deadline
	HistoryMax  int           `yaml:"history_max"`  // turns included in the prompt
	Breaker     BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the classifier circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// AgentsConfig declares the static agent table and fallback policy.
type AgentsConfig struct {
	Fallback      string          `yaml:"fallback"` // agent substituted for unknown names
	InvokeTimeout time.Duration   `yaml:"invoke_timeout"`
	Instances     []AgentInstance `yaml:"instances"`
}

// AgentInstance declares one external agent endpoint.
type AgentInstance struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Endpoint    string `yaml:"endpoint"`
}

// WorkflowsConfig locates the static workflow definition table.
type WorkflowsConfig struct {
	Dir         string        `yaml:"dir"`
	StepTimeout time.Duration `yaml:"step_timeout"`
}

// InteractionsConfig controls the rotating interaction store.
type InteractionsConfig struct {
	Path           string `yaml:"path"`            // active store file
	MaxRecords     int    `yaml:"max_records"`     // rotation threshold (records)
	MaxBytes       int64  `yaml:"max_bytes"`       // rotation threshold (bytes)
	MaxGenerations int    `yaml:"max_generations"` // archived generations retained
}

// SchedulerConfig controls deferred-instruction scheduling.
type SchedulerConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"` // sqlite file for scheduled tasks
}

// StateConfig locates the persisted per-agent settings map.
type StateConfig struct {
	Path string `yaml:"path"`
}

// GatewayConfig controls the admin REST/WS gateway.
type GatewayConfig struct {
	Addr           string `yaml:"addr"`
	RequestsPerMin int    `yaml:"requests_per_min"`
	Burst          int    `yaml:"burst"`
}

// Load reads, expands, and validates a YAML config file.
// ${VAR} references are expanded from the environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.Expand(string(data), os.Getenv)

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config populated with usable defaults.
func Default() *Config {
	return &Config{
		Logger: LoggerConfig{Level: "info", Format: "text", Output: "stderr"},
		Tracer: TracerConfig{Enabled: false},
		Classifier: ClassifierConfig{
			Provider:   "openai",
			Timeout:    30 * time.Second,
			HistoryMax: 10,
		},
		Agents: AgentsConfig{
			InvokeTimeout: 60 * time.Second,
		},
		Workflows: WorkflowsConfig{
			Dir:         "workflows",
			StepTimeout: 120 * time.Second,
		},
		Interactions: InteractionsConfig{
			Path:           "data/interactions.log",
			MaxRecords:     10000,
			MaxBytes:       10 * 1024 * 1024,
			MaxGenerations: 5,
		},
		Scheduler: SchedulerConfig{Enabled: true, DBPath: "data/tasks.db"},
		State:     StateConfig{Path: "data/settings.json"},
		Gateway: GatewayConfig{
			Addr:           "127.0.0.1:8420",
			RequestsPerMin: 120,
			Burst:          30,
		},
	}
}

// Validate checks cross-field invariants that YAML parsing cannot.
func (c *Config) Validate() error {
	switch c.Classifier.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("classifier.provider %q not supported", c.Classifier.Provider)
	}

	if len(c.Agents.Instances) == 0 {
		return fmt.Errorf("agents.instances must declare at least one agent")
	}
	seen := make(map[string]bool, len(c.Agents.Instances))
	for i, inst := range c.Agents.Instances {
		if inst.Name == "" {
			return fmt.Errorf("agents.instances[%d] has no name", i)
		}
		if seen[inst.Name] {
			return fmt.Errorf("agents.instances: duplicate name %q", inst.Name)
		}
		seen[inst.Name] = true
		if inst.Endpoint == "" {
			return fmt.Errorf("agent %q has no endpoint", inst.Name)
		}
	}

	if c.Agents.Fallback == "" {
		return fmt.Errorf("agents.fallback is required")
	}
	if !seen[c.Agents.Fallback] {
		return fmt.Errorf("agents.fallback %q is not a declared agent", c.Agents.Fallback)
	}

	if c.Interactions.MaxGenerations < 1 {
		return fmt.Errorf("interactions.max_generations must be >= 1")
	}
	if c.Interactions.MaxRecords <= 0 && c.Interactions.MaxBytes <= 0 {
		return fmt.Errorf("interactions: at least one rotation threshold is required")
	}
	return nil
}
