// Package workflow executes named multi-step agent pipelines. Definitions
// are static YAML loaded at startup; execution threads data between steps
// through a keyed output map.
package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"leadpilot/internal/domain"
)

// Library holds all workflow definitions, loaded once at startup and
// immutable afterwards. Reads are lock-free.
type Library struct {
	defs map[string]domain.WorkflowDefinition
}

// LoadLibrary reads every .yaml/.yml file in dir as one WorkflowDefinition.
// A missing directory yields an empty library, not an error; invalid
// definitions abort startup.
func LoadLibrary(dir string) (*Library, error) {
	lib := &Library{defs: make(map[string]domain.WorkflowDefinition)}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return lib, nil
		}
		return nil, fmt.Errorf("read workflow dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read workflow %s: %w", path, err)
		}
		var def domain.WorkflowDefinition
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("parse workflow %s: %w", path, err)
		}
		if err := lib.Add(def); err != nil {
			return nil, fmt.Errorf("workflow %s: %w", path, err)
		}
	}
	return lib, nil
}

// NewLibrary builds a library from in-memory definitions.
func NewLibrary(defs ...domain.WorkflowDefinition) (*Library, error) {
	lib := &Library{defs: make(map[string]domain.WorkflowDefinition, len(defs))}
	for _, def := range defs {
		if err := lib.Add(def); err != nil {
			return nil, err
		}
	}
	return lib, nil
}

// Add validates and stores a definition. Duplicate names are rejected so a
// stray copy of a workflow file cannot silently shadow another.
func (l *Library) Add(def domain.WorkflowDefinition) error {
	if err := validate(def); err != nil {
		return err
	}
	if _, exists := l.defs[def.Name]; exists {
		return domain.NewSubSystemError("workflow", "Library.Add", domain.ErrDuplicate, def.Name)
	}
	l.defs[def.Name] = def
	return nil
}

// Get returns the definition for name or a workflow NotFound error.
func (l *Library) Get(name string) (domain.WorkflowDefinition, error) {
	def, ok := l.defs[name]
	if !ok {
		return domain.WorkflowDefinition{}, domain.NewSubSystemError("workflow", "Library.Get", domain.ErrNotFound, name)
	}
	return def, nil
}

// Names returns the sorted workflow names.
func (l *Library) Names() []string {
	names := make([]string, 0, len(l.defs))
	for name := range l.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// validate enforces the structural invariants: a name, at least one step,
// an agent and a unique output key per step, and every non-empty input key
// referring to an earlier step's output key. The empty input key reads the
// trigger payload and is always valid.
func validate(def domain.WorkflowDefinition) error {
	invalid := func(detail string) error {
		return domain.NewSubSystemError("workflow", "Library.Add", domain.ErrInvalidInput, detail)
	}

	if strings.TrimSpace(def.Name) == "" {
		return invalid("workflow has no name")
	}
	if len(def.Steps) == 0 {
		return invalid(fmt.Sprintf("%s: no steps", def.Name))
	}

	produced := map[string]bool{domain.TriggerKey: true}
	for i, step := range def.Steps {
		if strings.TrimSpace(step.Agent) == "" {
			return invalid(fmt.Sprintf("%s: step %d has no agent", def.Name, i))
		}
		if step.OutputKey == "" {
			return invalid(fmt.Sprintf("%s: step %d has no output key", def.Name, i))
		}
		if produced[step.OutputKey] {
			return invalid(fmt.Sprintf("%s: step %d reuses output key %q", def.Name, i, step.OutputKey))
		}
		if !produced[step.InputKey] {
			return invalid(fmt.Sprintf("%s: step %d reads %q before any step produces it", def.Name, i, step.InputKey))
		}
		produced[step.OutputKey] = true
	}
	return nil
}
