// Package registry is the single source of truth mapping an agent name to
// its invocable handler. Resolution tolerates the casing and spelling
// variation that historically caused agents to go missing at runtime.
package registry

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"leadpilot/internal/domain"
)

// AgentSuffix is the canonical naming convention: every agent name is a
// PascalCase stem ending in "Agent" (e.g. "ScraperAgent").
const AgentSuffix = "Agent"

// Registry holds all registered agent descriptors and provides lookup.
// It is written only during startup; reads at runtime take the read lock
// and never block each other.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]domain.AgentDescriptor // declared name → descriptor
	folded map[string]string                 // normalized stem → declared name
	logger *slog.Logger
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		agents: make(map[string]domain.AgentDescriptor),
		folded: make(map[string]string),
		logger: logger,
	}
}

// Register adds a descriptor under its declared name, ensuring the
// canonical "Agent" suffix. Re-registering a name (or any casing variant
// of it) overwrites the handler (last-writer-wins); this is only expected
// during startup from the static definition table.
func (r *Registry) Register(desc domain.AgentDescriptor) {
	name := ensureSuffix(strings.TrimSpace(desc.Name))
	desc.Name = name
	key := foldKey(name)

	r.mu.Lock()
	prev, replaced := r.folded[key]
	if replaced && prev != name {
		// A casing variant was already registered; the new spelling wins.
		delete(r.agents, prev)
	}
	r.agents[name] = desc
	r.folded[key] = name
	r.mu.Unlock()

	if replaced {
		r.logger.Warn("agent re-registered, handler replaced", "agent", name, "previous", prev)
		return
	}
	r.logger.Info("agent registered", "agent", name)
}

// Resolve returns the descriptor for name. Exact match wins; otherwise a
// second pass normalizes the name (case-insensitive stem, separators
// stripped, suffix ensured) before lookup. Unknown names return
// domain.ErrNotFound via a subsystem error; Resolve never panics.
func (r *Registry) Resolve(name string) (domain.AgentDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if desc, ok := r.agents[name]; ok {
		return desc, nil
	}
	if declared, ok := r.folded[foldKey(name)]; ok {
		return r.agents[declared], nil
	}
	return domain.AgentDescriptor{}, domain.NewSubSystemError("agent", "Registry.Resolve", domain.ErrNotFound, name)
}

// Names returns the sorted canonical names of all registered agents. The
// list feeds the classification prompt and the fallback policy.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ensureSuffix appends "Agent" when the name does not already end in any
// casing of it, capitalizing the first letter of the stem.
func ensureSuffix(name string) string {
	if name == "" {
		return name
	}
	stem := name
	if len(stem) >= len(AgentSuffix) && strings.EqualFold(stem[len(stem)-len(AgentSuffix):], AgentSuffix) {
		stem = stem[:len(stem)-len(AgentSuffix)]
	}
	if stem == "" {
		return AgentSuffix
	}
	return strings.ToUpper(stem[:1]) + stem[1:] + AgentSuffix
}

// foldKey maps any casing/separator variant of an agent name to one
// normalization key: lower-cased stem with "_", "-", and spaces removed
// and the "Agent" suffix stripped. "scraperAgent", "SCRAPER", and
// "scraper_agent" all fold to "scraper".
func foldKey(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.NewReplacer("_", "", "-", "", " ", "").Replace(s)
	suffix := strings.ToLower(AgentSuffix)
	if len(s) > len(suffix) && strings.HasSuffix(s, suffix) {
		s = s[:len(s)-len(suffix)]
	}
	return s
}
