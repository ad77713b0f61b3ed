// Package tools implements the tool subsystem: tiered/effect-gated tool
// definitions, a registry, a policy engine selecting which tools a turn
// may see, a bounded execution wrapper enforcing timeouts and a per-turn
// output token budget, and the built-in tool set.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Tier controls who may ever be offered a tool.
type Tier string

const (
	TierSafe       Tier = "safe"
	TierRestricted Tier = "restricted"
	TierDangerous  Tier = "dangerous"
)

// Effect tags the side effects a tool may have; used to strip
// filesystem/subprocess tools from non-operator turns regardless of tier
// configuration.
type Effect string

const (
	EffectNetwork    Effect = "network"
	EffectFilesystem Effect = "filesystem"
	EffectSubprocess Effect = "subprocess"
)

// ExecuteFunc is a tool's implementation. ctx carries cancellation merged
// from the turn's parent signal and the tool's own timeout; input has
// already been validated against InputSchema.
type ExecuteFunc func(ctx context.Context, input map[string]any) (*Result, error)

// ToolDef is one entry in the registry.
type ToolDef struct {
	Name        string
	Tier        Tier
	Effects     []Effect
	Description string
	Guidance    string
	InputSchema map[string]any
	TimeoutMs   int
	Execute     ExecuteFunc
}

func (t ToolDef) hasEffect(e Effect) bool {
	for _, have := range t.Effects {
		if have == e {
			return true
		}
	}
	return false
}

// Registry holds every tool this process knows about. Names must be
// unique across builtin, identity, and MCP sources — RegisterTool returns
// an error on collision rather than silently overwriting.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]ToolDef
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]ToolDef)}
}

// RegisterTool adds def to the registry. It is an error to register a
// name that already exists.
func (r *Registry) RegisterTool(def ToolDef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tools: tool %q already registered", def.Name)
	}
	r.tools[def.Name] = def
	return nil
}

// Get returns the tool registered under name, if any.
func (r *Registry) Get(name string) (ToolDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool name, sorted for determinism.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
