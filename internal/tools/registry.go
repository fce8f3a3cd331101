package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/delaight/waiter/internal/log"
)

// Registry holds the tools available to the agent.
// Registration happens at startup; invocation is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Definition
	logger log.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger log.Logger) *Registry {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Registry{byName: make(map[string]*Definition), logger: logger}
}

// Register adds a tool. Registering the same name twice is an error, so a
// wiring mistake surfaces at startup instead of shadowing a tool silently.
func (r *Registry) Register(def *Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[def.name]; exists {
		return fmt.Errorf("tool %q already registered", def.name)
	}
	r.byName[def.name] = def
	r.logger.Debug("registered tool", "tool", def.name)
	return nil
}

// Invoke validates args against the tool's schema and runs its handler.
//
// Errors are classified: ErrUnknownTool for unregistered names,
// ErrInvalidArguments for schema violations, ErrExecution for handler
// failures.
func (r *Registry) Invoke(ctx context.Context, name string, args any) (any, error) {
	r.mu.RLock()
	def, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}

	if err := def.validate(args); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArguments, name, err)
	}

	out, err := def.handler(ctx, args)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("tool invoked", "tool", name)
	return out, nil
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns a tool definition by name.
func (r *Registry) Lookup(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byName[name]
	return def, ok
}

// DefineAll registers every tool with Genkit and returns the references to
// advertise on model calls. The model sees the schemas through these refs;
// execution still goes through Invoke.
func (r *Registry) DefineAll(g *genkit.Genkit) []ai.ToolRef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	refs := make([]ai.ToolRef, 0, len(r.byName))
	for _, name := range r.namesLocked() {
		refs = append(refs, r.byName[name].define(g))
	}
	return refs
}

// namesLocked returns sorted names; caller holds at least a read lock.
func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
