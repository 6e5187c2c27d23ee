// Package skill defines the uniform invocation surface for domain
// tools. Skills are registered explicitly at startup; the runtime
// exposes their function schemas to tool-capable models and routes
// tool calls back through Invoke.
package skill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/moltworks/colony/pkg/llm"
)

var (
	// ErrUnknownSkill means no registered skill carries the name.
	ErrUnknownSkill = errors.New("unknown skill")

	// ErrUnknownFunction means the skill exists but does not export the
	// requested function.
	ErrUnknownFunction = errors.New("unknown skill function")
)

// Skill is one domain tool: a named bundle of functions an agent may
// call. Implementations must be safe for concurrent Invoke.
type Skill interface {
	// Name is the registry key, also the capability name agents list.
	Name() string

	// Functions describes the callable surface as tool schemas.
	Functions() []llm.ToolSpec

	// Invoke runs one function with JSON-encoded arguments and returns
	// a JSON-encoded result.
	Invoke(ctx context.Context, function string, args json.RawMessage) (json.RawMessage, error)
}

// Registry maps capability names to skills.
type Registry struct {
	mu     sync.RWMutex
	skills map[string]Skill
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{skills: make(map[string]Skill)}
}

// Register adds a skill. Registering a duplicate name is a programming
// error and fails loudly at startup.
func (r *Registry) Register(s Skill) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.skills[s.Name()]; exists {
		return fmt.Errorf("skill %q already registered", s.Name())
	}
	r.skills[s.Name()] = s
	return nil
}

// Get returns a skill by name.
func (r *Registry) Get(name string) (Skill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSkill, name)
	}
	return s, nil
}

// Names returns the registered skill names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.skills))
	for name := range r.skills {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ToolSpecs collects the function schemas of the named capabilities,
// in capability order. Unknown capabilities are skipped so an agent
// roster can name skills that are not wired into this deployment.
func (r *Registry) ToolSpecs(capabilities []string) []llm.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []llm.ToolSpec
	for _, cap := range capabilities {
		if s, ok := r.skills[cap]; ok {
			out = append(out, s.Functions()...)
		}
	}
	return out
}

// Invoke routes a tool call to the skill exporting the function. The
// function namespace is flat across skills, matching what the model
// sees in its tool list.
func (r *Registry) Invoke(ctx context.Context, function string, args json.RawMessage) (json.RawMessage, error) {
	r.mu.RLock()
	var target Skill
	for _, s := range r.skills {
		for _, fn := range s.Functions() {
			if fn.Name == function {
				target = s
				break
			}
		}
		if target != nil {
			break
		}
	}
	r.mu.RUnlock()

	if target == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, function)
	}
	return target.Invoke(ctx, function, args)
}
