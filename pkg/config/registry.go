package config

import (
	"fmt"
	"sync"
)

// AgentRegistry stores roster entries in memory with thread-safe access.
type AgentRegistry struct {
	agents map[string]*AgentSpec
	mu     sync.RWMutex
}

// NewAgentRegistry creates a new agent registry.
func NewAgentRegistry(agents map[string]*AgentSpec) *AgentRegistry {
	// Copy so callers cannot mutate the registry's map afterwards.
	copied := make(map[string]*AgentSpec, len(agents))
	for k, v := range agents {
		copied[k] = v
	}
	return &AgentRegistry{agents: copied}
}

// Get retrieves an agent by ID (thread-safe).
func (r *AgentRegistry) Get(id string) (*AgentSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, exists := r.agents[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return agent, nil
}

// GetAll returns all agents (thread-safe, returns copy).
func (r *AgentRegistry) GetAll() map[string]*AgentSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*AgentSpec, len(r.agents))
	for k, v := range r.agents {
		result[k] = v
	}
	return result
}

// Has checks if an agent exists (thread-safe).
func (r *AgentRegistry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.agents[id]
	return exists
}

// Len returns the number of agents (thread-safe).
func (r *AgentRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// ModelRegistry stores model specs in memory with thread-safe access.
type ModelRegistry struct {
	models map[string]*ModelSpec
	mu     sync.RWMutex
}

// NewModelRegistry creates a new model registry.
func NewModelRegistry(specs map[string]*ModelSpec) *ModelRegistry {
	copied := make(map[string]*ModelSpec, len(specs))
	for k, v := range specs {
		copied[k] = v
	}
	return &ModelRegistry{models: copied}
}

// Get retrieves a model by ID (thread-safe).
func (r *ModelRegistry) Get(id string) (*ModelSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	model, exists := r.models[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}
	return model, nil
}

// GetAll returns all models (thread-safe, returns copy).
func (r *ModelRegistry) GetAll() map[string]*ModelSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*ModelSpec, len(r.models))
	for k, v := range r.models {
		result[k] = v
	}
	return result
}

// Has checks if a model exists (thread-safe).
func (r *ModelRegistry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.models[id]
	return exists
}

// Len returns the number of models (thread-safe).
func (r *ModelRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}
