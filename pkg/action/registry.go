package action

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory builds an action from its params
type Factory func(p Params) (Action, error)

// Registry maps action names to factories so scripts and provenance replay
// can re-create actions from their exported form.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for name
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Create builds the action name from params
func (r *Registry) Create(name string, p Params) (Action, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, name)
	}
	a, err := f(p)
	if err != nil {
		return nil, Invalid(name, err)
	}
	return a, nil
}

// Parse builds an action from a command line produced by Export
func (r *Registry) Parse(command string) (Action, error) {
	command = strings.TrimSpace(command)
	name, rest, _ := strings.Cut(command, " ")
	if name == "" {
		return nil, fmt.Errorf("%w: empty command", ErrInvalidParam)
	}
	p, err := ParseParams(rest)
	if err != nil {
		return nil, Invalid(name, err)
	}
	return r.Create(name, p)
}

// Names returns the registered action names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
