package trigger

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"robocmd/pkg/command"
	"robocmd/pkg/scheduler"
)

var ErrUnknownCommand = errors.New("unknown command")

// Registry maps command names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]scheduler.Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]scheduler.Factory{}}
}

// Register adds a factory under name. Names are case-insensitive.
func (r *Registry) Register(name string, f scheduler.Factory) error {
	key := normalize(name)
	if key == "" {
		return errors.New("command name required")
	}
	if f == nil {
		return fmt.Errorf("command %q: nil factory", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[key]; dup {
		return fmt.Errorf("command %q already registered", name)
	}
	r.factories[key] = f
	return nil
}

// Build returns a fresh command for name.
func (r *Registry) Build(name string) (command.Command, error) {
	r.mu.RLock()
	f, ok := r.factories[normalize(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	cmd := f()
	if cmd == nil {
		return nil, fmt.Errorf("command %q: factory returned nil", name)
	}
	return cmd, nil
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[normalize(name)]
	return ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

func normalize(name string) string { return strings.ToLower(strings.TrimSpace(name)) }
