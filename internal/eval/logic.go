// Package eval runs a constraint's template logic against a resource body.
// The logic itself is an injected capability: implementations of Logic are
// registered by name, and templates reference them through their targets.
// The engine core therefore never depends on any specific policy language.
package eval

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// Logic evaluates a policy body against a resource. It must be a pure
// function of (parameters, resource): no side effects, no resource mutation.
// Each returned string is one human-readable violation message; an error
// means the evaluation itself failed, which is distinct from a violation.
type Logic interface {
	Name() string
	Evaluate(ctx context.Context, params map[string]interface{}, obj *unstructured.Unstructured) ([]string, error)
}

// Registry maps check names to Logic implementations.
type Registry struct {
	mu     sync.RWMutex
	checks map[string]Logic
}

// NewRegistry returns a registry preloaded with the built-in checks.
func NewRegistry() *Registry {
	r := &Registry{checks: make(map[string]Logic)}
	r.Register(RequiredLabels{})
	r.Register(ContainerLimits{})
	return r
}

// Register adds a Logic implementation, replacing any previous one with the
// same name.
func (r *Registry) Register(l Logic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[l.Name()] = l
}

// Get returns the Logic registered under name.
func (r *Registry) Get(name string) (Logic, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.checks[name]
	if !ok {
		return nil, fmt.Errorf("no logic registered for check %q", name)
	}
	return l, nil
}

// Names returns the registered check names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.checks))
	for name := range r.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
