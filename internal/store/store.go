// Package store holds the template registry and constraint store behind
// versioned immutable snapshots. Writers copy the current policy set under a
// mutex and swap the result in atomically; readers load whatever snapshot is
// current and keep evaluating against it, so an in-flight admission decision
// never observes a half-updated policy set.
package store

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/shrikeio/shrike/internal/types"
)

// PolicySet is one immutable version of all templates and constraints.
type PolicySet struct {
	version     uint64
	templates   map[string]types.Template
	constraints map[string]types.Constraint
}

// Version returns the monotonic version of this snapshot.
func (p *PolicySet) Version() uint64 {
	return p.version
}

// Template returns the template with the given name.
func (p *PolicySet) Template(name string) (types.Template, bool) {
	t, ok := p.templates[name]
	return t, ok
}

// TemplateByKind returns the template declaring the given constraint kind.
func (p *PolicySet) TemplateByKind(kind string) (types.Template, bool) {
	for _, t := range p.templates {
		if t.Kind == kind {
			return t, true
		}
	}
	return types.Template{}, false
}

// Templates returns all templates sorted by name.
func (p *PolicySet) Templates() []types.Template {
	result := make([]types.Template, 0, len(p.templates))
	for _, t := range p.templates {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Constraint returns the constraint with the given name.
func (p *PolicySet) Constraint(name string) (types.Constraint, bool) {
	c, ok := p.constraints[name]
	return c, ok
}

// Constraints returns all constraints sorted by name. Inert constraints are
// included; the match engine skips them.
func (p *PolicySet) Constraints() []types.Constraint {
	result := make([]types.Constraint, 0, len(p.constraints))
	for _, c := range p.constraints {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// ConstraintsByTemplate returns the names of constraints referencing the template.
func (p *PolicySet) ConstraintsByTemplate(templateName string) []string {
	var result []string
	for _, c := range p.constraints {
		if c.TemplateName == templateName {
			result = append(result, c.Name)
		}
	}
	sort.Strings(result)
	return result
}

// Store is the mutable owner of the policy set. All mutations go through it;
// Snapshot is a lock-free atomic load suitable for the admission hot path.
type Store struct {
	mu      sync.Mutex
	current atomic.Pointer[PolicySet]
	logger  *zap.Logger
}

// New creates an empty Store.
func New(logger *zap.Logger) *Store {
	s := &Store{logger: logger.Named("store")}
	s.current.Store(&PolicySet{
		templates:   map[string]types.Template{},
		constraints: map[string]types.Constraint{},
	})
	return s
}

// Snapshot returns the current policy set. The returned set is immutable.
func (s *Store) Snapshot() *PolicySet {
	return s.current.Load()
}

// clone copies the current set with a bumped version. Caller holds s.mu.
func (s *Store) clone() *PolicySet {
	cur := s.current.Load()
	next := &PolicySet{
		version:     cur.version + 1,
		templates:   make(map[string]types.Template, len(cur.templates)+1),
		constraints: make(map[string]types.Constraint, len(cur.constraints)+1),
	}
	for k, v := range cur.templates {
		next.templates[k] = v
	}
	for k, v := range cur.constraints {
		next.constraints[k] = v
	}
	return next
}

// RegisterTemplate adds a template. Fails with ErrDuplicateName if the name
// is taken and with a plain error if the template is malformed.
func (s *Store) RegisterTemplate(t types.Template) error {
	if err := t.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	if _, exists := cur.templates[t.Name]; exists {
		return fmt.Errorf("template %s: %w", t.Name, ErrDuplicateName)
	}
	for _, existing := range cur.templates {
		if existing.Kind == t.Kind {
			return fmt.Errorf("template %s: kind %s already declared by %s: %w",
				t.Name, t.Kind, existing.Name, ErrDuplicateName)
		}
	}

	next := s.clone()
	next.templates[t.Name] = t
	s.current.Store(next)

	s.logger.Info("Registered template",
		zap.String("template", t.Name),
		zap.String("kind", t.Kind),
		zap.Uint64("version", next.version))
	return nil
}

// DeleteTemplate removes a template. Fails with ErrNotFound if absent and
// ErrInUse if any constraint still references it; the store is left
// unchanged on failure.
func (s *Store) DeleteTemplate(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	if _, exists := cur.templates[name]; !exists {
		return fmt.Errorf("template %s: %w", name, ErrNotFound)
	}
	if refs := cur.ConstraintsByTemplate(name); len(refs) > 0 {
		return fmt.Errorf("template %s referenced by constraints %v: %w", name, refs, ErrInUse)
	}

	next := s.clone()
	delete(next.templates, name)
	s.current.Store(next)

	s.logger.Info("Deleted template", zap.String("template", name), zap.Uint64("version", next.version))
	return nil
}

// RegisterConstraint adds or replaces a constraint. Fails with
// ErrUnknownTemplate if no template declares the constraint's kind, and
// ErrInvalidParameters if the parameters fail the template's schema.
func (s *Store) RegisterConstraint(c types.Constraint) error {
	if c.Name == "" {
		return fmt.Errorf("constraint has no name")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	tpl, ok := cur.TemplateByKind(c.Kind)
	if !ok {
		return fmt.Errorf("constraint %s: no template declares kind %s: %w", c.Name, c.Kind, ErrUnknownTemplate)
	}
	c.TemplateName = tpl.Name

	if err := ValidateParameters(tpl, c.Parameters); err != nil {
		return fmt.Errorf("constraint %s: %w", c.Name, err)
	}
	c.Inert = false
	c.InertReason = ""

	next := s.clone()
	next.constraints[c.Name] = c
	s.current.Store(next)

	s.logger.Info("Registered constraint",
		zap.String("constraint", c.Name),
		zap.String("template", tpl.Name),
		zap.String("action", string(c.EnforcementAction)),
		zap.Uint64("version", next.version))
	return nil
}

// DeleteConstraint removes a constraint. Fails with ErrNotFound if absent.
func (s *Store) DeleteConstraint(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	if _, exists := cur.constraints[name]; !exists {
		return fmt.Errorf("constraint %s: %w", name, ErrNotFound)
	}

	next := s.clone()
	delete(next.constraints, name)
	s.current.Store(next)

	s.logger.Info("Deleted constraint", zap.String("constraint", name), zap.Uint64("version", next.version))
	return nil
}

// Replace swaps in a complete new policy set in one version bump. Used by the
// manifest loader on startup and hot reload. Malformed templates fail the
// whole replace; constraints with broken template references or parameter
// bindings are stored inert with the reason recorded, never silently dropped
// and never treated as passing.
func (s *Store) Replace(templates []types.Template, constraints []types.Constraint) error {
	tplByName := make(map[string]types.Template, len(templates))
	tplByKind := make(map[string]types.Template, len(templates))
	for _, t := range templates {
		if err := t.Validate(); err != nil {
			return err
		}
		if _, exists := tplByName[t.Name]; exists {
			return fmt.Errorf("template %s: %w", t.Name, ErrDuplicateName)
		}
		if prev, exists := tplByKind[t.Kind]; exists {
			return fmt.Errorf("template %s: kind %s already declared by %s: %w",
				t.Name, t.Kind, prev.Name, ErrDuplicateName)
		}
		tplByName[t.Name] = t
		tplByKind[t.Kind] = t
	}

	conByName := make(map[string]types.Constraint, len(constraints))
	for _, c := range constraints {
		if c.Name == "" {
			return fmt.Errorf("constraint has no name")
		}
		tpl, ok := tplByKind[c.Kind]
		if !ok {
			c.Inert = true
			c.InertReason = fmt.Sprintf("no template declares kind %s", c.Kind)
			s.logger.Warn("Constraint is inert",
				zap.String("constraint", c.Name),
				zap.String("reason", c.InertReason))
			conByName[c.Name] = c
			continue
		}
		c.TemplateName = tpl.Name
		if err := ValidateParameters(tpl, c.Parameters); err != nil {
			c.Inert = true
			c.InertReason = err.Error()
			s.logger.Warn("Constraint is inert",
				zap.String("constraint", c.Name),
				zap.String("reason", c.InertReason))
		}
		conByName[c.Name] = c
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := &PolicySet{
		version:     s.current.Load().version + 1,
		templates:   tplByName,
		constraints: conByName,
	}
	s.current.Store(next)

	s.logger.Info("Replaced policy set",
		zap.Int("templates", len(tplByName)),
		zap.Int("constraints", len(conByName)),
		zap.Uint64("version", next.version))
	return nil
}
