package eval

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/shrikeio/shrike/internal/types"
)

// DefaultConstraintBudget bounds a single constraint's evaluation time.
const DefaultConstraintBudget = 1 * time.Second

// Evaluator runs template logic for matched constraints. It is stateless
// apart from its registry and safe for concurrent use.
type Evaluator struct {
	registry *Registry
	logger   *zap.Logger
	budget   time.Duration
}

// NewEvaluator creates an Evaluator. A zero budget falls back to
// DefaultConstraintBudget.
func NewEvaluator(registry *Registry, budget time.Duration, logger *zap.Logger) *Evaluator {
	if budget <= 0 {
		budget = DefaultConstraintBudget
	}
	return &Evaluator{
		registry: registry,
		logger:   logger.Named("eval"),
		budget:   budget,
	}
}

// Evaluate runs every target of the constraint's template against the
// resource and returns the unioned violations. A logic failure or an
// exceeded budget yields an *EvaluationError; the resource is never mutated.
func (e *Evaluator) Evaluate(ctx context.Context, tpl types.Template, c types.Constraint, obj *unstructured.Unstructured) ([]types.Violation, error) {
	ref := types.RefFromObject(obj)

	var violations []types.Violation
	for _, target := range tpl.Targets {
		logic, err := e.registry.Get(target.Check)
		if err != nil {
			return nil, &EvaluationError{Constraint: c.Name, Check: target.Check, Err: err}
		}

		messages, err := e.runWithBudget(ctx, logic, c.Parameters, obj)
		if err != nil {
			return nil, &EvaluationError{Constraint: c.Name, Check: target.Check, Err: err}
		}

		for _, msg := range messages {
			violations = append(violations, types.Violation{
				Constraint:        c.Name,
				Resource:          ref,
				Message:           msg,
				EnforcementAction: c.EnforcementAction,
			})
		}
	}

	e.logger.Debug("Evaluated constraint",
		zap.String("constraint", c.Name),
		zap.String("resource", ref.String()),
		zap.Int("violations", len(violations)))
	return violations, nil
}

// runWithBudget enforces the per-constraint time budget. Logic that ignores
// its context still cannot stall the caller past the budget; the result is
// discarded and reported as an evaluation error.
func (e *Evaluator) runWithBudget(ctx context.Context, logic Logic, params map[string]interface{}, obj *unstructured.Unstructured) ([]string, error) {
	budgetCtx, cancel := context.WithTimeout(ctx, e.budget)
	defer cancel()

	type result struct {
		messages []string
		err      error
	}
	done := make(chan result, 1)
	go func() {
		messages, err := logic.Evaluate(budgetCtx, params, obj)
		done <- result{messages, err}
	}()

	select {
	case r := <-done:
		return r.messages, r.err
	case <-budgetCtx.Done():
		return nil, fmt.Errorf("evaluation exceeded budget %s: %w", e.budget, budgetCtx.Err())
	}
}
