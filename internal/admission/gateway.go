// Package admission implements the synchronous admission gateway. Every
// request walks the state machine Received -> Matching -> Evaluating ->
// Decided{Allow|Deny} exactly once; there are no retries and no asynchronous
// decisions. Each request evaluates against a single policy snapshot, so the
// same request against an unchanged policy set always yields the same
// decision.
package admission

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/shrikeio/shrike/internal/eval"
	"github.com/shrikeio/shrike/internal/match"
	"github.com/shrikeio/shrike/internal/store"
	"github.com/shrikeio/shrike/internal/types"
)

// FailurePolicy controls what an evaluation error does to the decision.
type FailurePolicy string

const (
	// FailClosed denies the request when a constraint cannot be evaluated.
	FailClosed FailurePolicy = "fail-closed"
	// FailOpen allows the request and attaches a warning instead.
	FailOpen FailurePolicy = "fail-open"
)

// DefaultRequestBudget bounds total evaluation time per admission request,
// summed across all matched constraints.
const DefaultRequestBudget = 5 * time.Second

// State names one phase of the per-request state machine.
type State string

const (
	StateReceived   State = "Received"
	StateMatching   State = "Matching"
	StateEvaluating State = "Evaluating"
	StateDecided    State = "Decided"
)

// Request is one admission request: a candidate resource mutation.
type Request struct {
	UID       string
	Operation string // CREATE or UPDATE
	Object    *unstructured.Unstructured
}

// Decision is the single synchronous outcome of a request.
type Decision struct {
	UID     string `json:"uid"`
	Allowed bool   `json:"allowed"`

	// Messages holds the aggregated violation and error messages that
	// caused a Deny, verbatim, so callers can diagnose what is missing.
	Messages []string `json:"messages,omitempty"`

	// Warnings carries violations from warn-mode constraints and, under
	// fail-open, evaluation errors. They never cause a Deny.
	Warnings []string `json:"warnings,omitempty"`

	// Violations lists every violation produced, including dry-run ones.
	Violations []types.Violation `json:"violations,omitempty"`

	// PolicyVersion is the snapshot version the decision was made against.
	PolicyVersion uint64 `json:"policyVersion"`

	Matched   int `json:"matched"`
	Evaluated int `json:"evaluated"`
}

// Config holds gateway tunables.
type Config struct {
	// FailurePolicy defaults to FailClosed, matching the behavior expected
	// of a validating admission webhook guarding cluster invariants.
	FailurePolicy FailurePolicy

	// RequestBudget bounds total evaluation time per request. Zero means
	// DefaultRequestBudget.
	RequestBudget time.Duration
}

// Gateway runs the match + evaluate pipeline for admission requests.
// Requests are independent and may be processed concurrently.
type Gateway struct {
	store     *store.Store
	evaluator *eval.Evaluator
	config    Config
	logger    *zap.Logger
}

// NewGateway creates a Gateway.
func NewGateway(s *store.Store, evaluator *eval.Evaluator, config Config, logger *zap.Logger) *Gateway {
	if config.FailurePolicy == "" {
		config.FailurePolicy = FailClosed
	}
	if config.RequestBudget <= 0 {
		config.RequestBudget = DefaultRequestBudget
	}
	return &Gateway{
		store:     s,
		evaluator: evaluator,
		config:    config,
		logger:    logger.Named("admission"),
	}
}

// Review takes a request through the full state machine and returns the
// decision. It blocks until decided; the caller is expected to wait.
func (g *Gateway) Review(ctx context.Context, req Request) Decision {
	start := time.Now()

	decision := Decision{UID: req.UID, Allowed: true}
	if req.Object == nil {
		decision.PolicyVersion = g.store.Snapshot().Version()
		g.observe(decision, start)
		return decision
	}

	// One consistent snapshot for the whole request.
	snapshot := g.store.Snapshot()
	decision.PolicyVersion = snapshot.Version()

	attrs := types.AttributesFromObject(req.Object)
	matched := match.Filter(snapshot.Constraints(), attrs)
	decision.Matched = len(matched)

	g.logger.Debug("Matched constraints",
		zap.String("uid", req.UID),
		zap.String("state", string(StateMatching)),
		zap.String("kind", attrs.Kind),
		zap.String("namespace", attrs.Namespace),
		zap.Int("matched", len(matched)),
		zap.Uint64("policy_version", snapshot.Version()))

	budgetCtx, cancel := context.WithTimeout(ctx, g.config.RequestBudget)
	defer cancel()

	g.logger.Debug("Evaluating constraints",
		zap.String("uid", req.UID),
		zap.String("state", string(StateEvaluating)),
		zap.Int("constraints", len(matched)))

	for _, c := range matched {
		tpl, ok := snapshot.Template(c.TemplateName)
		if !ok {
			// Constraint outlived its template within this snapshot; treat
			// as inert rather than silently passing.
			g.logger.Warn("Constraint references missing template",
				zap.String("constraint", c.Name),
				zap.String("template", c.TemplateName))
			continue
		}

		violations, err := g.evaluator.Evaluate(budgetCtx, tpl, c, req.Object)
		decision.Evaluated++
		if err != nil {
			g.applyEvaluationError(&decision, err)
			continue
		}

		for _, v := range violations {
			decision.Violations = append(decision.Violations, v)
			switch v.EnforcementAction {
			case types.EnforcementDeny:
				decision.Allowed = false
				decision.Messages = append(decision.Messages, v.Message)
			case types.EnforcementWarn:
				decision.Warnings = append(decision.Warnings, v.Message)
			case types.EnforcementDryRun:
				// Recorded in Violations only.
			}
		}
	}

	g.observe(decision, start)
	return decision
}

// applyEvaluationError folds an evaluation failure into the decision per the
// configured failure policy. Errors are never opaque: the message always
// reaches the caller, either as a deny reason or as a warning.
func (g *Gateway) applyEvaluationError(decision *Decision, err error) {
	var evalErr *eval.EvaluationError
	msg := err.Error()
	if errors.As(err, &evalErr) {
		msg = "evaluation error: " + evalErr.Error()
	}

	evaluationErrorsTotal.Inc()
	if g.config.FailurePolicy == FailOpen {
		decision.Warnings = append(decision.Warnings, msg)
		return
	}
	decision.Allowed = false
	decision.Messages = append(decision.Messages, msg)
}

func (g *Gateway) observe(decision Decision, start time.Time) {
	outcome := "allow"
	if !decision.Allowed {
		outcome = "deny"
	}
	decisionsTotal.WithLabelValues(outcome).Inc()
	reviewDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	for _, v := range decision.Violations {
		violationsTotal.WithLabelValues(string(v.EnforcementAction)).Inc()
	}

	g.logger.Info("Admission decision",
		zap.String("uid", decision.UID),
		zap.String("state", string(StateDecided)),
		zap.Bool("allowed", decision.Allowed),
		zap.Int("matched", decision.Matched),
		zap.Int("violations", len(decision.Violations)),
		zap.Uint64("policy_version", decision.PolicyVersion),
		zap.Duration("elapsed", time.Since(start)))
}
