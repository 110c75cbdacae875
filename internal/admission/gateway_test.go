package admission

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/shrikeio/shrike/internal/eval"
	"github.com/shrikeio/shrike/internal/store"
	"github.com/shrikeio/shrike/internal/types"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s := store.New(zap.NewNop())
	require.NoError(t, s.RegisterTemplate(types.Template{
		Name: "required-labels",
		Kind: "RequiredLabels",
		Parameters: []types.ParameterSpec{
			{Name: "labels", Type: types.ParamStringList, Required: true},
		},
		Targets: []types.TemplateTarget{{Check: "requiredLabels"}},
	}))
	require.NoError(t, s.RegisterTemplate(types.Template{
		Name:    "container-limits",
		Kind:    "ContainerLimits",
		Targets: []types.TemplateTarget{{Check: "containerLimits"}},
	}))
	return s
}

func newTestGateway(t *testing.T, s *store.Store, cfg Config) *Gateway {
	t.Helper()
	evaluator := eval.NewEvaluator(eval.NewRegistry(), 0, zap.NewNop())
	return NewGateway(s, evaluator, cfg, zap.NewNop())
}

func labelsConstraint(action types.EnforcementAction, namespaces ...string) types.Constraint {
	return types.Constraint{
		Name:              "must-have-team",
		Kind:              "RequiredLabels",
		EnforcementAction: action,
		Match: types.MatchSpec{
			Kinds:      []types.KindTarget{{APIGroups: []string{""}, Kinds: []string{"Pod"}}},
			Namespaces: namespaces,
		},
		Parameters: map[string]interface{}{"labels": []interface{}{"team"}},
	}
}

func pod(namespace string, labels map[string]interface{}) *unstructured.Unstructured {
	meta := map[string]interface{}{
		"name":      "web",
		"namespace": namespace,
	}
	if labels != nil {
		meta["labels"] = labels
	}
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "Pod",
		"metadata":   meta,
	}}
}

func TestReview_NoMatchingConstraints(t *testing.T) {
	s := newTestStore(t)
	g := newTestGateway(t, s, Config{})

	decision := g.Review(context.Background(), Request{UID: "u1", Operation: "CREATE", Object: pod("default", nil)})
	assert.True(t, decision.Allowed)
	assert.Zero(t, decision.Matched)
	assert.Empty(t, decision.Messages)
}

func TestReview_DenyNamesMissingLabels(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.RegisterConstraint(labelsConstraint(types.EnforcementDeny)))
	g := newTestGateway(t, s, Config{})

	decision := g.Review(context.Background(), Request{UID: "u1", Object: pod("default", map[string]interface{}{"app": "web"})})
	assert.False(t, decision.Allowed)
	require.Len(t, decision.Messages, 1)
	assert.Contains(t, decision.Messages[0], "team")
	require.Len(t, decision.Violations, 1)
	assert.Equal(t, "must-have-team", decision.Violations[0].Constraint)
}

func TestReview_CompliantResourceAllowed(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.RegisterConstraint(labelsConstraint(types.EnforcementDeny)))
	g := newTestGateway(t, s, Config{})

	decision := g.Review(context.Background(), Request{UID: "u1", Object: pod("default", map[string]interface{}{"team": "core"})})
	assert.True(t, decision.Allowed)
	assert.Equal(t, 1, decision.Matched)
	assert.Equal(t, 1, decision.Evaluated)
	assert.Empty(t, decision.Violations)
}

func TestReview_NamespaceScoping(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.RegisterConstraint(labelsConstraint(types.EnforcementDeny, "production")))
	g := newTestGateway(t, s, Config{})

	// Out-of-scope namespace is not matched even though the pod violates.
	decision := g.Review(context.Background(), Request{UID: "u1", Object: pod("staging", nil)})
	assert.True(t, decision.Allowed)
	assert.Zero(t, decision.Matched)

	decision = g.Review(context.Background(), Request{UID: "u2", Object: pod("production", nil)})
	assert.False(t, decision.Allowed)
	assert.Equal(t, 1, decision.Matched)
}

func TestReview_WarnModeAllowsWithWarnings(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.RegisterConstraint(labelsConstraint(types.EnforcementWarn)))
	g := newTestGateway(t, s, Config{})

	decision := g.Review(context.Background(), Request{UID: "u1", Object: pod("default", nil)})
	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.Messages)
	require.Len(t, decision.Warnings, 1)
	assert.Contains(t, decision.Warnings[0], "team")
	assert.Len(t, decision.Violations, 1)
}

func TestReview_DryRunNeverDenies(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.RegisterConstraint(labelsConstraint(types.EnforcementDryRun)))
	g := newTestGateway(t, s, Config{})

	decision := g.Review(context.Background(), Request{UID: "u1", Object: pod("default", nil)})
	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.Messages)
	assert.Empty(t, decision.Warnings)
	require.Len(t, decision.Violations, 1)
	assert.Equal(t, types.EnforcementDryRun, decision.Violations[0].EnforcementAction)
}

func TestReview_ViolationsUnionAcrossConstraints(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.RegisterConstraint(labelsConstraint(types.EnforcementDeny)))
	require.NoError(t, s.RegisterConstraint(types.Constraint{
		Name:              "limits-everywhere",
		Kind:              "ContainerLimits",
		EnforcementAction: types.EnforcementDeny,
		Match: types.MatchSpec{
			Kinds: []types.KindTarget{{APIGroups: []string{""}, Kinds: []string{"Pod"}}},
		},
	}))
	g := newTestGateway(t, s, Config{})

	obj := pod("default", nil)
	obj.Object["spec"] = map[string]interface{}{
		"containers": []interface{}{map[string]interface{}{"name": "web"}},
	}

	decision := g.Review(context.Background(), Request{UID: "u1", Object: obj})
	assert.False(t, decision.Allowed)
	assert.Equal(t, 2, decision.Matched)
	// One missing-label message plus two missing-limit messages.
	assert.Len(t, decision.Messages, 3)
}

func TestReview_FailClosedOnEvaluationError(t *testing.T) {
	s := newTestStore(t)
	// Empty labels parameter makes requiredLabels return an error.
	c := labelsConstraint(types.EnforcementDeny)
	c.Parameters = map[string]interface{}{"labels": []interface{}{}}
	require.NoError(t, s.RegisterConstraint(c))
	g := newTestGateway(t, s, Config{FailurePolicy: FailClosed})

	decision := g.Review(context.Background(), Request{UID: "u1", Object: pod("default", nil)})
	assert.False(t, decision.Allowed)
	require.Len(t, decision.Messages, 1)
	assert.Contains(t, decision.Messages[0], "evaluation error")
}

func TestReview_FailOpenOnEvaluationError(t *testing.T) {
	s := newTestStore(t)
	c := labelsConstraint(types.EnforcementDeny)
	c.Parameters = map[string]interface{}{"labels": []interface{}{}}
	require.NoError(t, s.RegisterConstraint(c))
	g := newTestGateway(t, s, Config{FailurePolicy: FailOpen})

	decision := g.Review(context.Background(), Request{UID: "u1", Object: pod("default", nil)})
	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.Messages)
	require.Len(t, decision.Warnings, 1)
	assert.Contains(t, decision.Warnings[0], "evaluation error")
}

func TestReview_NilObjectAllowed(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.RegisterConstraint(labelsConstraint(types.EnforcementDeny)))
	g := newTestGateway(t, s, Config{})

	decision := g.Review(context.Background(), Request{UID: "u1"})
	assert.True(t, decision.Allowed)
}

func TestReview_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.RegisterConstraint(labelsConstraint(types.EnforcementDeny)))
	g := newTestGateway(t, s, Config{})

	req := Request{UID: "u1", Object: pod("default", nil)}
	first := g.Review(context.Background(), req)
	second := g.Review(context.Background(), req)

	assert.Equal(t, first.Allowed, second.Allowed)
	assert.Equal(t, first.Messages, second.Messages)
	assert.Equal(t, first.PolicyVersion, second.PolicyVersion)
}

func TestReview_DecisionCarriesPolicyVersion(t *testing.T) {
	s := newTestStore(t)
	g := newTestGateway(t, s, Config{})

	before := g.Review(context.Background(), Request{UID: "u1", Object: pod("default", nil)})
	require.NoError(t, s.RegisterConstraint(labelsConstraint(types.EnforcementDeny)))
	after := g.Review(context.Background(), Request{UID: "u2", Object: pod("default", nil)})

	assert.Greater(t, after.PolicyVersion, before.PolicyVersion)
	assert.True(t, before.Allowed)
	assert.False(t, after.Allowed)
}

func TestNewGateway_Defaults(t *testing.T) {
	g := newTestGateway(t, newTestStore(t), Config{})
	assert.Equal(t, FailClosed, g.config.FailurePolicy)
	assert.Equal(t, DefaultRequestBudget, g.config.RequestBudget)
	assert.Equal(t, 5*time.Second, g.config.RequestBudget)
}
