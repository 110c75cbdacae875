package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/shrikeio/shrike/internal/eval"
	"github.com/shrikeio/shrike/internal/store"
	"github.com/shrikeio/shrike/internal/types"
)

type failingSource struct{}

func (failingSource) List(ctx context.Context) ([]*unstructured.Unstructured, error) {
	return nil, errors.New("list failed")
}

func auditStore(t *testing.T) *store.Store {
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
	require.NoError(t, s.RegisterConstraint(types.Constraint{
		Name:              "must-have-team",
		Kind:              "RequiredLabels",
		EnforcementAction: types.EnforcementDeny,
		Match: types.MatchSpec{
			Kinds: []types.KindTarget{{APIGroups: []string{""}, Kinds: []string{"Pod"}}},
		},
		Parameters: map[string]interface{}{"labels": []interface{}{"team"}},
	}))
	return s
}

func auditPod(name string, labels map[string]interface{}) *unstructured.Unstructured {
	meta := map[string]interface{}{
		"name":      name,
		"namespace": "default",
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

func newTestScanner(t *testing.T, s *store.Store, source Source) *Scanner {
	t.Helper()
	evaluator := eval.NewEvaluator(eval.NewRegistry(), 0, zap.NewNop())
	return NewScanner(s, evaluator, source, "@every 60s", zap.NewNop())
}

func TestRunOnce_FindsExistingViolations(t *testing.T) {
	s := auditStore(t)
	source := &StaticSource{Objects: []*unstructured.Unstructured{
		auditPod("compliant", map[string]interface{}{"team": "core"}),
		auditPod("violating", map[string]interface{}{"app": "web"}),
		auditPod("unlabeled", nil),
	}}
	sc := newTestScanner(t, s, source)

	require.NoError(t, sc.RunOnce(context.Background()))

	report := sc.Latest()
	assert.Equal(t, 3, report.Resources)
	require.Len(t, report.Entries, 2)
	assert.Equal(t, "must-have-team", report.Entries[0].ConstraintName)
	assert.Equal(t, "violating", report.Entries[0].Resource.Name)
	assert.Contains(t, report.Entries[0].Message, "team")
	assert.Equal(t, "unlabeled", report.Entries[1].Resource.Name)
	assert.Empty(t, report.Errors)
	assert.False(t, report.GeneratedAt.IsZero())
}

func TestRunOnce_ReplacesReportAtomically(t *testing.T) {
	s := auditStore(t)
	source := &StaticSource{Objects: []*unstructured.Unstructured{auditPod("violating", nil)}}
	sc := newTestScanner(t, s, source)

	require.NoError(t, sc.RunOnce(context.Background()))
	first := sc.Latest()
	require.Len(t, first.Entries, 1)

	// Resource is fixed; the old report stays readable and unchanged.
	source.Objects = []*unstructured.Unstructured{auditPod("violating", map[string]interface{}{"team": "core"})}
	require.NoError(t, sc.RunOnce(context.Background()))

	second := sc.Latest()
	assert.Empty(t, second.Entries)
	assert.Len(t, first.Entries, 1)
	assert.NotSame(t, first, second)
}

func TestRunOnce_CarriesPolicyVersion(t *testing.T) {
	s := auditStore(t)
	sc := newTestScanner(t, s, &StaticSource{})

	require.NoError(t, sc.RunOnce(context.Background()))
	assert.Equal(t, s.Snapshot().Version(), sc.Latest().PolicyVersion)
}

func TestRunOnce_SourceFailure(t *testing.T) {
	s := auditStore(t)
	sc := newTestScanner(t, s, failingSource{})

	err := sc.RunOnce(context.Background())
	require.Error(t, err)
	// The empty initial report survives a failed run.
	assert.Empty(t, sc.Latest().Entries)
}

func TestRunOnce_EvaluationErrorRecorded(t *testing.T) {
	s := auditStore(t)
	c := types.Constraint{
		Name:              "broken-params",
		Kind:              "RequiredLabels",
		EnforcementAction: types.EnforcementDeny,
		Match: types.MatchSpec{
			Kinds: []types.KindTarget{{APIGroups: []string{""}, Kinds: []string{"Pod"}}},
		},
		Parameters: map[string]interface{}{"labels": []interface{}{}},
	}
	require.NoError(t, s.RegisterConstraint(c))
	sc := newTestScanner(t, s, &StaticSource{Objects: []*unstructured.Unstructured{auditPod("p", nil)}})

	require.NoError(t, sc.RunOnce(context.Background()))

	report := sc.Latest()
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "broken-params")
	// The healthy constraint still produced its finding.
	assert.Len(t, report.Entries, 1)
}

func TestStart_InvalidSchedule(t *testing.T) {
	s := auditStore(t)
	evaluator := eval.NewEvaluator(eval.NewRegistry(), 0, zap.NewNop())
	sc := NewScanner(s, evaluator, &StaticSource{}, "not a schedule", zap.NewNop())

	assert.Error(t, sc.Start(context.Background()))
}

func TestStart_EmptyScheduleDisables(t *testing.T) {
	s := auditStore(t)
	evaluator := eval.NewEvaluator(eval.NewRegistry(), 0, zap.NewNop())
	sc := NewScanner(s, evaluator, &StaticSource{}, "", zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	assert.NoError(t, sc.Start(ctx))
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in      string
		want    schema.GroupVersionResource
		wantErr bool
	}{
		{in: "v1/pods", want: schema.GroupVersionResource{Version: "v1", Resource: "pods"}},
		{in: "apps/v1/deployments", want: schema.GroupVersionResource{Group: "apps", Version: "v1", Resource: "deployments"}},
		{in: "pods", wantErr: true},
		{in: "a/b/c/d", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTarget(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
