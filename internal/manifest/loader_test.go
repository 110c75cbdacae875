package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shrikeio/shrike/internal/store"
)

func writePolicy(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoader_Load(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "template.yaml", templateYAML)
	writePolicy(t, dir, "constraint.yaml", constraintYAML)

	s := store.New(zap.NewNop())
	loader := NewLoader(dir, s, zap.NewNop())
	require.NoError(t, loader.Load())

	snapshot := s.Snapshot()
	require.Len(t, snapshot.Templates(), 1)
	require.Len(t, snapshot.Constraints(), 1)

	c, ok := snapshot.Constraint("ns-must-have-team")
	require.True(t, ok)
	assert.Equal(t, "required-labels", c.TemplateName)
	assert.False(t, c.Inert)
}

func TestLoader_MultiDocumentFile(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "all.yaml", templateYAML+"---\n"+constraintYAML)

	s := store.New(zap.NewNop())
	require.NoError(t, NewLoader(dir, s, zap.NewNop()).Load())

	snapshot := s.Snapshot()
	assert.Len(t, snapshot.Templates(), 1)
	assert.Len(t, snapshot.Constraints(), 1)
}

func TestLoader_SkipsNonYAMLAndUnrecognized(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "template.yaml", templateYAML)
	writePolicy(t, dir, "README.md", "# not a policy\n")
	writePolicy(t, dir, "other.yaml", "apiVersion: v1\nkind: ConfigMap\nmetadata:\n  name: cm\n")

	s := store.New(zap.NewNop())
	require.NoError(t, NewLoader(dir, s, zap.NewNop()).Load())

	snapshot := s.Snapshot()
	assert.Len(t, snapshot.Templates(), 1)
	assert.Empty(t, snapshot.Constraints())
}

func TestLoader_BadTemplateLeavesStoreUntouched(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "template.yaml", templateYAML)

	s := store.New(zap.NewNop())
	loader := NewLoader(dir, s, zap.NewNop())
	require.NoError(t, loader.Load())
	version := s.Snapshot().Version()

	writePolicy(t, dir, "template.yaml", "apiVersion: templates.shrike.io/v1alpha1\nkind: ConstraintTemplate\nmetadata:\n  name: broken\nspec: {}\n")
	require.Error(t, loader.Load())

	snapshot := s.Snapshot()
	assert.Equal(t, version, snapshot.Version())
	assert.Len(t, snapshot.Templates(), 1)
}

func TestLoader_OrphanConstraintLoadsInert(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "constraint.yaml", constraintYAML)

	s := store.New(zap.NewNop())
	require.NoError(t, NewLoader(dir, s, zap.NewNop()).Load())

	c, ok := s.Snapshot().Constraint("ns-must-have-team")
	require.True(t, ok)
	assert.True(t, c.Inert)
	assert.NotEmpty(t, c.InertReason)
}

func TestLoader_MissingDirectory(t *testing.T) {
	s := store.New(zap.NewNop())
	loader := NewLoader(filepath.Join(t.TempDir(), "absent"), s, zap.NewNop())
	assert.Error(t, loader.Load())
}

func TestLoader_SubdirectoriesWalked(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "templates")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	writePolicy(t, sub, "template.yml", templateYAML)

	s := store.New(zap.NewNop())
	require.NoError(t, NewLoader(dir, s, zap.NewNop()).Load())
	assert.Len(t, s.Snapshot().Templates(), 1)
}
