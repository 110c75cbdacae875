package manifest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shrikeio/shrike/internal/store"
)

func waitForVersion(t *testing.T, s *store.Store, version uint64) bool {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.Snapshot().Version() > version {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return false
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "template.yaml", templateYAML)

	s := store.New(zap.NewNop())
	loader := NewLoader(dir, s, zap.NewNop())
	require.NoError(t, loader.Load())
	version := s.Snapshot().Version()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, NewWatcher(loader, zap.NewNop()).Start(ctx))

	writePolicy(t, dir, "constraint.yaml", constraintYAML)

	require.True(t, waitForVersion(t, s, version), "watcher never reloaded")
	snapshot := s.Snapshot()
	assert.Len(t, snapshot.Constraints(), 1)
	assert.Len(t, snapshot.Templates(), 1)
}

func TestWatcher_BadEditKeepsPreviousVersion(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "template.yaml", templateYAML)

	s := store.New(zap.NewNop())
	loader := NewLoader(dir, s, zap.NewNop())
	require.NoError(t, loader.Load())
	version := s.Snapshot().Version()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, NewWatcher(loader, zap.NewNop()).Start(ctx))

	writePolicy(t, dir, "template.yaml", "apiVersion: templates.shrike.io/v1alpha1\nkind: ConstraintTemplate\nmetadata:\n  name: broken\nspec: {}\n")

	// Give the debounce and reload time to run; the bad edit must not land.
	time.Sleep(1500 * time.Millisecond)
	snapshot := s.Snapshot()
	assert.Equal(t, version, snapshot.Version())
	require.Len(t, snapshot.Templates(), 1)
	assert.Equal(t, "required-labels", snapshot.Templates()[0].Name)
}

func TestWatcher_MissingDirectory(t *testing.T) {
	s := store.New(zap.NewNop())
	loader := NewLoader(filepath.Join(t.TempDir(), "absent"), s, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	assert.Error(t, NewWatcher(loader, zap.NewNop()).Start(ctx))
}
