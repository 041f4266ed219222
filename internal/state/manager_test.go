package state

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("test", true)
}

// failingStore rejects every save.
type failingStore struct {
	MemoryDocumentStore
}

func (s *failingStore) Save(_ context.Context, _ []byte) error {
	return errors.New("disk full")
}

func TestManagerCheckpointLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryDocumentStore(), testLogger())

	t.Run("no checkpoint means full export", func(t *testing.T) {
		opts := m.GetDiffModeOptions(ctx, "octocat/hello", "issues", false)
		assert.False(t, opts.Enabled)
		assert.True(t, opts.Since.IsZero())
	})

	t.Run("update creates the checkpoint", func(t *testing.T) {
		before := time.Now().UTC()
		m.UpdateExportState(ctx, "octocat/hello", "issues", 42, "json", "./export")

		cp, ok := m.GetLastExport(ctx, "octocat/hello", "issues")
		require.True(t, ok)
		assert.Equal(t, 42, cp.LastCount)
		assert.Equal(t, "json", cp.Format)
		assert.False(t, cp.LastExportAt.Before(before))
	})

	t.Run("second run becomes incremental from the checkpoint", func(t *testing.T) {
		cp, ok := m.GetLastExport(ctx, "octocat/hello", "issues")
		require.True(t, ok)

		opts := m.GetDiffModeOptions(ctx, "octocat/hello", "issues", false)
		assert.True(t, opts.Enabled)
		assert.Equal(t, cp.LastExportAt, opts.Since)
	})

	t.Run("force full overrides the checkpoint", func(t *testing.T) {
		opts := m.GetDiffModeOptions(ctx, "octocat/hello", "issues", true)
		assert.False(t, opts.Enabled)
		assert.True(t, opts.ForceFullExport)
	})

	t.Run("update replaces rather than duplicates", func(t *testing.T) {
		m.UpdateExportState(ctx, "octocat/hello", "issues", 7, "json", "./export")

		states := m.GetRepositoryStates(ctx, "octocat/hello")
		require.Len(t, states, 1)
		assert.Equal(t, 7, states[0].LastCount)
	})

	t.Run("delete removes only the targeted pair", func(t *testing.T) {
		m.UpdateExportState(ctx, "octocat/hello", "commits", 5, "json", "./export")
		m.DeleteExportState(ctx, "octocat/hello", "issues")

		_, ok := m.GetLastExport(ctx, "octocat/hello", "issues")
		assert.False(t, ok)
		_, ok = m.GetLastExport(ctx, "octocat/hello", "commits")
		assert.True(t, ok)
	})
}

func TestManagerPersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryDocumentStore()

	m1 := NewManager(store, testLogger())
	m1.UpdateExportState(ctx, "octocat/hello", "issues", 10, "json", "./export")

	m2 := NewManager(store, testLogger())
	cp, ok := m2.GetLastExport(ctx, "octocat/hello", "issues")
	require.True(t, ok)
	assert.Equal(t, 10, cp.LastCount)
}

func TestManagerCorruptDocumentStartsFresh(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryDocumentStore()
	require.NoError(t, store.Save(ctx, []byte("{{{not json")))

	m := NewManager(store, testLogger())
	assert.Empty(t, m.Checkpoints(ctx))

	// And the manager stays usable.
	m.UpdateExportState(ctx, "a/b", "issues", 1, "json", "./export")
	_, ok := m.GetLastExport(ctx, "a/b", "issues")
	assert.True(t, ok)
}

func TestManagerToleratesSaveFailures(t *testing.T) {
	ctx := context.Background()
	m := NewManager(&failingStore{}, testLogger())

	// Persisting fails, but the in-memory checkpoint still advances.
	m.UpdateExportState(ctx, "a/b", "issues", 3, "json", "./export")
	cp, ok := m.GetLastExport(ctx, "a/b", "issues")
	require.True(t, ok)
	assert.Equal(t, 3, cp.LastCount)
}

func TestManagerClear(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryDocumentStore(), testLogger())
	m.UpdateExportState(ctx, "a/b", "issues", 1, "json", "./export")
	m.UpdateExportState(ctx, "c/d", "commits", 2, "json", "./export")

	m.Clear(ctx)
	assert.Empty(t, m.Checkpoints(ctx))
}

func TestFileDocumentStore(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/nested/state.json"

	s, err := NewFileDocumentStore(path)
	require.NoError(t, err)

	t.Run("missing document loads as nil", func(t *testing.T) {
		data, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Nil(t, data)
	})

	t.Run("round-trips the document", func(t *testing.T) {
		require.NoError(t, s.Save(ctx, []byte(`{"version":1}`)))
		data, err := s.Load(ctx)
		require.NoError(t, err)
		assert.JSONEq(t, `{"version":1}`, string(data))
	})
}
