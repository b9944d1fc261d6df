package syncer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-cortex/codemirror/models"
)

func testStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := OpenLocalStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testRun(repoPath string, analyzedAt time.Time) LocalRun {
	return LocalRun{
		CLIAnalysisID: uuid.NewString(),
		RepoPath:      repoPath,
		SyncToken:     uuid.NewString(),
		Result:        models.JSONMap{"git": map[string]any{"commit_count": float64(3)}},
		AnalyzedAt:    analyzedAt,
	}
}

func TestLocalStoreRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	run := testRun("/src/repo", time.Now())

	require.NoError(t, store.SaveRun(ctx, run, 10))

	latest, err := store.LatestRun(ctx, "/src/repo")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, run.CLIAnalysisID, latest.CLIAnalysisID)
	assert.Equal(t, run.SyncToken, latest.SyncToken)
	assert.Equal(t, run.Result, latest.Result)
	assert.False(t, latest.Synced)
}

func TestLocalStorePendingAndMarkSynced(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	first := testRun("/src/a", time.Now().Add(-time.Hour))
	second := testRun("/src/b", time.Now())
	require.NoError(t, store.SaveRun(ctx, first, 10))
	require.NoError(t, store.SaveRun(ctx, second, 10))

	pending, err := store.PendingRuns(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.CLIAnalysisID, pending[0].CLIAnalysisID)

	require.NoError(t, store.MarkSynced(ctx, first.CLIAnalysisID))
	pending, err = store.PendingRuns(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.CLIAnalysisID, pending[0].CLIAnalysisID)
}

func TestLocalStorePrunesOldRuns(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	base := time.Now().Add(-10 * time.Hour)
	for i := 0; i < 5; i++ {
		run := testRun("/src/repo", base.Add(time.Duration(i)*time.Hour))
		run.Result = models.JSONMap{"n": fmt.Sprintf("%d", i)}
		require.NoError(t, store.SaveRun(ctx, run, 3))
	}

	pending, err := store.PendingRuns(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 3)

	latest, err := store.LatestRun(ctx, "/src/repo")
	require.NoError(t, err)
	assert.Equal(t, models.JSONMap{"n": "4"}, latest.Result)
}

func TestLocalStoreMissingRepo(t *testing.T) {
	store := testStore(t)
	latest, err := store.LatestRun(context.Background(), "/nowhere")
	require.NoError(t, err)
	assert.Nil(t, latest)
}
