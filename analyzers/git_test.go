package analyzers

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-cortex/codemirror/models"
)

func gitExecution(t *testing.T, payload any) *models.ToolExecution {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return &models.ToolExecution{
		JobID:    "job-1",
		ToolName: "git-insights",
		Status:   models.ExecutionSuccess,
		Stdout:   string(data),
	}
}

func TestGitAnalyzerHistograms(t *testing.T) {
	now := time.Now()
	payload := map[string]any{
		"commits": []map[string]any{
			{
				"hash": "a1", "author": "Alice", "email": "alice@example.com",
				"message": "feat: add parser", "timestamp": now.Add(-48 * time.Hour),
				"additions": 100, "deletions": 20, "files": []string{"parser.go"},
			},
			{
				"hash": "a2", "author": "Alice", "email": "alice@example.com",
				"message": "fix: hack around flaky test", "timestamp": now.Add(-24 * time.Hour),
				"additions": 10, "deletions": 2, "files": []string{"parser.go", "parser_test.go"},
			},
			{
				"hash": "b1", "author": "Bob", "email": "bob@example.com",
				"message": "update readme", "timestamp": now,
				"additions": 5, "deletions": 1, "files": []string{"README.md"},
			},
		},
	}

	analyzer := &GitAnalyzer{Depth: models.DepthStandard}
	result, err := analyzer.Analyze("job-1", "github.com/acme/repo", gitExecution(t, payload))
	require.NoError(t, err)

	assert.Equal(t, 3, result.CommitCount)
	assert.Equal(t, 2, result.AuthorCount)
	assert.Equal(t, 3, result.FileCount)
	require.Len(t, result.Authors, 2)
	assert.Equal(t, "alice@example.com", result.Authors[0].Email)
	assert.Equal(t, 2, result.Authors[0].CommitCount)

	// One debt marker ("hack") in the second message.
	assert.Len(t, result.DebtIndicators, 1)

	require.NotNil(t, result.MessageQuality)
	assert.InDelta(t, 66.7, result.MessageQuality.ConventionalPct, 0.1)
}

func TestGitAnalyzerHotspotRanking(t *testing.T) {
	now := time.Now()
	commits := []map[string]any{}
	for i := 0; i < 5; i++ {
		commits = append(commits, map[string]any{
			"hash": fmt.Sprintf("c%d", i), "author": "A", "email": "a@example.com",
			"message": "chore: touch", "timestamp": now,
			"additions": 40, "deletions": 0, "files": []string{"hot.go"},
		})
	}
	commits = append(commits, map[string]any{
		"hash": "x", "author": "A", "email": "a@example.com",
		"message": "chore: once", "timestamp": now,
		"additions": 40, "deletions": 0, "files": []string{"cold.go"},
	})

	analyzer := &GitAnalyzer{Depth: models.DepthStandard}
	result, err := analyzer.Analyze("job-1", "repo", gitExecution(t, map[string]any{"commits": commits}))
	require.NoError(t, err)

	require.NotEmpty(t, result.Hotspots)
	assert.Equal(t, "hot.go", result.Hotspots[0].Path)
	assert.Equal(t, 5, result.Hotspots[0].ChangeCount)
	assert.Greater(t, result.Hotspots[0].Score, result.Hotspots[len(result.Hotspots)-1].Score)
}

func TestGitAnalyzerRejectsFailedExecution(t *testing.T) {
	analyzer := &GitAnalyzer{}
	_, err := analyzer.Analyze("job-1", "repo", &models.ToolExecution{
		Status: models.ExecutionTimeout,
	})
	assert.Error(t, err)
}

func TestGitAnalyzerRejectsMalformedOutput(t *testing.T) {
	analyzer := &GitAnalyzer{}
	_, err := analyzer.Analyze("job-1", "repo", &models.ToolExecution{
		Status: models.ExecutionSuccess,
		Stdout: "not json at all",
	})
	assert.Error(t, err)
}

func TestGitAnalyzerEmptyHistory(t *testing.T) {
	analyzer := &GitAnalyzer{}
	result, err := analyzer.Analyze("job-1", "repo", gitExecution(t, map[string]any{"commits": []any{}}))
	require.NoError(t, err)
	assert.Equal(t, 0, result.CommitCount)
	assert.Nil(t, result.MessageQuality)
}
