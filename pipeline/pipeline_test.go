package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/code-cortex/codemirror/config"
	"github.com/code-cortex/codemirror/executor"
	"github.com/code-cortex/codemirror/internal/db"
	"github.com/code-cortex/codemirror/models"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, err := gdb.DB()
		require.NoError(t, err)
		_ = sqlDB.Close()
	})
	return gdb
}

// shTool emits canned output through the system shell so the pipeline can
// run without any real analysis binary.
type shTool struct {
	kind    models.AnalysisKind
	script  string
	timeout time.Duration
}

func (t *shTool) Name() string { return "sh" }

func (t *shTool) Kind() models.AnalysisKind { return t.kind }

func (t *shTool) Command(repoPath string) []string { return []string{"-c", t.script} }

func (t *shTool) Timeout() time.Duration {
	if t.timeout > 0 {
		return t.timeout
	}
	return 10 * time.Second
}

const gitJSON = `{"commits":[{"hash":"a","author":"A","email":"a@example.com",` +
	`"message":"feat: x","timestamp":"2025-01-02T15:04:05Z","additions":1,"deletions":0,"files":["a.go"]}]}`

func happyTools() *executor.Registry {
	registry := executor.NewRegistry()
	registry.Register(&shTool{kind: models.AnalysisKindGit, script: "echo '" + gitJSON + "'"})
	registry.Register(&shTool{kind: models.AnalysisKindSecurity, script: `echo '{"results":[]}'`})
	registry.Register(&shTool{kind: models.AnalysisKindStructural, script: "true"})
	return registry
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Jobs.BackoffBase = 10 * time.Millisecond
	cfg.Jobs.BackoffMax = 50 * time.Millisecond
	return cfg
}

func waitTerminal(t *testing.T, p *Pipeline, jobID string) *models.Job {
	t.Helper()
	var job *models.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = p.Registry().Get(jobID)
		return err == nil && job.Status.IsTerminal()
	}, 15*time.Second, 20*time.Millisecond)
	return job
}

func TestPipelineCompletesHappyPath(t *testing.T) {
	p := New(testDB(t), testConfig(), happyTools(), "user-1")

	job, err := p.Trigger(context.Background(), "github.com/acme/repo", t.TempDir(), nil,
		models.TriggerManual, models.DepthStandard)
	require.NoError(t, err)

	final := waitTerminal(t, p, job.JobID)
	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.NotNil(t, final.StartedAt)
	assert.NotNil(t, final.CompletedAt)
	assert.Contains(t, final.Result, "git")
	assert.Contains(t, final.Result, "security")
}

func TestPipelinePartialFailureStillCompletes(t *testing.T) {
	registry := executor.NewRegistry()
	registry.Register(&shTool{kind: models.AnalysisKindSecurity, script: "exit 1"})
	registry.Register(&shTool{kind: models.AnalysisKindStructural, script: "true"})
	p := New(testDB(t), testConfig(), registry, "user-1")

	kinds := []models.AnalysisKind{models.AnalysisKindSecurity, models.AnalysisKindStructural}
	job, err := p.Trigger(context.Background(), "github.com/acme/repo", t.TempDir(), kinds,
		models.TriggerManual, models.DepthStandard)
	require.NoError(t, err)

	final := waitTerminal(t, p, job.JobID)
	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.Contains(t, final.Result, "security_error")
	assert.Contains(t, final.Result, "structural")
}

func TestPipelineSecurityTimeoutStillCompletes(t *testing.T) {
	registry := executor.NewRegistry()
	registry.Register(&shTool{kind: models.AnalysisKindSecurity, script: "sleep 5", timeout: 50 * time.Millisecond})
	registry.Register(&shTool{kind: models.AnalysisKindStructural, script: "true"})
	p := New(testDB(t), testConfig(), registry, "user-1")

	kinds := []models.AnalysisKind{models.AnalysisKindSecurity, models.AnalysisKindStructural}
	job, err := p.Trigger(context.Background(), "github.com/acme/repo", t.TempDir(), kinds,
		models.TriggerManual, models.DepthStandard)
	require.NoError(t, err)

	final := waitTerminal(t, p, job.JobID)
	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.NotContains(t, final.Result, "security")
	assert.Contains(t, final.Result, "security_error")
	assert.Contains(t, final.Result, "structural")
}

func TestPipelineAllFailuresFailJob(t *testing.T) {
	registry := executor.NewRegistry()
	registry.Register(&shTool{kind: models.AnalysisKindSecurity, script: "exit 1"})
	p := New(testDB(t), testConfig(), registry, "user-1")

	kinds := []models.AnalysisKind{models.AnalysisKindSecurity}
	job, err := p.Trigger(context.Background(), "github.com/acme/repo", t.TempDir(), kinds,
		models.TriggerManual, models.DepthStandard)
	require.NoError(t, err)

	final := waitTerminal(t, p, job.JobID)
	assert.Equal(t, models.JobStatusFailed, final.Status)
	assert.NotEmpty(t, final.Error)
	// Hard tool errors are not transient, so no retries are burned.
	assert.Equal(t, 0, final.RetryCount)
}

func TestPipelineRetriesTimeoutsUntilExhausted(t *testing.T) {
	registry := executor.NewRegistry()
	registry.Register(&shTool{kind: models.AnalysisKindGit, script: "sleep 5", timeout: 50 * time.Millisecond})
	p := New(testDB(t), testConfig(), registry, "user-1")

	kinds := []models.AnalysisKind{models.AnalysisKindGit}
	job, err := p.Trigger(context.Background(), "github.com/acme/repo", t.TempDir(), kinds,
		models.TriggerManual, models.DepthStandard)
	require.NoError(t, err)

	final := waitTerminal(t, p, job.JobID)
	assert.Equal(t, models.JobStatusFailed, final.Status)
	assert.Equal(t, final.MaxRetries, final.RetryCount)
}

func TestPipelineRejectsDuplicateActiveJob(t *testing.T) {
	registry := executor.NewRegistry()
	registry.Register(&shTool{kind: models.AnalysisKindGit, script: "sleep 0.3; echo '" + gitJSON + "'"})
	p := New(testDB(t), testConfig(), registry, "user-1")

	kinds := []models.AnalysisKind{models.AnalysisKindGit}
	job, err := p.Trigger(context.Background(), "github.com/acme/repo", t.TempDir(), kinds,
		models.TriggerManual, models.DepthStandard)
	require.NoError(t, err)

	_, err = p.Trigger(context.Background(), "github.com/acme/repo", t.TempDir(), kinds,
		models.TriggerManual, models.DepthStandard)
	assert.Error(t, err)

	// Different repositories are independent slots.
	other, err := p.Trigger(context.Background(), "github.com/acme/other", t.TempDir(), kinds,
		models.TriggerManual, models.DepthStandard)
	require.NoError(t, err)

	waitTerminal(t, p, job.JobID)
	waitTerminal(t, p, other.JobID)
}

func TestPipelineCancelLandsCancelled(t *testing.T) {
	registry := executor.NewRegistry()
	registry.Register(&shTool{kind: models.AnalysisKindGit, script: "sleep 30"})
	p := New(testDB(t), testConfig(), registry, "user-1")

	kinds := []models.AnalysisKind{models.AnalysisKindGit}
	job, err := p.Trigger(context.Background(), "github.com/acme/repo", t.TempDir(), kinds,
		models.TriggerManual, models.DepthStandard)
	require.NoError(t, err)

	// Let the job enter processing before cancelling it.
	require.Eventually(t, func() bool {
		loaded, err := p.Registry().Get(job.JobID)
		return err == nil && loaded.Status == models.JobStatusProcessing
	}, 5*time.Second, 10*time.Millisecond)

	cancelled, err := p.Cancel(job.JobID, "test cancel")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, cancelled.Status)

	final := waitTerminal(t, p, job.JobID)
	assert.Equal(t, models.JobStatusCancelled, final.Status)
}
