package executor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-cortex/codemirror/models"
)

// fakeTool runs an ordinary shell so the executor can be exercised
// without any real analysis binary installed.
type fakeTool struct {
	name    string
	kind    models.AnalysisKind
	args    []string
	timeout time.Duration
}

func (t *fakeTool) Name() string { return t.name }

func (t *fakeTool) Kind() models.AnalysisKind { return t.kind }

func (t *fakeTool) Command(repoPath string) []string { return t.args }

func (t *fakeTool) Timeout() time.Duration { return t.timeout }

func shellTool(script string) *fakeTool {
	return &fakeTool{name: "sh", kind: models.AnalysisKindGit, args: []string{"-c", script}}
}

func TestExecuteSuccess(t *testing.T) {
	exec := New(time.Minute)
	execution := exec.Execute(context.Background(), "job-1", shellTool("echo hello"), t.TempDir())

	assert.Equal(t, models.ExecutionSuccess, execution.Status)
	assert.Equal(t, 0, execution.ExitCode)
	assert.Equal(t, "hello\n", execution.Stdout)
	assert.Equal(t, "job-1", execution.JobID)
	assert.True(t, execution.OK())
}

func TestExecuteNonZeroExit(t *testing.T) {
	exec := New(time.Minute)
	execution := exec.Execute(context.Background(), "job-1", shellTool("echo boom >&2; exit 3"), t.TempDir())

	assert.Equal(t, models.ExecutionError, execution.Status)
	assert.Equal(t, 3, execution.ExitCode)
	assert.Contains(t, execution.Stderr, "boom")
}

func TestExecuteTimeout(t *testing.T) {
	tool := shellTool("sleep 5")
	tool.timeout = 100 * time.Millisecond

	exec := New(time.Minute)
	start := time.Now()
	execution := exec.Execute(context.Background(), "job-1", tool, t.TempDir())

	assert.Equal(t, models.ExecutionTimeout, execution.Status)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestExecuteMissingBinary(t *testing.T) {
	tool := &fakeTool{name: "codemirror-no-such-binary", kind: models.AnalysisKindGit}

	exec := New(time.Minute)
	execution := exec.Execute(context.Background(), "job-1", tool, t.TempDir())

	assert.Equal(t, models.ExecutionNotFound, execution.Status)
}

func TestExecuteBoundsOutput(t *testing.T) {
	exec := New(time.Minute)
	exec.MaxOutputBytes = 64
	execution := exec.Execute(context.Background(), "job-1",
		shellTool("yes codemirror | head -n 100"), t.TempDir())

	assert.True(t, execution.Truncated)
	assert.LessOrEqual(t, len(execution.Stdout), 64)
}

func TestPoolIsolatesSiblings(t *testing.T) {
	exec := New(time.Minute)
	pool := NewPool(exec, 2)

	ok := shellTool("echo fine")
	bad := shellTool("exit 1")
	results := pool.RunAll(context.Background(), "job-1", []Tool{ok, bad, ok}, t.TempDir())

	require.Len(t, results, 3)
	assert.Equal(t, models.ExecutionSuccess, results[0].Status)
	assert.Equal(t, models.ExecutionError, results[1].Status)
	assert.Equal(t, models.ExecutionSuccess, results[2].Status)
}

func TestRegistryForKind(t *testing.T) {
	registry := DefaultRegistry(models.DepthStandard, nil)

	tool, ok := registry.ForKind(models.AnalysisKindSecurity)
	require.True(t, ok)
	assert.Equal(t, "semgrep", tool.Name())

	assert.Len(t, registry.List(), 3)
}

func TestGitInsightsCommandDepth(t *testing.T) {
	quick := &GitInsightsTool{Depth: models.DepthQuick}
	assert.Contains(t, strings.Join(quick.Command("/repo"), " "), "--max-commits 100")

	deep := &GitInsightsTool{Depth: models.DepthDeep}
	assert.NotContains(t, strings.Join(deep.Command("/repo"), " "), "--max-commits")
}

func TestCombyCommandCarriesPatternTemplates(t *testing.T) {
	tool := &CombyTool{Patterns: map[string]string{
		"empty-catch": "catch (:[err]) {}",
		"deep-loop":   "for (:[a]) { for (:[b]) { :[body] } }",
	}}

	args := tool.Command("/repo")
	assert.Equal(t, []string{
		"-json-lines", "-match-only", "-directory", "/repo",
		"-match-template", "for (:[a]) { for (:[b]) { :[body] } }",
		"-match-template", "catch (:[err]) {}",
	}, args)
}

func TestCombyCommandDefaultsWithoutRuleset(t *testing.T) {
	tool := &CombyTool{}
	args := strings.Join(tool.Command("/repo"), " ")
	assert.Contains(t, args, "-match-template")
	assert.Contains(t, args, "catch (:[err]) {}")
}

func TestDefaultRegistryWiresRulesetPatterns(t *testing.T) {
	ruleset := &Ruleset{
		Rules:    []string{"p/golang"},
		Patterns: map[string]string{"bare-recover": "recover()"},
	}
	registry := DefaultRegistry(models.DepthStandard, ruleset)

	tool, ok := registry.ForKind(models.AnalysisKindStructural)
	require.True(t, ok)
	args := strings.Join(tool.Command("/repo"), " ")
	assert.Contains(t, args, "-match-template recover()")
}
