package executor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/flanksource/commons/logger"

	"github.com/code-cortex/codemirror/models"
)

// DefaultMaxOutputBytes bounds captured stdout/stderr per stream.
const DefaultMaxOutputBytes = 256 * 1024

// Executor runs analysis tools as isolated subprocesses. It never retries;
// retry policy belongs to the job registry.
type Executor struct {
	DefaultTimeout time.Duration
	MaxOutputBytes int
}

// New creates an executor with the given default timeout. A zero timeout
// defaults to two minutes.
func New(defaultTimeout time.Duration) *Executor {
	if defaultTimeout <= 0 {
		defaultTimeout = 2 * time.Minute
	}
	return &Executor{
		DefaultTimeout: defaultTimeout,
		MaxOutputBytes: DefaultMaxOutputBytes,
	}
}

// Execute runs one tool against the repository path and classifies the
// outcome. The returned execution is always non-nil; the error is reserved
// for failures to even record the attempt.
func (e *Executor) Execute(ctx context.Context, jobID string, tool Tool, repoPath string) *models.ToolExecution {
	timeout := tool.Timeout()
	if timeout <= 0 {
		timeout = e.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := tool.Command(repoPath)
	execution := &models.ToolExecution{
		JobID:     jobID,
		ToolName:  tool.Name(),
		Command:   tool.Name() + " " + strings.Join(args, " "),
		CreatedAt: time.Now(),
	}

	cmd := exec.CommandContext(ctx, tool.Name(), args...)
	cmd.Dir = repoPath

	var stdout, stderr boundedBuffer
	stdout.limit = e.maxOutput()
	stderr.limit = e.maxOutput()
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	execution.Duration = time.Since(start)
	execution.Stdout = stdout.String()
	execution.Stderr = stderr.String()
	execution.Truncated = stdout.truncated || stderr.truncated

	switch {
	case err == nil:
		execution.ExitCode = 0
		execution.Status = models.ExecutionSuccess
	case ctx.Err() == context.DeadlineExceeded:
		execution.ExitCode = -1
		execution.Status = models.ExecutionTimeout
		logger.Warnf("tool %s timed out after %s for job %s", tool.Name(), timeout, jobID)
	case errors.Is(err, exec.ErrNotFound):
		execution.ExitCode = -1
		execution.Status = models.ExecutionNotFound
		logger.Warnf("tool %s not found on PATH", tool.Name())
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			execution.ExitCode = exitErr.ExitCode()
		} else {
			execution.ExitCode = -1
		}
		execution.Status = models.ExecutionError
		logger.Debugf("tool %s exited %d for job %s: %v", tool.Name(), execution.ExitCode, jobID, err)
	}

	return execution
}

func (e *Executor) maxOutput() int {
	if e.MaxOutputBytes > 0 {
		return e.MaxOutputBytes
	}
	return DefaultMaxOutputBytes
}

// boundedBuffer captures at most limit bytes and drops the rest. Writes
// never fail so the subprocess is not disturbed by capture limits.
type boundedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	remaining := b.limit - b.buf.Len()
	if remaining <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *boundedBuffer) String() string {
	return b.buf.String()
}

var _ io.Writer = (*boundedBuffer)(nil)
