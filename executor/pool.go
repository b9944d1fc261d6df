package executor

import (
	"context"
	"runtime"
	"sync"

	"github.com/code-cortex/codemirror/models"
)

// Pool bounds concurrent tool subprocesses system-wide. One job's tool
// invocations run in parallel but siblings are isolated: a failing or
// timed-out tool never cancels the others.
type Pool struct {
	executor *Executor
	sem      chan struct{}
}

// NewPool creates a pool capped at size concurrent subprocesses. A size
// below one falls back to the CPU count.
func NewPool(executor *Executor, size int) *Pool {
	if size < 1 {
		size = runtime.NumCPU()
	}
	return &Pool{
		executor: executor,
		sem:      make(chan struct{}, size),
	}
}

// RunAll executes every tool against the repository and returns one
// execution per tool, in the input order. Cancelling ctx terminates any
// still-running subprocesses; completed executions are still returned.
func (p *Pool) RunAll(ctx context.Context, jobID string, tools []Tool, repoPath string) []*models.ToolExecution {
	results := make([]*models.ToolExecution, len(tools))

	var wg sync.WaitGroup
	for i, tool := range tools {
		wg.Add(1)
		go func(i int, tool Tool) {
			defer wg.Done()
			select {
			case p.sem <- struct{}{}:
				defer func() { <-p.sem }()
			case <-ctx.Done():
				results[i] = &models.ToolExecution{
					JobID:    jobID,
					ToolName: tool.Name(),
					ExitCode: -1,
					Status:   models.ExecutionTimeout,
				}
				return
			}
			results[i] = p.executor.Execute(ctx, jobID, tool, repoPath)
		}(i, tool)
	}
	wg.Wait()

	return results
}
