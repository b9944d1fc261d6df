package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/flanksource/commons/logger"
	"github.com/samber/lo"
	"gorm.io/gorm"

	"github.com/code-cortex/codemirror/analyzers"
	"github.com/code-cortex/codemirror/config"
	"github.com/code-cortex/codemirror/executor"
	"github.com/code-cortex/codemirror/insights"
	"github.com/code-cortex/codemirror/models"
	"github.com/code-cortex/codemirror/registry"
)

// Progress checkpoints per stage. Aggregation brings the job to 95; the
// terminal transition accounts for the rest.
const (
	progressGit        = 30
	progressSecurity   = 60
	progressStructural = 80
	progressAggregate  = 95
)

// Pipeline drives one job end to end: fan out tool executions, parse
// analyzer results, aggregate, and land the job in a terminal state.
type Pipeline struct {
	db         *gorm.DB
	registry   *registry.Registry
	pool       *executor.Pool
	tools      *executor.Registry
	aggregator *insights.Aggregator
	cfg        *config.Config
	userID     string

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New wires a pipeline over the shared database.
func New(db *gorm.DB, cfg *config.Config, tools *executor.Registry, userID string) *Pipeline {
	exec := executor.New(cfg.Executor.DefaultTimeout)
	exec.MaxOutputBytes = cfg.Executor.MaxOutputBytes
	return &Pipeline{
		db:         db,
		registry:   registry.New(db, cfg.Jobs.MaxRetries),
		pool:       executor.NewPool(exec, cfg.Executor.PoolSize),
		tools:      tools,
		aggregator: insights.New(db),
		cfg:        cfg,
		userID:     userID,
		cancels:    map[string]context.CancelFunc{},
	}
}

// Registry exposes the job registry for API handlers.
func (p *Pipeline) Registry() *registry.Registry {
	return p.registry
}

// Aggregator exposes the insight aggregator for API handlers.
func (p *Pipeline) Aggregator() *insights.Aggregator {
	return p.aggregator
}

// Trigger creates and runs a job for the repository. The duplicate-active
// check in the registry is the mutual exclusion point.
func (p *Pipeline) Trigger(ctx context.Context, repoRef, repoPath string, kinds []models.AnalysisKind, source models.TriggerSource, depth models.AnalysisDepth) (*models.Job, error) {
	if len(kinds) == 0 {
		kinds = []models.AnalysisKind{models.AnalysisKindGit, models.AnalysisKindSecurity, models.AnalysisKindStructural}
	}
	if depth == "" {
		depth = models.DepthStandard
	}
	input := models.JSONMap{
		"repo_path": repoPath,
		"kinds":     lo.Map(kinds, func(k models.AnalysisKind, _ int) string { return string(k) }),
		"source":    string(source),
		"depth":     string(depth),
	}
	job, err := p.registry.CreateJob(jobTypeFor(kinds), repoRef, input)
	if err != nil {
		return nil, err
	}

	// The job outlives the caller's request context.
	go p.run(context.WithoutCancel(ctx), job, repoPath, kinds)
	return job, nil
}

// Cancel stops a running job's subprocesses and lands it in cancelled.
func (p *Pipeline) Cancel(jobID, reason string) (*models.Job, error) {
	p.mu.Lock()
	cancel, ok := p.cancels[jobID]
	p.mu.Unlock()
	if ok {
		cancel()
	}
	return p.registry.Cancel(jobID, reason)
}

// run owns the retry loop. Transient all-tool failures retry with bounded
// exponential backoff until max_retries.
func (p *Pipeline) run(ctx context.Context, job *models.Job, repoPath string, kinds []models.AnalysisKind) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancels[job.JobID] = cancel
	p.mu.Unlock()
	defer func() {
		cancel()
		p.mu.Lock()
		delete(p.cancels, job.JobID)
		p.mu.Unlock()
	}()

	if _, err := p.registry.Transition(job.JobID, models.JobStatusProcessing, "starting"); err != nil {
		logger.Errorf("job %s failed to start: %v", job.JobID, err)
		return
	}

	backoff := p.cfg.Jobs.BackoffBase
	for {
		transient, err := p.attempt(ctx, job, repoPath, kinds)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			// Cancel() already lands the job in cancelled; this covers a
			// parent shutdown.
			if _, cerr := p.registry.Cancel(job.JobID, "shutdown"); cerr != nil && !errors.Is(cerr, registry.ErrInvalidTransition) {
				logger.Warnf("job %s cancel on shutdown: %v", job.JobID, cerr)
			}
			return
		}
		if !transient {
			if _, terr := p.registry.Transition(job.JobID, models.JobStatusFailed, err.Error()); terr != nil {
				logger.Errorf("job %s failed to fail: %v", job.JobID, terr)
			}
			return
		}

		if _, rerr := p.registry.Retry(job.JobID); rerr != nil {
			if errors.Is(rerr, registry.ErrRetriesExhausted) {
				logger.Warnf("job %s: %v", job.JobID, rerr)
			} else {
				logger.Errorf("job %s retry failed: %v", job.JobID, rerr)
			}
			return
		}

		logger.Infof("job %s retrying in %s: %v", job.JobID, backoff, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if max := p.cfg.Jobs.BackoffMax; max > 0 && backoff > max {
			backoff = max
		}
	}
}

// attempt runs one pass over all requested kinds. The bool reports whether
// a returned error is transient and worth retrying.
func (p *Pipeline) attempt(ctx context.Context, job *models.Job, repoPath string, kinds []models.AnalysisKind) (bool, error) {
	tools := make([]executor.Tool, 0, len(kinds))
	for _, kind := range kinds {
		tool, ok := p.tools.ForKind(kind)
		if !ok {
			return false, fmt.Errorf("no tool registered for %s analysis", kind)
		}
		tools = append(tools, tool)
	}

	executions := p.pool.RunAll(ctx, job.JobID, tools, repoPath)
	for _, execution := range executions {
		if err := p.db.Create(execution).Error; err != nil {
			logger.Errorf("job %s: failed to persist execution of %s: %v", job.JobID, execution.ToolName, err)
		}
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	reports := p.analyze(job, kinds, executions)

	failed := lo.CountBy(reports, func(r models.AnalyzerReport) bool { return r.Degraded() })
	if failed == len(reports) {
		// All requested analyses failed. Timeouts are transient; a missing
		// binary or a hard tool error is not.
		transient := lo.SomeBy(executions, func(e *models.ToolExecution) bool {
			return e.Status == models.ExecutionTimeout
		})
		return transient, fmt.Errorf("all %d requested analyses failed", len(reports))
	}

	if err := p.aggregate(job, reports); err != nil {
		logger.Errorf("job %s aggregation: %v", job.JobID, err)
	}

	result := summarize(reports)
	if err := p.registry.SetResult(job.JobID, result); err != nil {
		return false, err
	}
	if _, err := p.registry.Transition(job.JobID, models.JobStatusCompleted, "done"); err != nil {
		return false, err
	}
	logger.Infof("job %s completed (%d/%d analyses ok)", job.JobID, len(reports)-failed, len(reports))
	return false, nil
}

// analyze parses each execution with its analyzer and persists the typed
// results. A malformed output degrades that sub-result only.
func (p *Pipeline) analyze(job *models.Job, kinds []models.AnalysisKind, executions []*models.ToolExecution) []models.AnalyzerReport {
	depth := depthFromInput(job.Input)
	reports := make([]models.AnalyzerReport, 0, len(kinds))

	for i, kind := range kinds {
		execution := executions[i]
		report := models.AnalyzerReport{Kind: kind}

		switch kind {
		case models.AnalysisKindGit:
			p.progress(job.JobID, progressGit, "git analysis")
			result, err := (&analyzers.GitAnalyzer{Depth: depth}).Analyze(job.JobID, job.RepoRef, execution)
			if err != nil {
				report.Err = err.Error()
				logger.Warnf("job %s git analysis degraded: %v", job.JobID, err)
			} else {
				report.Git = result
				p.persist(job.JobID, result)
			}
		case models.AnalysisKindSecurity:
			p.progress(job.JobID, progressSecurity, "security scan")
			result, findings, err := (&analyzers.SecurityAnalyzer{}).Analyze(job.JobID, job.RepoRef, execution)
			if err != nil {
				report.Err = err.Error()
				logger.Warnf("job %s security scan degraded: %v", job.JobID, err)
			} else {
				report.Security = result
				report.Findings = findings
				p.persist(job.JobID, result)
				if len(findings) > 0 {
					if err := p.db.Create(&findings).Error; err != nil {
						logger.Errorf("job %s: failed to persist findings: %v", job.JobID, err)
					}
				}
			}
		case models.AnalysisKindStructural:
			p.progress(job.JobID, progressStructural, "structural search")
			result, err := (&analyzers.StructuralAnalyzer{}).Analyze(job.JobID, job.RepoRef, execution)
			if err != nil {
				report.Err = err.Error()
				logger.Warnf("job %s structural search degraded: %v", job.JobID, err)
			} else {
				report.Structural = result
				p.persist(job.JobID, result)
			}
		}
		reports = append(reports, report)
	}
	return reports
}

func (p *Pipeline) aggregate(job *models.Job, reports []models.AnalyzerReport) error {
	p.progress(job.JobID, progressAggregate, "aggregating insights")
	return p.aggregator.ProcessJob(p.userID, job, reports)
}

func (p *Pipeline) persist(jobID string, record any) {
	if err := p.db.Create(record).Error; err != nil {
		logger.Errorf("job %s: failed to persist %T: %v", jobID, record, err)
	}
}

func (p *Pipeline) progress(jobID string, percent int, stage string) {
	if err := p.registry.RecordProgress(jobID, percent, stage, ""); err != nil {
		logger.Debugf("job %s progress: %v", jobID, err)
	}
}

// summarize flattens the reports into the job's result document. Degraded
// sub-results stay absent except for their error string.
func summarize(reports []models.AnalyzerReport) models.JSONMap {
	result := models.JSONMap{}
	for _, report := range reports {
		key := string(report.Kind)
		if report.Degraded() {
			result[key+"_error"] = report.Err
			continue
		}
		switch report.Kind {
		case models.AnalysisKindGit:
			result[key] = models.JSONMap{
				"commit_count":   report.Git.CommitCount,
				"author_count":   report.Git.AuthorCount,
				"activity_score": report.Git.ActivityScore,
			}
		case models.AnalysisKindSecurity:
			result[key] = models.JSONMap{
				"finding_count":          report.Security.FindingCount,
				"overall_security_score": report.Security.OverallScore,
			}
		case models.AnalysisKindStructural:
			result[key] = models.JSONMap{
				"match_count":           len(report.Structural.Matches),
				"consistency_score":     report.Structural.ConsistencyScore,
				"maintainability_score": report.Structural.MaintainabilityScore,
			}
		}
	}
	return result
}

func jobTypeFor(kinds []models.AnalysisKind) models.JobType {
	if len(kinds) != 1 {
		return models.JobTypeFullAnalysis
	}
	switch kinds[0] {
	case models.AnalysisKindGit:
		return models.JobTypeGitAnalysis
	case models.AnalysisKindSecurity:
		return models.JobTypeSecurityScan
	case models.AnalysisKindStructural:
		return models.JobTypeStructuralSearch
	}
	return models.JobTypeFullAnalysis
}

func depthFromInput(input models.JSONMap) models.AnalysisDepth {
	if raw, ok := input["depth"].(string); ok {
		switch models.AnalysisDepth(raw) {
		case models.DepthQuick, models.DepthStandard, models.DepthDeep:
			return models.AnalysisDepth(raw)
		}
	}
	return models.DepthStandard
}
