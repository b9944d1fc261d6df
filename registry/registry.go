package registry

import (
	"errors"
	"fmt"
	"time"

	"github.com/flanksource/commons/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/code-cortex/codemirror/models"
)

var (
	// ErrDuplicateActiveJob rejects a second non-terminal job for a repo.
	ErrDuplicateActiveJob = errors.New("duplicate active job for repository")
	// ErrInvalidTransition rejects a status change outside the state graph.
	ErrInvalidTransition = errors.New("invalid job state transition")
	// ErrRetriesExhausted is returned when retry_count reaches max_retries.
	ErrRetriesExhausted = errors.New("job retries exhausted")
	// ErrJobNotFound is returned for an unknown job id.
	ErrJobNotFound = errors.New("job not found")
)

// validTransitions is the job state graph. Any non-terminal state may also
// move to cancelled.
var validTransitions = map[models.JobStatus][]models.JobStatus{
	models.JobStatusPending:    {models.JobStatusProcessing},
	models.JobStatusProcessing: {models.JobStatusCompleted, models.JobStatusFailed},
	models.JobStatusFailed:     {models.JobStatusRetrying},
	models.JobStatusRetrying:   {models.JobStatusProcessing},
}

// Registry owns the canonical lifecycle of analysis jobs. All job
// mutations go through it; terminal jobs are never modified.
type Registry struct {
	db         *gorm.DB
	maxRetries int
}

// New creates a registry over the given database. maxRetries is the
// default retry cap stamped on new jobs.
func New(db *gorm.DB, maxRetries int) *Registry {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Registry{db: db, maxRetries: maxRetries}
}

// CreateJob creates a pending job for the repository. Fails with
// ErrDuplicateActiveJob while any non-terminal job exists for the same
// repo_ref.
func (r *Registry) CreateJob(jobType models.JobType, repoRef string, input models.JSONMap) (*models.Job, error) {
	job := &models.Job{
		JobID:      uuid.NewString(),
		JobType:    jobType,
		Status:     models.JobStatusPending,
		RepoRef:    repoRef,
		Input:      input,
		MaxRetries: r.maxRetries,
	}

	err := r.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		active := []models.JobStatus{
			models.JobStatusPending, models.JobStatusProcessing, models.JobStatusRetrying,
		}
		if err := tx.Model(&models.Job{}).
			Where("repo_ref = ? AND status IN ?", repoRef, active).
			Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check active jobs: %w", err)
		}
		if count > 0 {
			return fmt.Errorf("%w: %s", ErrDuplicateActiveJob, repoRef)
		}
		if err := tx.Create(job).Error; err != nil {
			return fmt.Errorf("failed to create job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Infof("created job %s (%s) for %s", job.JobID, jobType, repoRef)
	return job, nil
}

// Get returns the job by its external id.
func (r *Registry) Get(jobID string) (*models.Job, error) {
	var job models.Job
	if err := r.db.Where("job_id = ?", jobID).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	return &job, nil
}

// ListByRepo returns all jobs for a repository, newest first.
func (r *Registry) ListByRepo(repoRef string) ([]models.Job, error) {
	var jobs []models.Job
	if err := r.db.Where("repo_ref = ?", repoRef).
		Order("created_at DESC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list jobs for %s: %w", repoRef, err)
	}
	return jobs, nil
}

// Transition moves the job to newStatus, enforcing the state graph.
// started_at and completed_at are stamped exactly once on the
// corresponding edges.
func (r *Registry) Transition(jobID string, newStatus models.JobStatus, details string) (*models.Job, error) {
	var job *models.Job
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var err error
		job, err = lockJob(tx, jobID)
		if err != nil {
			return err
		}
		if !allowed(job.Status, newStatus) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, newStatus)
		}

		now := time.Now()
		updates := map[string]any{"status": newStatus, "updated_at": now}
		if newStatus == models.JobStatusProcessing && job.StartedAt == nil {
			updates["started_at"] = now
		}
		if newStatus.IsTerminal() && job.CompletedAt == nil {
			updates["completed_at"] = now
		}
		if details != "" {
			if newStatus == models.JobStatusFailed || newStatus == models.JobStatusCancelled {
				updates["error_message"] = details
			} else {
				updates["stage"] = details
			}
		}

		if err := tx.Model(job).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to transition job %s: %w", jobID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Debugf("job %s -> %s", jobID, newStatus)
	return r.Get(jobID)
}

// RecordProgress updates the job's progress and stage. Percent is clamped
// to be monotonically non-decreasing rather than rejected.
func (r *Registry) RecordProgress(jobID string, percent int, stage, message string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		job, err := lockJob(tx, jobID)
		if err != nil {
			return err
		}
		if job.Status.IsTerminal() {
			return fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, jobID, job.Status)
		}

		if percent < job.Progress {
			percent = job.Progress
		}
		if percent > 100 {
			percent = 100
		}

		updates := map[string]any{"progress": percent, "updated_at": time.Now()}
		if stage != "" {
			updates["stage"] = stage
		}
		if err := tx.Model(job).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to record progress for %s: %w", jobID, err)
		}
		if message != "" {
			logger.Debugf("job %s %d%% (%s): %s", jobID, percent, stage, message)
		}
		return nil
	})
}

// Retry re-enters processing through retrying, incrementing retry_count.
// Once retry_count reaches max_retries the job is forced terminal failed
// and ErrRetriesExhausted is returned.
func (r *Registry) Retry(jobID string) (*models.Job, error) {
	var exhausted bool
	err := r.db.Transaction(func(tx *gorm.DB) error {
		job, err := lockJob(tx, jobID)
		if err != nil {
			return err
		}
		if job.Status != models.JobStatusFailed && job.Status != models.JobStatusProcessing {
			return fmt.Errorf("%w: cannot retry from %s", ErrInvalidTransition, job.Status)
		}

		now := time.Now()
		if !job.CanRetry() {
			exhausted = true
			updates := map[string]any{
				"status":        models.JobStatusFailed,
				"error_message": "retries exhausted",
				"updated_at":    now,
			}
			if job.CompletedAt == nil {
				updates["completed_at"] = now
			}
			if err := tx.Model(job).Updates(updates).Error; err != nil {
				return fmt.Errorf("failed to fail job %s: %w", jobID, err)
			}
			return nil
		}

		updates := map[string]any{
			"status":      models.JobStatusRetrying,
			"retry_count": job.RetryCount + 1,
			"updated_at":  now,
		}
		if err := tx.Model(job).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to retry job %s: %w", jobID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if exhausted {
		return nil, fmt.Errorf("%w: %s", ErrRetriesExhausted, jobID)
	}

	logger.Infof("retrying job %s", jobID)
	return r.Transition(jobID, models.JobStatusProcessing, "")
}

// Cancel moves any non-terminal job to cancelled. Already-persisted
// analyzer results remain as a partial record.
func (r *Registry) Cancel(jobID, reason string) (*models.Job, error) {
	return r.Transition(jobID, models.JobStatusCancelled, reason)
}

// SetResult stores the aggregated result document on a still-active job.
func (r *Registry) SetResult(jobID string, result models.JSONMap) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		job, err := lockJob(tx, jobID)
		if err != nil {
			return err
		}
		if job.Status.IsTerminal() {
			return fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, jobID, job.Status)
		}
		if err := tx.Model(job).Updates(map[string]any{
			"result":     result,
			"updated_at": time.Now(),
		}).Error; err != nil {
			return fmt.Errorf("failed to store result for %s: %w", jobID, err)
		}
		return nil
	})
}

func allowed(from, to models.JobStatus) bool {
	if to == models.JobStatusCancelled {
		return !from.IsTerminal()
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func lockJob(tx *gorm.DB, jobID string) (*models.Job, error) {
	var job models.Job
	if err := tx.Where("job_id = ?", jobID).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	return &job, nil
}
