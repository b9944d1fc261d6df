package models

import (
	"time"
)

// JobStatus is the lifecycle state of an analysis job. Terminal states are
// never left once entered.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusRetrying   JobStatus = "retrying"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether the status is one of completed, failed or
// cancelled.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// JobType identifies what kind of analysis run the job represents.
type JobType string

const (
	JobTypeFullAnalysis     JobType = "full_analysis"
	JobTypeGitAnalysis      JobType = "git_analysis"
	JobTypeSecurityScan     JobType = "security_scan"
	JobTypeStructuralSearch JobType = "structural_search"
)

// Job is one tracked analysis run for one repository. Jobs are created by a
// dispatcher and mutated only through the registry; a terminal job is
// immutable.
type Job struct {
	ID         uint      `json:"-" gorm:"primaryKey;autoIncrement"`
	JobID      string    `json:"job_id" gorm:"column:job_id;uniqueIndex;not null"`
	JobType    JobType   `json:"job_type" gorm:"column:job_type;not null"`
	Status     JobStatus `json:"status" gorm:"column:status;not null;index"`
	RepoRef    string    `json:"repo_ref" gorm:"column:repo_ref;not null;index"`
	Input      JSONMap   `json:"input,omitempty" gorm:"column:input;serializer:json"`
	Result     JSONMap   `json:"result,omitempty" gorm:"column:result;serializer:json"`
	Progress   int       `json:"progress" gorm:"column:progress;default:0"`
	Stage      string    `json:"stage,omitempty" gorm:"column:stage"`
	Error      string    `json:"error,omitempty" gorm:"column:error_message"`
	RetryCount int       `json:"retry_count" gorm:"column:retry_count;default:0"`
	MaxRetries int       `json:"max_retries" gorm:"column:max_retries;default:3"`

	CreatedAt   time.Time  `json:"created_at" gorm:"column:created_at"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"column:updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" gorm:"column:started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" gorm:"column:completed_at"`
}

func (Job) TableName() string {
	return "codemirror_jobs"
}

// IsActive reports whether the job still occupies its repository's
// single active-job slot.
func (j *Job) IsActive() bool {
	return !j.Status.IsTerminal()
}

// CanRetry reports whether another retry attempt is permitted.
func (j *Job) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}
