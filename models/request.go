package models

import (
	"time"
)

// AnalysisKind selects one of the analyzer backends.
type AnalysisKind string

const (
	AnalysisKindGit        AnalysisKind = "git"
	AnalysisKindSecurity   AnalysisKind = "security"
	AnalysisKindStructural AnalysisKind = "structural"
)

// Priority orders pending analysis requests.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// TriggerSource records what caused an analysis request to be created.
type TriggerSource string

const (
	TriggerFileWatch TriggerSource = "file_watch"
	TriggerManual    TriggerSource = "manual"
	TriggerScheduled TriggerSource = "scheduled"
)

// RequestStatus is the lifecycle state of an analysis request.
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusLinked    RequestStatus = "linked"
	RequestStatusCompleted RequestStatus = "completed"
	RequestStatusDiscarded RequestStatus = "discarded"
)

// IsTerminal reports whether the request can no longer be linked to a job.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestStatusCompleted || s == RequestStatusDiscarded
}

// AnalysisRequest is a pending intent to analyze one repository. At most one
// non-terminal request exists per repo_ref at any time.
type AnalysisRequest struct {
	ID             uint          `json:"-" gorm:"primaryKey;autoIncrement"`
	RequestID      string        `json:"request_id" gorm:"column:request_id;uniqueIndex;not null"`
	RepoRef        string        `json:"repo_ref" gorm:"column:repo_ref;not null;index"`
	RequestedKinds StringArray   `json:"requested_analysis_kinds" gorm:"column:requested_kinds;type:text"`
	Priority       Priority      `json:"priority" gorm:"column:priority;not null"`
	TriggerSource  TriggerSource `json:"trigger_source" gorm:"column:trigger_source;not null"`
	Status         RequestStatus `json:"status" gorm:"column:status;not null;index"`
	LinkedJobID    string        `json:"linked_job_id,omitempty" gorm:"column:linked_job_id;index"`
	BatchID        string        `json:"batch_id,omitempty" gorm:"column:batch_id;index"`
	CreatedAt      time.Time     `json:"created_at" gorm:"column:created_at"`
	UpdatedAt      time.Time     `json:"updated_at" gorm:"column:updated_at"`
}

func (AnalysisRequest) TableName() string {
	return "analysis_requests"
}

// FileEventType classifies a raw filesystem notification.
type FileEventType string

const (
	FileEventCreated  FileEventType = "created"
	FileEventModified FileEventType = "modified"
	FileEventDeleted  FileEventType = "deleted"
	FileEventMoved    FileEventType = "moved"
)

// FileEvent is an append-only record of one filesystem change. After insert,
// only batch_id and processed are ever written.
type FileEvent struct {
	ID           uint          `json:"-" gorm:"primaryKey;autoIncrement"`
	RepoRef      string        `json:"repo_ref" gorm:"column:repo_ref;not null;index"`
	EventType    FileEventType `json:"event_type" gorm:"column:event_type;not null"`
	Path         string        `json:"path" gorm:"column:path;not null"`
	Size         int64         `json:"size" gorm:"column:size"`
	IsSourceFile bool          `json:"is_source_file" gorm:"column:is_source_file"`
	BatchID      string        `json:"batch_id,omitempty" gorm:"column:batch_id;index"`
	Processed    bool          `json:"processed" gorm:"column:processed;default:false"`
	OccurredAt   time.Time     `json:"occurred_at" gorm:"column:occurred_at"`
	CreatedAt    time.Time     `json:"created_at" gorm:"column:created_at"`
}

func (FileEvent) TableName() string {
	return "file_events"
}
