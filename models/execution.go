package models

import (
	"time"
)

// ExecutionStatus classifies the outcome of a single tool invocation.
type ExecutionStatus string

const (
	ExecutionSuccess  ExecutionStatus = "success"
	ExecutionError    ExecutionStatus = "error"
	ExecutionTimeout  ExecutionStatus = "timeout"
	ExecutionNotFound ExecutionStatus = "not_found"
)

// ToolExecution records one subprocess invocation of an external analysis
// tool. Rows are immutable after creation.
type ToolExecution struct {
	ID        uint            `json:"-" gorm:"primaryKey;autoIncrement"`
	JobID     string          `json:"job_id" gorm:"column:job_id;not null;index"`
	ToolName  string          `json:"tool_name" gorm:"column:tool_name;not null"`
	Command   string          `json:"command" gorm:"column:command"`
	ExitCode  int             `json:"exit_code" gorm:"column:exit_code"`
	Duration  time.Duration   `json:"duration" gorm:"column:duration_ns"`
	Stdout    string          `json:"stdout,omitempty" gorm:"column:stdout"`
	Stderr    string          `json:"stderr,omitempty" gorm:"column:stderr"`
	Truncated bool            `json:"truncated,omitempty" gorm:"column:truncated"`
	Status    ExecutionStatus `json:"status" gorm:"column:status;not null"`
	CreatedAt time.Time       `json:"created_at" gorm:"column:created_at"`
}

func (ToolExecution) TableName() string {
	return "tool_executions"
}

// OK reports whether the invocation exited cleanly.
func (e *ToolExecution) OK() bool {
	return e.Status == ExecutionSuccess
}
