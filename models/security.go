package models

import (
	"time"
)

// Severity is the fixed ladder used by the security analyzer,
// critical > high > medium > low > info.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Weight returns the penalty the severity contributes to the inverse
// security score.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityCritical:
		return 20
	case SeverityHigh:
		return 10
	case SeverityMedium:
		return 5
	case SeverityLow:
		return 2
	default:
		return 1
	}
}

// FindingStatus is the lifecycle of a single security finding,
// open -> acknowledged -> fixed | false_positive.
type FindingStatus string

const (
	FindingOpen          FindingStatus = "open"
	FindingAcknowledged  FindingStatus = "acknowledged"
	FindingFixed         FindingStatus = "fixed"
	FindingFalsePositive FindingStatus = "false_positive"
)

// SecurityFinding is one rule hit reported by the security scanner.
type SecurityFinding struct {
	ID       uint          `json:"-" gorm:"primaryKey;autoIncrement"`
	JobID    string        `json:"job_id" gorm:"column:job_id;not null;index"`
	RuleID   string        `json:"rule_id" gorm:"column:rule_id;not null"`
	Severity Severity      `json:"severity" gorm:"column:severity;not null;index"`
	File     string        `json:"file" gorm:"column:file_path;not null"`
	Line     int           `json:"line" gorm:"column:line"`
	Message  string        `json:"message" gorm:"column:message"`
	Snippet  string        `json:"snippet,omitempty" gorm:"column:snippet"`
	Fix      string        `json:"fix,omitempty" gorm:"column:fix_suggestion"`
	Status   FindingStatus `json:"status" gorm:"column:status;default:open"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at"`
}

func (SecurityFinding) TableName() string {
	return "security_findings"
}

// SecurityScanResult is the per-job roll-up of security findings.
type SecurityScanResult struct {
	ID      uint   `json:"-" gorm:"primaryKey;autoIncrement"`
	JobID   string `json:"job_id" gorm:"column:job_id;uniqueIndex;not null"`
	RepoRef string `json:"repo_ref" gorm:"column:repo_ref;not null;index"`

	FindingCount  int            `json:"finding_count" gorm:"column:finding_count"`
	SeverityCount map[string]int `json:"severity_count,omitempty" gorm:"column:severity_count;serializer:json"`
	HighRiskFiles StringArray    `json:"high_risk_files,omitempty" gorm:"column:high_risk_files;type:text"`

	// OverallScore is 100 minus the summed severity weights, clamped to [0,100].
	OverallScore float64   `json:"overall_security_score" gorm:"column:overall_score"`
	CreatedAt    time.Time `json:"created_at" gorm:"column:created_at"`
}

func (SecurityScanResult) TableName() string {
	return "security_scan_results"
}
