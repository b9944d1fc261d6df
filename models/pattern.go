package models

import (
	"time"
)

// PatternType classifies a deduplicated recurring finding.
type PatternType string

const (
	PatternTypeStructural  PatternType = "structural"
	PatternTypeSecurity    PatternType = "security"
	PatternTypeAntiPattern PatternType = "anti_pattern"
)

// Pattern is a recurring finding tracked across jobs and repositories for
// one user. There is at most one row per (user, signature); repeats
// increment OccurrenceCount instead of inserting.
type Pattern struct {
	ID          uint        `json:"-" gorm:"primaryKey;autoIncrement"`
	UserID      string      `json:"user_id" gorm:"column:user_id;not null;uniqueIndex:idx_patterns_user_sig"`
	Signature   string      `json:"signature" gorm:"column:signature;not null;uniqueIndex:idx_patterns_user_sig"`
	Type        PatternType `json:"type" gorm:"column:pattern_type;not null"`
	Description string      `json:"description" gorm:"column:description"`
	Language    string      `json:"language,omitempty" gorm:"column:language"`

	OccurrenceCount int       `json:"occurrence_count" gorm:"column:occurrence_count;default:1"`
	Confidence      float64   `json:"confidence" gorm:"column:confidence"`
	FirstSeen       time.Time `json:"first_seen" gorm:"column:first_seen"`
	LastSeen        time.Time `json:"last_seen" gorm:"column:last_seen"`
}

func (Pattern) TableName() string {
	return "codemirror_patterns"
}

// InsightStatus is the one-directional lifecycle of an insight. Nothing
// ever moves back to open; acknowledged and dismissed may swap.
type InsightStatus string

const (
	InsightOpen         InsightStatus = "open"
	InsightAcknowledged InsightStatus = "acknowledged"
	InsightApplied      InsightStatus = "applied"
	InsightDismissed    InsightStatus = "dismissed"
)

// InsightType names the rule family that generated the insight.
type InsightType string

const (
	InsightSecurity       InsightType = "security"
	InsightPatternQuality InsightType = "pattern_improvement"
	InsightRefactor       InsightType = "refactor"
	InsightTechDebt       InsightType = "tech_debt"
)

// Insight is a generated recommendation derived from analyzer results.
// Rows are machine-authored only.
type Insight struct {
	ID             uint          `json:"-" gorm:"primaryKey;autoIncrement"`
	InsightID      string        `json:"insight_id" gorm:"column:insight_id;uniqueIndex;not null"`
	UserID         string        `json:"user_id" gorm:"column:user_id;not null;index"`
	Type           InsightType   `json:"type" gorm:"column:insight_type;not null"`
	Severity       Severity      `json:"severity" gorm:"column:severity;not null"`
	Title          string        `json:"title" gorm:"column:title;not null"`
	Recommendation string        `json:"recommendation" gorm:"column:recommendation"`
	Status         InsightStatus `json:"status" gorm:"column:status;default:open;index"`
	SourceJobID    string        `json:"source_job" gorm:"column:source_job_id;not null;index"`
	SourcePattern  string        `json:"source_pattern,omitempty" gorm:"column:source_pattern"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at"`
}

func (Insight) TableName() string {
	return "codemirror_insights"
}
