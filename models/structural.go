package models

import (
	"time"
)

// PatternMatch is one hit reported by the structural search tool.
type PatternMatch struct {
	File       string  `json:"file"`
	Line       int     `json:"line"`
	Matched    string  `json:"matched"`
	Context    string  `json:"context,omitempty"`
	PatternKey string  `json:"pattern_key"`
	Language   string  `json:"language,omitempty"`
	Confidence float64 `json:"confidence"`
}

// EffortLevel is the estimate attached to a refactor opportunity. There is
// no automatic transition between levels.
type EffortLevel string

const (
	EffortLow    EffortLevel = "low"
	EffortMedium EffortLevel = "medium"
	EffortHigh   EffortLevel = "high"
)

// RefactorOpportunity is a human-reviewed suggestion derived from
// anti-pattern matches.
type RefactorOpportunity struct {
	File        string      `json:"file"`
	Description string      `json:"description"`
	Effort      EffortLevel `json:"effort_estimate"`
	Risk        EffortLevel `json:"risk_level"`
}

// StructuralSearchResult is the typed output of the structural pattern
// matcher for one job.
type StructuralSearchResult struct {
	ID      uint   `json:"-" gorm:"primaryKey;autoIncrement"`
	JobID   string `json:"job_id" gorm:"column:job_id;uniqueIndex;not null"`
	RepoRef string `json:"repo_ref" gorm:"column:repo_ref;not null;index"`

	Matches       []PatternMatch        `json:"matches,omitempty" gorm:"column:matches;serializer:json"`
	Opportunities []RefactorOpportunity `json:"refactor_opportunities,omitempty" gorm:"column:opportunities;serializer:json"`

	ConsistencyScore     float64 `json:"consistency_score" gorm:"column:consistency_score"`
	MaintainabilityScore float64 `json:"maintainability_score" gorm:"column:maintainability_score"`
	// DiversityScore is unique pattern keys over total matches, on a 100 scale.
	DiversityScore float64 `json:"pattern_diversity" gorm:"column:diversity_score"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
}

func (StructuralSearchResult) TableName() string {
	return "structural_search_results"
}
