package models

import (
	"time"
)

// AnalysisDepth bounds how much history an analysis run walks.
type AnalysisDepth string

const (
	DepthQuick    AnalysisDepth = "quick"
	DepthStandard AnalysisDepth = "standard"
	DepthDeep     AnalysisDepth = "deep"
)

// CommitLimit returns the maximum number of commits mined at this depth.
// Zero means unlimited.
func (d AnalysisDepth) CommitLimit() int {
	switch d {
	case DepthQuick:
		return 100
	case DepthDeep:
		return 0
	default:
		return 1000
	}
}

// AuthorStat summarizes one author's contribution footprint.
type AuthorStat struct {
	Name         string `json:"name"`
	Email        string `json:"email,omitempty"`
	CommitCount  int    `json:"commit_count"`
	LinesAdded   int    `json:"lines_added"`
	LinesRemoved int    `json:"lines_removed"`
}

// Hotspot is a file ranked by churn. Score is change frequency multiplied
// by the average change size.
type Hotspot struct {
	Path          string  `json:"path"`
	ChangeCount   int     `json:"change_count"`
	AvgChangeSize float64 `json:"avg_change_size"`
	Score         float64 `json:"score"`
}

// MessageQuality holds commit-message heuristics as percentages of the
// commits examined.
type MessageQuality struct {
	ConventionalPct float64 `json:"conventional_pct"`
	ShortPct        float64 `json:"short_pct"`
	LongPct         float64 `json:"long_pct"`
}

// GitAnalysisResult is the typed output of the version-control history
// miner for one job.
type GitAnalysisResult struct {
	ID      uint   `json:"-" gorm:"primaryKey;autoIncrement"`
	JobID   string `json:"job_id" gorm:"column:job_id;uniqueIndex;not null"`
	RepoRef string `json:"repo_ref" gorm:"column:repo_ref;not null;index"`

	Depth        AnalysisDepth `json:"depth" gorm:"column:depth"`
	CommitCount  int           `json:"commit_count" gorm:"column:commit_count"`
	AuthorCount  int           `json:"author_count" gorm:"column:author_count"`
	FileCount    int           `json:"file_count" gorm:"column:file_count"`
	FirstCommit  *time.Time    `json:"first_commit,omitempty" gorm:"column:first_commit"`
	LatestCommit *time.Time    `json:"latest_commit,omitempty" gorm:"column:latest_commit"`

	Authors        []AuthorStat    `json:"authors,omitempty" gorm:"column:authors;serializer:json"`
	Hotspots       []Hotspot       `json:"hotspots,omitempty" gorm:"column:hotspots;serializer:json"`
	DebtIndicators StringArray     `json:"debt_indicators,omitempty" gorm:"column:debt_indicators;type:text"`
	MessageQuality *MessageQuality `json:"message_quality,omitempty" gorm:"column:message_quality;serializer:json"`

	ActivityScore float64   `json:"activity_score" gorm:"column:activity_score"`
	CreatedAt     time.Time `json:"created_at" gorm:"column:created_at"`
}

func (GitAnalysisResult) TableName() string {
	return "git_analysis_results"
}
