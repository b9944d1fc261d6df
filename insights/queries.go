package insights

import (
	"fmt"

	"github.com/code-cortex/codemirror/models"
)

// Patterns returns the user's deduplicated patterns, most recurrent first.
func (a *Aggregator) Patterns(userID string) ([]models.Pattern, error) {
	var patterns []models.Pattern
	if err := a.db.Where("user_id = ?", userID).
		Order("occurrence_count DESC, last_seen DESC").
		Find(&patterns).Error; err != nil {
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}
	return patterns, nil
}

// InsightsForJob returns the insights generated from one job.
func (a *Aggregator) InsightsForJob(jobID string) ([]models.Insight, error) {
	var insights []models.Insight
	if err := a.db.Where("source_job_id = ?", jobID).
		Order("created_at").Find(&insights).Error; err != nil {
		return nil, fmt.Errorf("failed to list insights for %s: %w", jobID, err)
	}
	return insights, nil
}
