package insights

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flanksource/commons/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/code-cortex/codemirror/models"
)

// ErrInvalidStatusChange rejects an insight status regression.
var ErrInvalidStatusChange = errors.New("invalid insight status change")

// Score thresholds below which insights are generated.
const (
	securityCriticalBelow = 60
	securityHighBelow     = 80
	consistencyBelow      = 50
	maintainabilityBelow  = 60
	debtIndicatorsAtLeast = 5
)

// Aggregator mines completed-job results for recurring patterns and emits
// threshold-based insights.
type Aggregator struct {
	db *gorm.DB
}

// New creates an aggregator over the given database.
func New(db *gorm.DB) *Aggregator {
	return &Aggregator{db: db}
}

// Signature hashes a finding into its deduplication key: normalized
// snippet content plus language plus framework context.
func Signature(snippet, language, framework string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(snippet)), " ")
	sum := sha256.Sum256([]byte(normalized + "\x00" + language + "\x00" + framework))
	return hex.EncodeToString(sum[:])
}

// ProcessJob scans the job's persisted results, upserts patterns and
// generates insights. Safe to call once per completed job.
func (a *Aggregator) ProcessJob(userID string, job *models.Job, reports []models.AnalyzerReport) error {
	now := time.Now()
	for _, report := range reports {
		if report.Degraded() {
			continue
		}
		switch report.Kind {
		case models.AnalysisKindSecurity:
			if err := a.processSecurity(userID, job, report, now); err != nil {
				return err
			}
		case models.AnalysisKindStructural:
			if err := a.processStructural(userID, job, report, now); err != nil {
				return err
			}
		case models.AnalysisKindGit:
			if err := a.processGit(userID, job, report, now); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *Aggregator) processSecurity(userID string, job *models.Job, report models.AnalyzerReport, now time.Time) error {
	for _, finding := range report.Findings {
		sig := Signature(finding.Snippet, languageFromPath(finding.File), finding.RuleID)
		if err := a.upsertPattern(userID, sig, models.PatternTypeSecurity, finding.Message, languageFromPath(finding.File), now); err != nil {
			return err
		}
	}

	score := report.Security.OverallScore
	switch {
	case score < securityCriticalBelow:
		return a.createInsight(userID, job, models.InsightSecurity, models.SeverityCritical,
			fmt.Sprintf("Security score %.0f for %s", score, job.RepoRef),
			"Review and fix the critical and high severity findings before the next release.")
	case score < securityHighBelow:
		return a.createInsight(userID, job, models.InsightSecurity, models.SeverityHigh,
			fmt.Sprintf("Security score %.0f for %s", score, job.RepoRef),
			"Schedule remediation of the open security findings.")
	}
	return nil
}

func (a *Aggregator) processStructural(userID string, job *models.Job, report models.AnalyzerReport, now time.Time) error {
	for _, match := range report.Structural.Matches {
		sig := Signature(match.Matched, match.Language, match.PatternKey)
		if err := a.upsertPattern(userID, sig, models.PatternTypeStructural, match.PatternKey, match.Language, now); err != nil {
			return err
		}
	}

	if report.Structural.ConsistencyScore < consistencyBelow {
		if err := a.createInsight(userID, job, models.InsightPatternQuality, models.SeverityMedium,
			fmt.Sprintf("Inconsistent patterns in %s", job.RepoRef),
			"Align recurring code patterns on a single idiom to reduce divergence."); err != nil {
			return err
		}
	}
	if report.Structural.MaintainabilityScore < maintainabilityBelow {
		if err := a.createInsight(userID, job, models.InsightRefactor, models.SeverityMedium,
			fmt.Sprintf("Low maintainability in %s", job.RepoRef),
			"Work through the highest-effort refactor opportunities first."); err != nil {
			return err
		}
	}
	return nil
}

func (a *Aggregator) processGit(userID string, job *models.Job, report models.AnalyzerReport, now time.Time) error {
	if len(report.Git.DebtIndicators) >= debtIndicatorsAtLeast {
		return a.createInsight(userID, job, models.InsightTechDebt, models.SeverityLow,
			fmt.Sprintf("%d technical debt markers in %s history", len(report.Git.DebtIndicators), job.RepoRef),
			"Recent commit messages flag accumulating workarounds; plan a cleanup pass.")
	}
	return nil
}

// upsertPattern keeps at most one row per (user, signature), incrementing
// occurrence_count on repeats.
func (a *Aggregator) upsertPattern(userID, signature string, ptype models.PatternType, description, language string, now time.Time) error {
	return a.db.Transaction(func(tx *gorm.DB) error {
		var pattern models.Pattern
		err := tx.Where("user_id = ? AND signature = ?", userID, signature).First(&pattern).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			pattern = models.Pattern{
				UserID:          userID,
				Signature:       signature,
				Type:            ptype,
				Description:     description,
				Language:        language,
				OccurrenceCount: 1,
				Confidence:      0.5,
				FirstSeen:       now,
				LastSeen:        now,
			}
			if err := tx.Create(&pattern).Error; err != nil {
				return fmt.Errorf("failed to create pattern: %w", err)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load pattern: %w", err)
		}

		// Confidence grows with repetition, capped at 1.
		confidence := models.ClampConfidence(pattern.Confidence + 0.05)
		if err := tx.Model(&pattern).Updates(map[string]any{
			"occurrence_count": pattern.OccurrenceCount + 1,
			"confidence":       confidence,
			"last_seen":        now,
		}).Error; err != nil {
			return fmt.Errorf("failed to update pattern: %w", err)
		}
		return nil
	})
}

func (a *Aggregator) createInsight(userID string, job *models.Job, itype models.InsightType, severity models.Severity, title, recommendation string) error {
	insight := &models.Insight{
		InsightID:      uuid.NewString(),
		UserID:         userID,
		Type:           itype,
		Severity:       severity,
		Title:          title,
		Recommendation: recommendation,
		Status:         models.InsightOpen,
		SourceJobID:    job.JobID,
	}
	if err := a.db.Create(insight).Error; err != nil {
		return fmt.Errorf("failed to create insight: %w", err)
	}
	logger.Debugf("insight %s (%s/%s) for job %s", insight.InsightID, itype, severity, job.JobID)
	return nil
}

// UpdateInsightStatus applies a monotonic status change. Nothing returns
// to open; acknowledged and dismissed may swap while revisiting, applied
// is final.
func (a *Aggregator) UpdateInsightStatus(insightID string, status models.InsightStatus) (*models.Insight, error) {
	var insight models.Insight
	err := a.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("insight_id = ?", insightID).First(&insight).Error; err != nil {
			return fmt.Errorf("failed to load insight %s: %w", insightID, err)
		}
		if !insightChangeAllowed(insight.Status, status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusChange, insight.Status, status)
		}
		if err := tx.Model(&insight).Updates(map[string]any{
			"status":     status,
			"updated_at": time.Now(),
		}).Error; err != nil {
			return fmt.Errorf("failed to update insight %s: %w", insightID, err)
		}
		insight.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &insight, nil
}

func insightChangeAllowed(from, to models.InsightStatus) bool {
	if to == models.InsightOpen || from == models.InsightApplied {
		return false
	}
	switch from {
	case models.InsightOpen:
		return true
	case models.InsightAcknowledged, models.InsightDismissed:
		// Revisiting between acknowledged and dismissed is allowed, as is
		// finishing with applied.
		return true
	}
	return false
}

func languageFromPath(path string) string {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		return ""
	}
	return path[idx+1:]
}
