package insights

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/code-cortex/codemirror/internal/db"
	"github.com/code-cortex/codemirror/models"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, err := gdb.DB()
		require.NoError(t, err)
		_ = sqlDB.Close()
	})
	return gdb
}

func testJob() *models.Job {
	return &models.Job{
		JobID:   uuid.NewString(),
		JobType: models.JobTypeFullAnalysis,
		Status:  models.JobStatusProcessing,
		RepoRef: "github.com/acme/repo",
	}
}

func TestSignatureNormalizesWhitespace(t *testing.T) {
	a := Signature("if  err != nil {\n\treturn err\n}", "go", "stdlib")
	b := Signature("if err != nil { return err }", "go", "stdlib")
	c := Signature("if err != nil { return err }", "go", "gin")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestPatternUpsertKeepsOneRowPerSignature(t *testing.T) {
	gdb := testDB(t)
	agg := New(gdb)
	now := time.Now()
	sig := Signature("eval(input)", "python", "r.eval")

	require.NoError(t, agg.upsertPattern("user-1", sig, models.PatternTypeSecurity, "eval", "python", now))
	require.NoError(t, agg.upsertPattern("user-1", sig, models.PatternTypeSecurity, "eval", "python", now.Add(time.Hour)))
	require.NoError(t, agg.upsertPattern("user-1", sig, models.PatternTypeSecurity, "eval", "python", now.Add(2*time.Hour)))

	var patterns []models.Pattern
	require.NoError(t, gdb.Where("user_id = ?", "user-1").Find(&patterns).Error)
	require.Len(t, patterns, 1)
	assert.Equal(t, 3, patterns[0].OccurrenceCount)
	assert.True(t, patterns[0].LastSeen.After(patterns[0].FirstSeen))
}

func TestPatternRowsArePerUser(t *testing.T) {
	gdb := testDB(t)
	agg := New(gdb)
	now := time.Now()
	sig := Signature("snippet", "go", "ctx")

	require.NoError(t, agg.upsertPattern("user-1", sig, models.PatternTypeStructural, "s", "go", now))
	require.NoError(t, agg.upsertPattern("user-2", sig, models.PatternTypeStructural, "s", "go", now))

	var count int64
	require.NoError(t, gdb.Model(&models.Pattern{}).Where("signature = ?", sig).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestProcessJobSecurityThresholds(t *testing.T) {
	gdb := testDB(t)
	agg := New(gdb)
	job := testJob()

	reports := []models.AnalyzerReport{{
		Kind:     models.AnalysisKindSecurity,
		Security: &models.SecurityScanResult{JobID: job.JobID, OverallScore: 45},
	}}
	require.NoError(t, agg.ProcessJob("user-1", job, reports))

	insights, err := agg.InsightsForJob(job.JobID)
	require.NoError(t, err)
	require.Len(t, insights, 1)
	assert.Equal(t, models.InsightSecurity, insights[0].Type)
	assert.Equal(t, models.SeverityCritical, insights[0].Severity)
	assert.Equal(t, models.InsightOpen, insights[0].Status)
}

func TestProcessJobStructuralThresholds(t *testing.T) {
	gdb := testDB(t)
	agg := New(gdb)
	job := testJob()

	reports := []models.AnalyzerReport{{
		Kind: models.AnalysisKindStructural,
		Structural: &models.StructuralSearchResult{
			JobID:                job.JobID,
			ConsistencyScore:     40,
			MaintainabilityScore: 55,
		},
	}}
	require.NoError(t, agg.ProcessJob("user-1", job, reports))

	insights, err := agg.InsightsForJob(job.JobID)
	require.NoError(t, err)
	require.Len(t, insights, 2)
}

func TestProcessJobSkipsDegradedReports(t *testing.T) {
	gdb := testDB(t)
	agg := New(gdb)
	job := testJob()

	reports := []models.AnalyzerReport{{
		Kind: models.AnalysisKindSecurity,
		Err:  "tool timed out",
	}}
	require.NoError(t, agg.ProcessJob("user-1", job, reports))

	insights, err := agg.InsightsForJob(job.JobID)
	require.NoError(t, err)
	assert.Empty(t, insights)
}

func TestProcessJobHealthyScoresNoInsights(t *testing.T) {
	gdb := testDB(t)
	agg := New(gdb)
	job := testJob()

	reports := []models.AnalyzerReport{
		{Kind: models.AnalysisKindSecurity, Security: &models.SecurityScanResult{JobID: job.JobID, OverallScore: 95}},
		{Kind: models.AnalysisKindStructural, Structural: &models.StructuralSearchResult{
			JobID: job.JobID, ConsistencyScore: 90, MaintainabilityScore: 85,
		}},
		{Kind: models.AnalysisKindGit, Git: &models.GitAnalysisResult{JobID: job.JobID}},
	}
	require.NoError(t, agg.ProcessJob("user-1", job, reports))

	insights, err := agg.InsightsForJob(job.JobID)
	require.NoError(t, err)
	assert.Empty(t, insights)
}

func TestInsightStatusMonotonic(t *testing.T) {
	gdb := testDB(t)
	agg := New(gdb)
	job := testJob()

	require.NoError(t, agg.createInsight("user-1", job, models.InsightSecurity, models.SeverityHigh, "t", "r"))
	insights, err := agg.InsightsForJob(job.JobID)
	require.NoError(t, err)
	insight := insights[0]

	updated, err := agg.UpdateInsightStatus(insight.InsightID, models.InsightAcknowledged)
	require.NoError(t, err)
	assert.Equal(t, models.InsightAcknowledged, updated.Status)

	// Revisit between acknowledged and dismissed is allowed.
	_, err = agg.UpdateInsightStatus(insight.InsightID, models.InsightDismissed)
	require.NoError(t, err)
	_, err = agg.UpdateInsightStatus(insight.InsightID, models.InsightAcknowledged)
	require.NoError(t, err)

	// Nothing goes back to open.
	_, err = agg.UpdateInsightStatus(insight.InsightID, models.InsightOpen)
	assert.ErrorIs(t, err, ErrInvalidStatusChange)

	// Applied is final.
	_, err = agg.UpdateInsightStatus(insight.InsightID, models.InsightApplied)
	require.NoError(t, err)
	_, err = agg.UpdateInsightStatus(insight.InsightID, models.InsightDismissed)
	assert.ErrorIs(t, err, ErrInvalidStatusChange)
}
