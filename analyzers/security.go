package analyzers

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/code-cortex/codemirror/models"
)

// semgrepOutput is the subset of the scanner's JSON report the analyzer
// consumes.
type semgrepOutput struct {
	Results []struct {
		CheckID string `json:"check_id"`
		Path    string `json:"path"`
		Start   struct {
			Line int `json:"line"`
		} `json:"start"`
		Extra struct {
			Severity string `json:"severity"`
			Message  string `json:"message"`
			Lines    string `json:"lines"`
			Fix      string `json:"fix"`
		} `json:"extra"`
	} `json:"results"`
}

// SecurityAnalyzer turns the scanner's report into findings and an inverse
// weighted score.
type SecurityAnalyzer struct {
	// MaxHighRiskFiles bounds the high-risk file ranking length.
	MaxHighRiskFiles int
}

// Analyze parses one tool execution into a scan result plus its findings.
func (a *SecurityAnalyzer) Analyze(jobID, repoRef string, execution *models.ToolExecution) (*models.SecurityScanResult, []models.SecurityFinding, error) {
	if !execution.OK() {
		return nil, nil, fmt.Errorf("security tool execution %s: %s", execution.Status, execution.Stderr)
	}

	var output semgrepOutput
	if err := json.Unmarshal([]byte(execution.Stdout), &output); err != nil {
		return nil, nil, fmt.Errorf("failed to parse security tool output: %w", err)
	}

	now := time.Now()
	findings := make([]models.SecurityFinding, 0, len(output.Results))
	severityCount := map[string]int{}
	fileRisk := map[string]float64{}
	var penalty float64

	for _, r := range output.Results {
		severity := normalizeSeverity(r.Extra.Severity)
		findings = append(findings, models.SecurityFinding{
			JobID:     jobID,
			RuleID:    r.CheckID,
			Severity:  severity,
			File:      r.Path,
			Line:      r.Start.Line,
			Message:   r.Extra.Message,
			Snippet:   r.Extra.Lines,
			Fix:       r.Extra.Fix,
			Status:    models.FindingOpen,
			CreatedAt: now,
		})
		severityCount[string(severity)]++
		fileRisk[r.Path] += severity.Weight()
		penalty += severity.Weight()
	}

	type rankedFile struct {
		path string
		risk float64
	}
	ranked := make([]rankedFile, 0, len(fileRisk))
	for path, risk := range fileRisk {
		ranked = append(ranked, rankedFile{path, risk})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].risk > ranked[j].risk })
	max := a.MaxHighRiskFiles
	if max <= 0 {
		max = 10
	}
	if len(ranked) > max {
		ranked = ranked[:max]
	}
	highRisk := make(models.StringArray, len(ranked))
	for i, f := range ranked {
		highRisk[i] = f.path
	}

	result := &models.SecurityScanResult{
		JobID:         jobID,
		RepoRef:       repoRef,
		FindingCount:  len(findings),
		SeverityCount: severityCount,
		HighRiskFiles: highRisk,
		OverallScore:  models.ClampScore(100 - penalty),
		CreatedAt:     now,
	}
	return result, findings, nil
}

// normalizeSeverity maps scanner vocabulary onto the fixed ladder. Semgrep
// reports ERROR/WARNING/INFO alongside explicit severities.
func normalizeSeverity(raw string) models.Severity {
	switch raw {
	case "CRITICAL", "critical":
		return models.SeverityCritical
	case "ERROR", "HIGH", "high":
		return models.SeverityHigh
	case "WARNING", "MEDIUM", "medium":
		return models.SeverityMedium
	case "LOW", "low":
		return models.SeverityLow
	default:
		return models.SeverityInfo
	}
}
