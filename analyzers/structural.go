package analyzers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/code-cortex/codemirror/models"
)

// combyMatch is one JSON line of the structural search tool's output.
type combyMatch struct {
	URI     string `json:"uri"`
	Matches []struct {
		Range struct {
			Start struct {
				Line int `json:"line"`
			} `json:"start"`
		} `json:"range"`
		Matched string `json:"matched"`
	} `json:"matches"`
}

// antiPatternKeys marks pattern keys that count against maintainability.
var antiPatternKeys = map[string]bool{
	"nested-callback":  true,
	"empty-catch":      true,
	"magic-number":     true,
	"long-parameter":   true,
	"deep-nesting":     true,
	"duplicated-block": true,
}

// StructuralAnalyzer turns structural search output into matches, refactor
// opportunities and the consistency/maintainability scores.
type StructuralAnalyzer struct{}

// Analyze parses one tool execution into a StructuralSearchResult.
func (a *StructuralAnalyzer) Analyze(jobID, repoRef string, execution *models.ToolExecution) (*models.StructuralSearchResult, error) {
	if !execution.OK() {
		return nil, fmt.Errorf("structural tool execution %s: %s", execution.Status, execution.Stderr)
	}

	matches, err := parseMatches(execution.Stdout)
	if err != nil {
		return nil, err
	}

	result := &models.StructuralSearchResult{
		JobID:     jobID,
		RepoRef:   repoRef,
		Matches:   matches,
		CreatedAt: time.Now(),
	}

	// Consistency weighs violations (high=3, medium=2, low=1); 20 points of
	// weight zeroes the score.
	var violationWeight float64
	for _, m := range matches {
		if !antiPatternKeys[m.PatternKey] {
			continue
		}
		switch {
		case m.Confidence >= 0.8:
			violationWeight += 3
		case m.Confidence >= 0.5:
			violationWeight += 2
		default:
			violationWeight += 1
		}
	}
	result.ConsistencyScore = models.ClampScore(100 * (1 - violationWeight/20))

	// Maintainability starts at 80, minus 2 per anti-pattern match, minus 3
	// per high-effort opportunity, plus 1 per good pattern.
	opportunities := deriveOpportunities(matches)
	maintainability := 80.0
	for _, m := range matches {
		if antiPatternKeys[m.PatternKey] {
			maintainability -= 2
		} else {
			maintainability += 1
		}
	}
	for _, op := range opportunities {
		if op.Effort == models.EffortHigh {
			maintainability -= 3
		}
	}
	result.MaintainabilityScore = models.ClampScore(maintainability)
	result.Opportunities = opportunities

	if len(matches) > 0 {
		unique := lo.UniqBy(matches, func(m models.PatternMatch) string { return m.PatternKey })
		result.DiversityScore = models.ClampScore(100 * float64(len(unique)) / float64(len(matches)))
	}

	return result, nil
}

func parseMatches(stdout string) ([]models.PatternMatch, error) {
	var matches []models.PatternMatch
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry combyMatch
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("failed to parse structural tool output line: %w", err)
		}
		for _, m := range entry.Matches {
			matches = append(matches, models.PatternMatch{
				File:       entry.URI,
				Line:       m.Range.Start.Line,
				Matched:    m.Matched,
				PatternKey: classifyMatch(m.Matched),
				Language:   languageOf(entry.URI),
				Confidence: confidenceOf(m.Matched),
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan structural tool output: %w", err)
	}
	return matches, nil
}

// deriveOpportunities groups anti-pattern matches per file into refactor
// suggestions. Effort and risk stay at the level the grouping implies and
// are never advanced automatically.
func deriveOpportunities(matches []models.PatternMatch) []models.RefactorOpportunity {
	perFile := map[string]int{}
	for _, m := range matches {
		if antiPatternKeys[m.PatternKey] {
			perFile[m.File]++
		}
	}

	var opportunities []models.RefactorOpportunity
	for file, count := range perFile {
		effort := models.EffortLow
		risk := models.EffortLow
		switch {
		case count >= 10:
			effort, risk = models.EffortHigh, models.EffortMedium
		case count >= 4:
			effort, risk = models.EffortMedium, models.EffortLow
		}
		opportunities = append(opportunities, models.RefactorOpportunity{
			File:        file,
			Description: fmt.Sprintf("%d recurring anti-pattern matches", count),
			Effort:      effort,
			Risk:        risk,
		})
	}
	return opportunities
}

func classifyMatch(matched string) string {
	lower := strings.ToLower(matched)
	switch {
	case strings.Contains(lower, "catch") && strings.Contains(lower, "{}"):
		return "empty-catch"
	case strings.Count(lower, "function") > 1 || strings.Count(lower, "=>") > 1:
		return "nested-callback"
	case strings.Count(matched, ",") >= 5:
		return "long-parameter"
	case strings.Count(matched, "{") >= 4:
		return "deep-nesting"
	default:
		return "generic"
	}
}

func confidenceOf(matched string) float64 {
	// Longer matches carry more signal; a one-token match is mostly noise.
	confidence := float64(len(matched)) / 200
	return models.ClampConfidence(0.3 + confidence)
}

func languageOf(path string) string {
	switch filepath.Ext(path) {
	case ".go":
		return "go"
	case ".py":
		return "python"
	case ".js", ".jsx":
		return "javascript"
	case ".ts", ".tsx":
		return "typescript"
	case ".java":
		return "java"
	case ".rb":
		return "ruby"
	case ".rs":
		return "rust"
	default:
		return strings.TrimPrefix(filepath.Ext(path), ".")
	}
}
