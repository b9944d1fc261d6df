package analyzers

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/code-cortex/codemirror/models"
)

// debtVocabulary is the fixed set of commit-message markers counted as
// technical-debt indicators.
var debtVocabulary = []string{"hack", "todo", "fixme", "temporary", "workaround", "quick fix"}

// conventionalPrefixes match the conventional-commit style subject lines.
var conventionalPrefixes = []string{
	"feat", "fix", "docs", "style", "refactor", "perf", "test", "build", "ci", "chore", "revert",
}

// gitToolOutput is the wire schema emitted by the history miner.
type gitToolOutput struct {
	Commits []struct {
		Hash      string    `json:"hash"`
		Author    string    `json:"author"`
		Email     string    `json:"email"`
		Message   string    `json:"message"`
		Timestamp time.Time `json:"timestamp"`
		Additions int       `json:"additions"`
		Deletions int       `json:"deletions"`
		Files     []string  `json:"files"`
	} `json:"commits"`
}

// GitAnalyzer turns the history miner's output into a typed result.
type GitAnalyzer struct {
	Depth models.AnalysisDepth
	// MaxHotspots bounds the hotspot ranking length.
	MaxHotspots int
}

// Analyze parses one tool execution into a GitAnalysisResult. A failed or
// unparsable execution yields an error; the caller records the sub-result
// as degraded.
func (a *GitAnalyzer) Analyze(jobID, repoRef string, execution *models.ToolExecution) (*models.GitAnalysisResult, error) {
	if !execution.OK() {
		return nil, fmt.Errorf("git tool execution %s: %s", execution.Status, execution.Stderr)
	}

	var output gitToolOutput
	if err := json.Unmarshal([]byte(execution.Stdout), &output); err != nil {
		return nil, fmt.Errorf("failed to parse git tool output: %w", err)
	}

	result := &models.GitAnalysisResult{
		JobID:       jobID,
		RepoRef:     repoRef,
		Depth:       a.Depth,
		CommitCount: len(output.Commits),
		CreatedAt:   time.Now(),
	}
	if len(output.Commits) == 0 {
		return result, nil
	}

	authors := map[string]*models.AuthorStat{}
	type fileStat struct {
		changes   int
		totalSize int
	}
	files := map[string]*fileStat{}
	var first, latest time.Time
	var conventional, short, long int
	var debt []string

	for _, commit := range output.Commits {
		if first.IsZero() || commit.Timestamp.Before(first) {
			first = commit.Timestamp
		}
		if commit.Timestamp.After(latest) {
			latest = commit.Timestamp
		}

		stat, ok := authors[commit.Email]
		if !ok {
			stat = &models.AuthorStat{Name: commit.Author, Email: commit.Email}
			authors[commit.Email] = stat
		}
		stat.CommitCount++
		stat.LinesAdded += commit.Additions
		stat.LinesRemoved += commit.Deletions

		changeSize := commit.Additions + commit.Deletions
		for _, path := range commit.Files {
			fs, ok := files[path]
			if !ok {
				fs = &fileStat{}
				files[path] = fs
			}
			fs.changes++
			if len(commit.Files) > 0 {
				fs.totalSize += changeSize / len(commit.Files)
			}
		}

		subject := strings.ToLower(strings.SplitN(commit.Message, "\n", 2)[0])
		if isConventional(subject) {
			conventional++
		}
		if len(subject) < 10 {
			short++
		} else if len(subject) > 72 {
			long++
		}
		for _, marker := range debtVocabulary {
			if strings.Contains(strings.ToLower(commit.Message), marker) {
				debt = append(debt, fmt.Sprintf("%s: %s", marker, strings.SplitN(commit.Message, "\n", 2)[0]))
				break
			}
		}
	}

	result.AuthorCount = len(authors)
	result.FileCount = len(files)
	result.FirstCommit = &first
	result.LatestCommit = &latest
	result.DebtIndicators = debt

	result.Authors = lo.Map(lo.Values(authors), func(s *models.AuthorStat, _ int) models.AuthorStat { return *s })
	sort.Slice(result.Authors, func(i, j int) bool {
		return result.Authors[i].CommitCount > result.Authors[j].CommitCount
	})

	// Hotspot score is change frequency times average change size.
	hotspots := make([]models.Hotspot, 0, len(files))
	for path, fs := range files {
		avg := float64(fs.totalSize) / float64(fs.changes)
		hotspots = append(hotspots, models.Hotspot{
			Path:          path,
			ChangeCount:   fs.changes,
			AvgChangeSize: avg,
			Score:         float64(fs.changes) * avg,
		})
	}
	sort.Slice(hotspots, func(i, j int) bool { return hotspots[i].Score > hotspots[j].Score })
	max := a.MaxHotspots
	if max <= 0 {
		max = 10
	}
	if len(hotspots) > max {
		hotspots = hotspots[:max]
	}
	result.Hotspots = hotspots

	total := float64(len(output.Commits))
	result.MessageQuality = &models.MessageQuality{
		ConventionalPct: 100 * float64(conventional) / total,
		ShortPct:        100 * float64(short) / total,
		LongPct:         100 * float64(long) / total,
	}

	// Activity score rewards recent history, on the usual 100 scale.
	daysSince := time.Since(latest).Hours() / 24
	result.ActivityScore = models.ClampScore(100 - daysSince)

	return result, nil
}

func isConventional(subject string) bool {
	for _, prefix := range conventionalPrefixes {
		if strings.HasPrefix(subject, prefix+":") || strings.HasPrefix(subject, prefix+"(") {
			return true
		}
	}
	return false
}
