package executor

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/code-cortex/codemirror/models"
)

// GitInsightsTool invokes the version-control history miner. It emits
// commit/author/file statistics as JSON on stdout.
type GitInsightsTool struct {
	Depth models.AnalysisDepth
}

func (t *GitInsightsTool) Name() string { return "git-insights" }
func (t *GitInsightsTool) Kind() models.AnalysisKind { return models.AnalysisKindGit }
func (t *GitInsightsTool) Timeout() time.Duration { return 3 * time.Minute }

func (t *GitInsightsTool) Command(repoPath string) []string {
	args := []string{"--json", "--repo", repoPath}
	if limit := t.Depth.CommitLimit(); limit > 0 {
		args = append(args, "--max-commits", strconv.Itoa(limit))
	}
	return args
}

// Ruleset is the on-disk configuration listing which security rule packs
// the scanner loads and which structural match templates are searched for.
type Ruleset struct {
	Rules    []string          `yaml:"rules"`
	Patterns map[string]string `yaml:"patterns"`
}

// LoadRuleset reads a yaml ruleset file. An empty path yields the
// scanner's built-in "auto" config and the default pattern set.
func LoadRuleset(path string) (*Ruleset, error) {
	if path == "" {
		return &Ruleset{Rules: []string{"auto"}, Patterns: defaultPatterns}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ruleset %s: %w", path, err)
	}
	var rs Ruleset
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("failed to parse ruleset %s: %w", path, err)
	}
	if len(rs.Rules) == 0 {
		rs.Rules = []string{"auto"}
	}
	if len(rs.Patterns) == 0 {
		rs.Patterns = defaultPatterns
	}
	return &rs, nil
}

// SemgrepTool invokes the static security scanner with a ruleset and JSON
// output.
type SemgrepTool struct {
	Ruleset *Ruleset
}

func (t *SemgrepTool) Name() string { return "semgrep" }
func (t *SemgrepTool) Kind() models.AnalysisKind { return models.AnalysisKindSecurity }
func (t *SemgrepTool) Timeout() time.Duration { return 5 * time.Minute }

func (t *SemgrepTool) Command(repoPath string) []string {
	args := []string{"--json", "--quiet"}
	rules := []string{"auto"}
	if t.Ruleset != nil && len(t.Ruleset.Rules) > 0 {
		rules = t.Ruleset.Rules
	}
	for _, rule := range rules {
		args = append(args, "--config", rule)
	}
	return append(args, repoPath)
}

// defaultPatterns are the match templates searched for when the ruleset
// does not define its own. Keys line up with the analyzer's anti-pattern
// classification.
var defaultPatterns = map[string]string{
	"empty-catch":     "catch (:[err]) {}",
	"nested-callback": "function (:[a]) { :[pre] function (:[b]) { :[body] } :[post] }",
	"long-parameter":  ":[fn](:[p1], :[p2], :[p3], :[p4], :[p5], :[rest])",
	"deep-nesting":    "if (:[a]) { if (:[b]) { if (:[c]) { if (:[d]) { :[body] } } } }",
}

// CombyTool invokes the structural pattern search tool, one match per JSON
// line on stdout.
type CombyTool struct {
	// Patterns maps a pattern key to the match template searched for.
	Patterns map[string]string
}

func (t *CombyTool) Name() string { return "comby" }
func (t *CombyTool) Kind() models.AnalysisKind { return models.AnalysisKindStructural }
func (t *CombyTool) Timeout() time.Duration { return 3 * time.Minute }

func (t *CombyTool) Command(repoPath string) []string {
	args := []string{"-json-lines", "-match-only", "-directory", repoPath}
	patterns := t.Patterns
	if len(patterns) == 0 {
		patterns = defaultPatterns
	}
	// Sorted keys keep the argument list deterministic.
	keys := lo.Keys(patterns)
	sort.Strings(keys)
	for _, key := range keys {
		args = append(args, "-match-template", patterns[key])
	}
	return args
}

// DefaultRegistry builds a registry with the three standard tools wired
// to the given ruleset and depth.
func DefaultRegistry(depth models.AnalysisDepth, ruleset *Ruleset) *Registry {
	registry := NewRegistry()
	registry.Register(&GitInsightsTool{Depth: depth})
	registry.Register(&SemgrepTool{Ruleset: ruleset})
	comby := &CombyTool{}
	if ruleset != nil {
		comby.Patterns = ruleset.Patterns
	}
	registry.Register(comby)
	return registry
}
