package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/flanksource/commons/logger"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/code-cortex/codemirror/analyzers"
	"github.com/code-cortex/codemirror/config"
	"github.com/code-cortex/codemirror/executor"
	"github.com/code-cortex/codemirror/models"
	"github.com/code-cortex/codemirror/syncer"
)

var (
	analyzeDepth string
	analyzeSync  bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [path]",
	Short: "Run an offline analysis of a local repository",
	Long: `Runs the analysis tools against a local checkout, caches the result in
the offline store, and optionally syncs it to the server immediately.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repoPath := "."
		if len(args) > 0 {
			repoPath = args[0]
		}
		repoPath, err := filepath.Abs(repoPath)
		if err != nil {
			return err
		}

		cliCfg, err := config.LoadCLIConfig(repoPath)
		if err != nil {
			return err
		}
		depth := models.AnalysisDepth(analyzeDepth)
		if analyzeDepth == "" {
			depth = models.AnalysisDepth(cliCfg.Depth)
		}

		result, err := runOffline(cmd.Context(), repoPath, depth)
		if err != nil {
			return err
		}

		store, err := syncer.OpenLocalStore("")
		if err != nil {
			return err
		}
		defer store.Close()

		run := syncer.LocalRun{
			CLIAnalysisID: uuid.NewString(),
			RepoPath:      repoPath,
			SyncToken:     uuid.NewString(),
			Result:        result,
			AnalyzedAt:    time.Now(),
		}
		if err := store.SaveRun(cmd.Context(), run, cliCfg.KeepRuns); err != nil {
			return err
		}
		fmt.Printf("analysis %s cached for %s\n", run.CLIAnalysisID, repoPath)

		if analyzeSync || cliCfg.AutoSync {
			if err := uploadRun(cmd.Context(), store, cliCfg, run); err != nil {
				return err
			}
		}
		return nil
	},
}

// runOffline executes the tools locally and flattens the analyzer results
// into the sync result document.
func runOffline(ctx context.Context, repoPath string, depth models.AnalysisDepth) (models.JSONMap, error) {
	cfg := config.Default()
	ruleset, err := executor.LoadRuleset(cfg.Executor.RulesetPath)
	if err != nil {
		return nil, err
	}
	tools := executor.DefaultRegistry(depth, ruleset)
	exec := executor.New(cfg.Executor.DefaultTimeout)
	pool := executor.NewPool(exec, cfg.Executor.PoolSize)

	kinds := []models.AnalysisKind{models.AnalysisKindGit, models.AnalysisKindSecurity, models.AnalysisKindStructural}
	toolList := make([]executor.Tool, 0, len(kinds))
	for _, kind := range kinds {
		tool, ok := tools.ForKind(kind)
		if !ok {
			return nil, fmt.Errorf("no tool registered for %s analysis", kind)
		}
		toolList = append(toolList, tool)
	}

	runID := uuid.NewString()
	executions := pool.RunAll(ctx, runID, toolList, repoPath)

	result := models.JSONMap{"depth": string(depth)}
	var succeeded int
	for i, kind := range kinds {
		execution := executions[i]
		switch kind {
		case models.AnalysisKindGit:
			git, err := (&analyzers.GitAnalyzer{Depth: depth}).Analyze(runID, repoPath, execution)
			if err != nil {
				result["git_error"] = err.Error()
				logger.Warnf("git analysis degraded: %v", err)
				continue
			}
			result["git"] = git
			succeeded++
		case models.AnalysisKindSecurity:
			security, findings, err := (&analyzers.SecurityAnalyzer{}).Analyze(runID, repoPath, execution)
			if err != nil {
				result["security_error"] = err.Error()
				logger.Warnf("security scan degraded: %v", err)
				continue
			}
			result["security"] = security
			result["findings"] = findings
			succeeded++
		case models.AnalysisKindStructural:
			structural, err := (&analyzers.StructuralAnalyzer{}).Analyze(runID, repoPath, execution)
			if err != nil {
				result["structural_error"] = err.Error()
				logger.Warnf("structural search degraded: %v", err)
				continue
			}
			result["structural"] = structural
			succeeded++
		}
	}
	if succeeded == 0 {
		return nil, fmt.Errorf("all analyses failed for %s", repoPath)
	}
	return result, nil
}

// uploadRun pushes one cached run to the server and marks it synced.
func uploadRun(ctx context.Context, store *syncer.LocalStore, cliCfg *config.CLIConfig, run syncer.LocalRun) error {
	identity, err := syncer.ResolveIdentity(run.RepoPath)
	if err != nil {
		return fmt.Errorf("cannot sync %s: %w", run.RepoPath, err)
	}

	client := syncer.NewClient(cliCfg.ServerURL, cliCfg.SyncTimeout)
	record, err := client.Upload(ctx, syncer.UploadPayload{
		SyncToken:     run.SyncToken,
		CLIAnalysisID: run.CLIAnalysisID,
		CLIVersion:    Version,
		LocalPath:     run.RepoPath,
		RepoIdentity:  identity.Identity,
		DetectedStack: syncer.DetectStack(run.RepoPath),
		AnalyzedAt:    run.AnalyzedAt,
		Result:        run.Result,
	})
	if err != nil {
		return err
	}

	switch record.Status {
	case models.SyncConflict:
		fmt.Printf("sync %s: conflict, resolve via the web UI\n", record.SyncToken)
	case models.SyncSynced:
		if err := store.MarkSynced(ctx, run.CLIAnalysisID); err != nil {
			return err
		}
		fmt.Printf("sync %s: synced as %s\n", record.SyncToken, record.WebAnalysisID)
	default:
		fmt.Printf("sync %s: %s\n", record.SyncToken, record.Status)
	}
	return nil
}

func repoRefFor(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if identity, err := syncer.ResolveIdentity(abs); err == nil {
		return identity.Identity, nil
	}
	return abs, nil
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeDepth, "depth", "", "analysis depth: quick, standard or deep")
	analyzeCmd.Flags().BoolVar(&analyzeSync, "sync", false, "sync the result to the server immediately")
	rootCmd.AddCommand(analyzeCmd)
}
