package cmd

import (
	"context"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/flanksource/commons/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/code-cortex/codemirror/config"
	"github.com/code-cortex/codemirror/executor"
	"github.com/code-cortex/codemirror/models"
	"github.com/code-cortex/codemirror/pipeline"
	"github.com/code-cortex/codemirror/watcher"
)

var watchUserID string

var watchCmd = &cobra.Command{
	Use:   "watch [path...]",
	Short: "Watch local repositories and analyze on change",
	Long: `Watches one or more local repositories and runs the pipeline whenever a
debounced batch of source changes lands. This is the standalone variant of
the watching 'serve' does; results go to the same local database.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		gdb, err := openDatabase(cfg.DBDir)
		if err != nil {
			return err
		}

		ruleset, err := executor.LoadRuleset(cfg.Executor.RulesetPath)
		if err != nil {
			return err
		}
		tools := executor.DefaultRegistry(models.DepthQuick, ruleset)
		pipe := pipeline.New(gdb, cfg, tools, watchUserID)

		repoPaths := map[string]string{}
		for _, arg := range args {
			path, err := filepath.Abs(arg)
			if err != nil {
				return err
			}
			repoRef, err := repoRefFor(path)
			if err != nil {
				return err
			}
			repoPaths[repoRef] = path
		}
		dispatcher := pipeline.NewDispatcher(pipe, repoPaths)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		go dispatcher.Run(ctx)

		done := make(chan struct{}, len(repoPaths))
		watchers := make([]*watcher.Watcher, 0, len(repoPaths))
		for repoRef, path := range repoPaths {
			w := watcher.New(gdb, cfg.Watcher, repoRef, path, dispatcher)
			watchers = append(watchers, w)
			go func() {
				defer func() { done <- struct{}{} }()
				_ = w.Run(ctx)
			}()
		}
		for range repoPaths {
			<-done
		}

		for _, w := range watchers {
			stats := w.Batcher().Stats()
			logger.Infof("%s: %d events, %d batches, %d requests (%d suppressed)",
				stats.RepoRef, stats.EventsSeen, stats.BatchesFlushed,
				stats.RequestsEmitted, stats.RequestsSuppressed)
		}
		return nil
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchUserID, "user", "default", "owning user id for patterns and insights")
	rootCmd.AddCommand(watchCmd)
}
