package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/flanksource/commons/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/gorm"

	"github.com/code-cortex/codemirror/api"
	"github.com/code-cortex/codemirror/config"
	"github.com/code-cortex/codemirror/executor"
	"github.com/code-cortex/codemirror/internal/db"
	"github.com/code-cortex/codemirror/models"
	"github.com/code-cortex/codemirror/pipeline"
	"github.com/code-cortex/codemirror/watcher"
)

var (
	serveWatchPaths []string
	serveUserID     string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web-side analysis pipeline and HTTP API",
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
		tools := executor.DefaultRegistry(models.DepthStandard, ruleset)
		pipe := pipeline.New(gdb, cfg, tools, serveUserID)

		repoPaths := map[string]string{}
		for _, path := range serveWatchPaths {
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
		apiServer := api.NewServer(gdb, pipe, serveUserID)
		for repoRef, path := range repoPaths {
			w := watcher.New(gdb, cfg.Watcher, repoRef, path, dispatcher)
			apiServer.RegisterWatcher(repoRef, w)
			go func() {
				if err := w.Run(ctx); err != nil {
					logger.Errorf("watcher for %s stopped: %v", repoRef, err)
				}
			}()
		}

		server := &http.Server{
			Addr:    cfg.ListenAddr,
			Handler: apiServer.Router(),
		}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()

		logger.Infof("listening on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	},
}

func openDatabase(dir string) (*gorm.DB, error) {
	if dir != "" {
		return db.OpenPath(dir)
	}
	return db.Get()
}

func init() {
	serveCmd.Flags().StringSliceVar(&serveWatchPaths, "watch", nil, "repository paths to watch for changes")
	serveCmd.Flags().StringVar(&serveUserID, "user", "default", "owning user id for patterns and insights")
	rootCmd.AddCommand(serveCmd)
}
