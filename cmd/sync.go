package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/code-cortex/codemirror/config"
	"github.com/code-cortex/codemirror/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync [path]",
	Short: "Upload pending offline analyses to the server",
	Args:  cobra.MaximumNArgs(1),
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

		store, err := syncer.OpenLocalStore("")
		if err != nil {
			return err
		}
		defer store.Close()

		pending, err := store.PendingRuns(cmd.Context())
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			fmt.Println("nothing to sync")
			return nil
		}

		var failed int
		for _, run := range pending {
			if err := uploadRun(cmd.Context(), store, cliCfg, run); err != nil {
				failed++
				fmt.Printf("sync %s: %v\n", run.CLIAnalysisID, err)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d uploads failed", failed, len(pending))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
