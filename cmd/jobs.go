package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/code-cortex/codemirror/config"
	"github.com/code-cortex/codemirror/models"
)

var jobsRepo string

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List analysis jobs in the local database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		gdb, err := openDatabase(cfg.DBDir)
		if err != nil {
			return err
		}

		query := gdb.Order("created_at DESC").Limit(50)
		if jobsRepo != "" {
			query = query.Where("repo_ref = ?", jobsRepo)
		}
		var jobs []models.Job
		if err := query.Find(&jobs).Error; err != nil {
			return fmt.Errorf("failed to list jobs: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "JOB\tTYPE\tSTATUS\tREPO\tPROGRESS\tRETRIES\tCREATED")
		for _, job := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d%%\t%d/%d\t%s\n",
				job.JobID[:8], job.JobType, job.Status, job.RepoRef,
				job.Progress, job.RetryCount, job.MaxRetries,
				job.CreatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

func init() {
	jobsCmd.Flags().StringVar(&jobsRepo, "repo", "", "filter by repository reference")
	rootCmd.AddCommand(jobsCmd)
}
