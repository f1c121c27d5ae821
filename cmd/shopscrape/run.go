package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/use-agent/shopscrape/models"
)

var (
	runAffiliateTag string
	runTarget       string
)

var runCmd = &cobra.Command{
	Use:   "run [url ...]",
	Short: "Runs one job over the given URLs, or over the input sheet when none are given.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		id, err := a.jobs.Submit(models.RunRequest{URLs: args, AffiliateTag: runAffiliateTag, Target: runTarget})
		if err != nil {
			return err
		}
		if err := a.jobs.WaitContext(cmd.Context()); err != nil {
			slog.Warn("interrupted, job stopped", "jobId", id)
		}

		job, err := a.jobs.Get(id)
		if err != nil {
			return err
		}
		for _, f := range job.Failures {
			slog.Warn("url failed", "url", f.URL, "code", f.Code, "error", f.Error)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "job %d %s: %d products from %s urls\n", job.ID, job.Status, job.ProductCount, job.Progress)
		if job.Status != models.JobCompleted {
			return fmt.Errorf("job failed: %s", job.Error)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runAffiliateTag, "tag", "", "affiliate tag for this run (overrides AMAZON_AFFILIATE_TAG)")
	runCmd.Flags().StringVar(&runTarget, "target", "", "sink destination: sheet tab or csv file stem")
	rootCmd.AddCommand(runCmd)
}
