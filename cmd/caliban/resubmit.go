package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/google/caliban-sub000/pkg/domain"
	"github.com/google/caliban-sub000/pkg/resubmit"
)

func newResubmitCommand(a *app) *cobra.Command {
	allJobs := false

	cmd := &cobra.Command{
		Use:   "resubmit",
		Short: "submit failed or stopped jobs again",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			// images recorded at first submission are reused; rebuilds
			// happen where the build toolchain lives, not here
			r := resubmit.New(a.store, a.reg, nil, a.logger)

			result, err := r.Resubmit(ctx, resubmit.Request{
				XGroup:  a.xgroup,
				User:    a.cfg.User,
				MaxJobs: a.maxJobs,
				AllJobs: allJobs,
			}, func(job *domain.Job, run *domain.Run, err error) {
				if err != nil {
					fmt.Fprintf(out, "FAILED  %s: %s\n", job.Name, err)
					return
				}
				fmt.Fprintf(out, "submitted %s on %s (run %s)\n", job.Name, run.Platform, run.Id)
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "%d submitted, %d failed\n", len(result.Submitted), len(result.FailedJobs))
			return nil
		},
	}

	cmd.Flags().BoolVar(&allJobs, "all", false, "resubmit every job, not only failed or stopped ones")
	return cmd
}
