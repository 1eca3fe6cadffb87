package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/google/caliban-sub000/pkg/compute"
	"github.com/google/caliban-sub000/pkg/history"
)

func newStopCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "cancel the non-terminal runs of your jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			jobs, err := a.selectJobs(ctx)
			if err != nil {
				return err
			}

			stopped, skipped := 0, 0
			for _, job := range jobs {
				runs, err := history.RunsOfJob(ctx, a.store, job.Id)
				if err != nil {
					return err
				}
				latest := history.LatestRun(runs)
				if latest == nil || latest.Status.Terminal() {
					skipped += 1
					continue
				}

				if _, err := compute.StopRun(ctx, a.store, a.reg, latest); err != nil {
					if errors.Is(err, compute.ErrNoBackend) {
						a.logger.Printf("job %s: %s", job.Name, err)
						skipped += 1
						continue
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stopped %s (run %s)\n", job.Name, latest.Id)
				stopped += 1
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d stopped, %d already settled\n", stopped, skipped)
			return nil
		},
	}
}
