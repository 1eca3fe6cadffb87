package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/google/caliban-sub000/pkg/compute"
	"github.com/google/caliban-sub000/pkg/domain"
	"github.com/google/caliban-sub000/pkg/history"
)

var errLocalUnavailable = errors.New("local jobs cannot be executed from this command")

func errUnknownGroup(name string) error {
	return fmt.Errorf("experiment group %s is not in the history store", name)
}

func newStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "reconcile and print the status of your jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			jobs, err := a.selectJobs(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "JOB\tPLATFORM\tSTATUS\tRUNS\tCREATED")
			for _, job := range jobs {
				run, count, err := latestReconciled(ctx, a, job)
				if err != nil {
					return err
				}
				if run == nil {
					fmt.Fprintf(w, "%s\t-\t(never submitted)\t0\t%s\n",
						job.Name, job.CreatedAt.Format("2006-01-02 15:04"))
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					job.Name, run.Platform, run.Status, count,
					run.CreatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
}

// latestReconciled refreshes and returns the newest run of the job,
// plus the total run count.
func latestReconciled(ctx context.Context, a *app, job *domain.Job) (*domain.Run, int, error) {
	runs, err := history.RunsOfJob(ctx, a.store, job.Id)
	if err != nil {
		return nil, 0, err
	}
	latest := history.LatestRun(runs)
	if latest == nil {
		return nil, 0, nil
	}
	updated, err := compute.UpdateJobStatus(ctx, a.store, a.reg, latest, a.logger)
	if errors.Is(err, compute.ErrNoBackend) {
		// platform not configured here; show what the store knows
		a.logger.Printf("run %s: %s", latest.Id, err)
		return latest, len(runs), nil
	}
	if err != nil {
		return nil, 0, err
	}
	return updated, len(runs), nil
}
