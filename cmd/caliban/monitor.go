package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/google/caliban-sub000/pkg/compute"
	"github.com/google/caliban-sub000/pkg/history"
	"github.com/google/caliban-sub000/pkg/loop"
	"github.com/google/caliban-sub000/pkg/utils/filewatch"
)

func newMonitorCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "poll job statuses until every watched run settles",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			// a config edit cancels the watch context so the loop
			// restarts on fresh settings
			for {
				wctx := ctx
				cancel := func() {}
				if _, err := os.Stat(a.configPath); err == nil {
					var werr error
					wctx, cancel, werr = filewatch.UntilModifyContext(ctx, a.configPath)
					if werr != nil {
						return werr
					}
				}

				err := a.monitorUntilSettled(wctx, cmd)
				cancel()

				if err == nil {
					return nil
				}
				if ctx.Err() != nil {
					// the user is done, not the config
					return ctx.Err()
				}
				if errors.Is(err, context.Canceled) {
					a.logger.Printf("%s changed; reloading and resuming", a.configPath)
					a.teardown()
					if err := a.setup(ctx); err != nil {
						return err
					}
					continue
				}
				return err
			}
		},
	}
}

func (a *app) monitorUntilSettled(ctx context.Context, cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	_, err := loop.Start(ctx, 0, func(ctx context.Context, sweep int) (int, loop.Next) {
		jobs, err := a.selectJobs(ctx)
		if err != nil {
			return sweep, loop.Break(err)
		}

		pending := 0
		for _, job := range jobs {
			runs, err := history.RunsOfJob(ctx, a.store, job.Id)
			if err != nil {
				return sweep, loop.Break(err)
			}
			latest := history.LatestRun(runs)
			if latest == nil || latest.Status.Terminal() {
				continue
			}

			updated, err := compute.UpdateJobStatus(ctx, a.store, a.reg, latest, a.logger)
			if errors.Is(err, compute.ErrNoBackend) {
				a.logger.Printf("job %s: %s", job.Name, err)
				continue
			}
			if err != nil {
				return sweep, loop.Break(err)
			}
			if updated.Status != latest.Status {
				fmt.Fprintf(out, "%s: %s -> %s\n", job.Name, latest.Status, updated.Status)
			}
			if !updated.Status.Terminal() {
				pending += 1
			}
		}

		if pending == 0 {
			fmt.Fprintln(out, "all runs settled")
			return sweep, loop.Break(nil)
		}
		return sweep + 1, loop.Continue(a.cfg.Monitor.Interval)
	})
	return err
}
