package main

import (
	"context"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/google/caliban-sub000/pkg/compute"
	"github.com/google/caliban-sub000/pkg/compute/caip"
	"github.com/google/caliban-sub000/pkg/compute/gke"
	"github.com/google/caliban-sub000/pkg/compute/localrun"
	"github.com/google/caliban-sub000/pkg/configs"
	"github.com/google/caliban-sub000/pkg/domain"
	"github.com/google/caliban-sub000/pkg/history"
	"github.com/google/caliban-sub000/pkg/history/engine"
)

// app carries the handles every subcommand shares. Built once in the
// root PersistentPreRun, torn down in PersistentPostRun.
type app struct {
	configPath string
	cfg        *configs.Config
	logger     *log.Logger
	store      history.Storage
	reg        *compute.Registry

	// selection flags shared by every subcommand
	xgroup  string
	maxJobs int
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "caliban",
		Short:         "experiment job history and status across compute platforms",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.teardown()
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", configs.Default(), "config file path")
	root.PersistentFlags().StringVar(&a.xgroup, "xgroup", "", "experiment group name")
	root.PersistentFlags().IntVar(&a.maxJobs, "max-jobs", 0, "cap on the number of jobs considered (0 = no cap)")

	root.AddCommand(
		newStatusCommand(a),
		newStopCommand(a),
		newResubmitCommand(a),
		newMonitorCommand(a),
	)
	return root
}

func (a *app) setup(ctx context.Context) error {
	a.logger = log.New(os.Stderr, "caliban: ", log.LstdFlags)

	cfg, err := configs.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	store, err := engine.OpenWithFallback(ctx, cfg.Storage, a.logger)
	if err != nil {
		return err
	}
	a.store = store
	a.reg = buildRegistry(cfg, a.logger)
	return nil
}

func (a *app) teardown() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Printf("closing history store: %s", err)
		}
		a.store = nil
	}
}

// buildRegistry wires every platform the configuration can reach. A
// platform that cannot be wired is skipped with a warning; its runs
// just stay as recorded.
func buildRegistry(cfg *configs.Config, logger *log.Logger) *compute.Registry {
	backends := []compute.Compute{
		localrun.New(
			func(context.Context, *domain.Job, *domain.JobSpec) (domain.JobStatus, map[string]any, error) {
				return "", nil, errLocalUnavailable
			},
			logger,
		),
	}

	if cfg.CAIP.Project != "" && cfg.CAIP.ServiceAccountKey != "" {
		key, err := caip.LoadServiceAccountKey(cfg.CAIP.ServiceAccountKey)
		if err != nil {
			logger.Printf("CAIP backend disabled: %s", err)
		} else if tokens, err := caip.NewServiceAccountTokenSource(key, nil); err != nil {
			logger.Printf("CAIP backend disabled: %s", err)
		} else {
			options := []caip.ClientOption{}
			if cfg.CAIP.Endpoint != "" {
				options = append(options, caip.WithEndpoint(cfg.CAIP.Endpoint))
			}
			client := caip.NewClient(cfg.CAIP.Project, tokens, logger, options...)
			backends = append(backends, caip.New(client, logger))
		}
	}

	if cfg.GKE.Kubeconfig != "" {
		client, err := gke.ConnectCluster(cfg.GKE.Kubeconfig)
		if err != nil {
			logger.Printf("GKE backend disabled: %s", err)
		} else {
			backends = append(backends, gke.New(client, cfg.GKE.Namespace, logger))
		}
	}

	return compute.NewRegistry(backends...)
}

// selectJobs resolves the shared --xgroup / --max-jobs selection.
func (a *app) selectJobs(ctx context.Context) ([]*domain.Job, error) {
	if a.xgroup != "" {
		group, ok, err := history.FindGroupByName(ctx, a.store, a.xgroup)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errUnknownGroup(a.xgroup)
		}

		experiments, err := history.ExperimentsInGroup(ctx, a.store, group.Id)
		if err != nil {
			return nil, err
		}
		jobs := []*domain.Job{}
		for _, exp := range experiments {
			expJobs, err := history.JobsOfExperiment(ctx, a.store, exp.Id)
			if err != nil {
				return nil, err
			}
			if len(expJobs) > 0 {
				jobs = append(jobs, expJobs[0])
			}
			if a.maxJobs > 0 && len(jobs) >= a.maxJobs {
				break
			}
		}
		return jobs, nil
	}

	return history.RecentJobsOfUser(ctx, a.store, a.cfg.User, a.maxJobs)
}
