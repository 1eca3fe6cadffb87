package history_test

import (
	"testing"
	"time"

	"github.com/google/caliban-sub000/pkg/domain"
	"github.com/google/caliban-sub000/pkg/history"
	"github.com/google/caliban-sub000/pkg/utils"
	"github.com/google/caliban-sub000/pkg/utils/cmp"
	"github.com/google/caliban-sub000/pkg/utils/try"
)

func TestExpand(t *testing.T) {
	now := try.To(time.Parse(time.RFC3339, "2025-05-01T12:00:00+00:00")).OrFatal(t)

	req := history.NewExperiment{
		XGroup: "mnist-sweep",
		Build: domain.BuildSpec{
			BaseImage:       "gcr.io/example/base:cuda11",
			DependencyFiles: []string{"requirements.txt"},
			Accelerator:     domain.Accelerator{Kind: domain.AccGPU, Type: "nvidia-tesla-t4", Count: 1},
		},
		Command: "train",
		Configs: []map[string]any{
			{"lr": 0.1}, {"lr": 0.01}, {"lr": 0.001},
		},
		Args: []string{"--epochs", "10"},
		User: "ada",
	}

	t.Run("one experiment and one job per config", func(t *testing.T) {
		sweep := try.To(history.Expand(req, nil, now)).OrFatal(t)

		if len(sweep.Experiments) != 3 || len(sweep.Jobs) != 3 {
			t.Fatalf(
				"got %d experiments, %d jobs, want 3 each",
				len(sweep.Experiments), len(sweep.Jobs),
			)
		}
		if sweep.Group.Name != "mnist-sweep" || sweep.Group.User != "ada" {
			t.Errorf("unexpected group: %+v", sweep.Group)
		}

		wantNames := []string{"mnist-sweep-train-1", "mnist-sweep-train-2", "mnist-sweep-train-3"}
		gotNames := utils.Map(sweep.Jobs, func(j *domain.Job) string { return j.Name })
		if !cmp.SliceEq(gotNames, wantNames) {
			t.Errorf("job names = %v, want %v", gotNames, wantNames)
		}

		for nth, exp := range sweep.Experiments {
			if exp.GroupId != sweep.Group.Id {
				t.Errorf("experiment #%d not bound to the group", nth)
			}
			if exp.ContainerSpecId != sweep.Container.Id {
				t.Errorf("experiment #%d not bound to the container spec", nth)
			}
			if sweep.Jobs[nth].ExperimentId != exp.Id {
				t.Errorf("job #%d not aligned with experiment #%d", nth, nth)
			}
		}
	})

	t.Run("expansion is deterministic for everything but the group", func(t *testing.T) {
		group := domain.NewExperimentGroup(req.XGroup, req.User, now)

		first := try.To(history.Expand(req, group, now)).OrFatal(t)
		second := try.To(history.Expand(req, group, now)).OrFatal(t)

		if first.Container.Id != second.Container.Id {
			t.Error("container spec ids differ between identical expansions")
		}
		for nth := range first.Experiments {
			if first.Experiments[nth].Id != second.Experiments[nth].Id {
				t.Errorf("experiment #%d ids differ", nth)
			}
			if first.Jobs[nth].Id != second.Jobs[nth].Id {
				t.Errorf("job #%d ids differ", nth)
			}
		}
	})

	t.Run("no configs still yields a single experiment", func(t *testing.T) {
		single := req
		single.Configs = nil
		single.Command = ""

		sweep := try.To(history.Expand(single, nil, now)).OrFatal(t)
		if len(sweep.Experiments) != 1 {
			t.Fatalf("got %d experiments, want 1", len(sweep.Experiments))
		}
		if sweep.Experiments[0].Kwargs != nil {
			t.Errorf("kwargs = %v, want nil", sweep.Experiments[0].Kwargs)
		}
		if sweep.Jobs[0].Name != "mnist-sweep-1" {
			t.Errorf("job name = %s", sweep.Jobs[0].Name)
		}
	})

	t.Run("a group of another name is rejected", func(t *testing.T) {
		other := domain.NewExperimentGroup("other-group", req.User, now)
		if _, err := history.Expand(req, other, now); err == nil {
			t.Error("expected an error for a mismatched group")
		}
	})

	t.Run("invalid requests are rejected", func(t *testing.T) {
		for name, breakIt := range map[string]func(*history.NewExperiment){
			"no xgroup":     func(r *history.NewExperiment) { r.XGroup = "" },
			"no user":       func(r *history.NewExperiment) { r.User = "" },
			"no base image": func(r *history.NewExperiment) { r.Build.BaseImage = "" },
		} {
			t.Run(name, func(t *testing.T) {
				broken := req
				breakIt(&broken)
				if _, err := history.Expand(broken, nil, now); err == nil {
					t.Error("expected a validation error")
				}
			})
		}
	})
}
