package testcompute_test

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/google/caliban-sub000/pkg/compute"
	"github.com/google/caliban-sub000/pkg/compute/testcompute"
	"github.com/google/caliban-sub000/pkg/domain"
	"github.com/google/caliban-sub000/pkg/history"
	"github.com/google/caliban-sub000/pkg/history/memstore"
	"github.com/google/caliban-sub000/pkg/utils/try"
)

func TestReconciliationEventuallyTerminates(t *testing.T) {
	ctx := context.Background()
	logger := log.New(io.Discard, "", log.LstdFlags)
	store := memstore.New(logger)
	defer store.Close()

	experiments := try.To(store.CreateExperiment(ctx, history.NewExperiment{
		XGroup:  "random-walk",
		Build:   domain.BuildSpec{BaseImage: "gcr.io/example/base:latest"},
		Configs: []map[string]any{{"n": 1}, {"n": 2}, {"n": 3}},
		User:    "ada",
	})).OrFatal(t)

	backend := testcompute.New(42)
	reg := compute.NewRegistry(backend)

	runs := []*domain.Run{}
	for _, exp := range experiments {
		jobs := try.To(history.JobsOfExperiment(ctx, store, exp.Id)).OrFatal(t)
		spec := domain.NewJobSpec(exp.Id, domain.Test, map[string]any{"n": exp.Kwargs["n"]})
		run := try.To(compute.SubmitJob(ctx, store, reg, jobs[0], spec)).OrFatal(t)
		runs = append(runs, run)
	}

	// with 7 statuses, 4 of them terminal, 200 sweeps cannot plausibly
	// leave anything non-terminal
	for sweep := 0; sweep < 200; sweep++ {
		allDone := true
		for nth, run := range runs {
			updated := try.To(compute.UpdateJobStatus(ctx, store, reg, run, logger)).OrFatal(t)
			runs[nth] = updated
			if !updated.Status.Terminal() {
				allDone = false
			}
		}
		if allDone {
			break
		}
	}

	for _, run := range runs {
		if !run.Status.Terminal() {
			t.Errorf("run %s still %s after the sweep budget", run.Id, run.Status)
		}
		stored, ok, err := history.GetRun(ctx, store, run.Id)
		if err != nil || !ok {
			t.Fatalf("run %s: ok=%v err=%v", run.Id, ok, err)
		}
		if stored.Status != run.Status {
			t.Errorf("stored status %s != reconciled %s", stored.Status, run.Status)
		}
	}
}

func TestSubmitIsNonTerminal(t *testing.T) {
	ctx := context.Background()
	backend := testcompute.New(1)

	now := time.Now()
	group := domain.NewExperimentGroup("g", "ada", now)
	container := domain.NewContainerSpec("ada", domain.BuildSpec{BaseImage: "img"})
	exp := domain.NewExperiment(group, container, nil, nil, "ada", now)
	job := domain.NewJob("g-1", exp, now)
	spec := domain.NewJobSpec(exp.Id, domain.Test, nil)

	run := try.To(backend.Submit(ctx, job, spec)).OrFatal(t)
	if run.Status != domain.Submitted {
		t.Errorf("status = %s, want SUBMITTED", run.Status)
	}
}
