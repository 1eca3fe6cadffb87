package resubmit_test

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/google/caliban-sub000/pkg/compute"
	"github.com/google/caliban-sub000/pkg/compute/mock"
	"github.com/google/caliban-sub000/pkg/domain"
	"github.com/google/caliban-sub000/pkg/history"
	"github.com/google/caliban-sub000/pkg/history/memstore"
	"github.com/google/caliban-sub000/pkg/resubmit"
	"github.com/google/caliban-sub000/pkg/utils/try"
)

func logger() *log.Logger {
	return log.New(io.Discard, "", log.LstdFlags)
}

// fixture records a 4-point sweep, submits every job on the TEST
// platform and drives the runs to the given terminal statuses.
type fixture struct {
	store   history.Storage
	reg     *compute.Registry
	backend *mock.Compute
	jobs    []*domain.Job
	runs    []*domain.Run
}

func setup(t *testing.T, finalStatuses []domain.JobStatus) *fixture {
	t.Helper()
	ctx := context.Background()

	store := memstore.New(logger())
	t.Cleanup(func() { store.Close() })

	experiments := try.To(store.CreateExperiment(ctx, history.NewExperiment{
		XGroup: "quadratic",
		Build:  domain.BuildSpec{BaseImage: "gcr.io/example/base:latest"},
		Configs: []map[string]any{
			{"a": 0}, {"a": 1}, {"a": 2}, {"a": 3},
		},
		Args: []string{"--fit"},
		User: "ada",
	})).OrFatal(t)
	if len(experiments) != 4 {
		t.Fatalf("got %d experiments, want 4", len(experiments))
	}

	backend := mock.New(t, domain.Test)
	backend.Impl.Submit = func(_ context.Context, j *domain.Job, s *domain.JobSpec) (*domain.Run, error) {
		return domain.NewRun(j, s, domain.Submitted, nil, time.Now()), nil
	}
	reg := compute.NewRegistry(backend)

	f := &fixture{store: store, reg: reg, backend: backend}
	for nth, exp := range experiments {
		jobs := try.To(history.JobsOfExperiment(ctx, store, exp.Id)).OrFatal(t)
		job := jobs[0]

		spec := domain.NewJobSpec(exp.Id, domain.Test, map[string]any{
			"image": "gcr.io/example/built:v1",
			"a":     exp.Kwargs["a"],
		})
		run := try.To(compute.SubmitJob(ctx, store, reg, job, spec)).OrFatal(t)
		if err := store.SaveRunStatus(ctx, run.Id, finalStatuses[nth]); err != nil {
			t.Fatal(err)
		}
		run.Status = finalStatuses[nth]

		f.jobs = append(f.jobs, job)
		f.runs = append(f.runs, run)
	}
	backend.Calls.Submit = nil // only count resubmissions from here on
	return f
}

func TestResubmit_FailedJobsOfGroup(t *testing.T) {
	ctx := context.Background()
	f := setup(t, []domain.JobStatus{
		domain.Succeeded, domain.Failed, domain.Failed, domain.Succeeded,
	})

	builds := 0
	builder := resubmit.BuilderFunc(func(_ context.Context, spec *domain.ContainerSpec) (string, error) {
		builds += 1
		return "gcr.io/example/built:v2", nil
	})

	var seen []string
	r := resubmit.New(f.store, f.reg, builder, logger())
	result := try.To(r.Resubmit(ctx, resubmit.Request{XGroup: "quadratic"},
		func(job *domain.Job, run *domain.Run, err error) {
			seen = append(seen, job.Name)
			if err != nil {
				t.Errorf("job %s: %v", job.Name, err)
			}
		},
	)).OrFatal(t)

	if len(result.Submitted) != 2 || len(result.FailedJobs) != 0 {
		t.Fatalf("submitted %d, failed %d; want 2, 0", len(result.Submitted), len(result.FailedJobs))
	}
	if len(seen) != 2 {
		t.Errorf("callback fired %d times, want 2", len(seen))
	}

	t.Run("one shared container is rebuilt exactly once", func(t *testing.T) {
		if builds != 1 {
			t.Errorf("builder ran %d times, want 1", builds)
		}
	})

	t.Run("resubmitted runs carry the rebuilt image", func(t *testing.T) {
		for _, run := range result.Submitted {
			spec, ok, err := history.GetJobSpec(ctx, f.store, run.SpecId)
			if err != nil || !ok {
				t.Fatalf("spec %s: ok=%v err=%v", run.SpecId, ok, err)
			}
			if spec.Spec["image"] != "gcr.io/example/built:v2" {
				t.Errorf("image = %v", spec.Spec["image"])
			}
		}
	})

	t.Run("untouched jobs got no new runs", func(t *testing.T) {
		for nth, job := range f.jobs {
			runs := try.To(history.RunsOfJob(ctx, f.store, job.Id)).OrFatal(t)
			if f.runs[nth].Status == domain.Succeeded && len(runs) != 1 {
				t.Errorf("job %s gained runs: %d", job.Name, len(runs))
			}
			if f.runs[nth].Status == domain.Failed && len(runs) != 2 {
				t.Errorf("job %s has %d runs, want 2", job.Name, len(runs))
			}
		}
	})
}

func TestResubmit_AllJobs(t *testing.T) {
	ctx := context.Background()
	f := setup(t, []domain.JobStatus{
		domain.Succeeded, domain.Failed, domain.Stopped, domain.Succeeded,
	})

	r := resubmit.New(f.store, f.reg, nil, logger())
	result := try.To(r.Resubmit(ctx, resubmit.Request{XGroup: "quadratic", AllJobs: true}, nil)).OrFatal(t)

	if len(result.Submitted) != 4 {
		t.Errorf("submitted %d, want all 4", len(result.Submitted))
	}
}

func TestResubmit_MaxJobs(t *testing.T) {
	ctx := context.Background()
	f := setup(t, []domain.JobStatus{
		domain.Failed, domain.Failed, domain.Failed, domain.Failed,
	})

	r := resubmit.New(f.store, f.reg, nil, logger())
	result := try.To(r.Resubmit(ctx, resubmit.Request{XGroup: "quadratic", MaxJobs: 2}, nil)).OrFatal(t)

	if len(result.Submitted) != 2 {
		t.Errorf("submitted %d, want 2", len(result.Submitted))
	}
}

func TestResubmit_SelectsByUserWithoutGroup(t *testing.T) {
	ctx := context.Background()
	f := setup(t, []domain.JobStatus{
		domain.Failed, domain.Succeeded, domain.Succeeded, domain.Succeeded,
	})

	r := resubmit.New(f.store, f.reg, nil, logger())

	result := try.To(r.Resubmit(ctx, resubmit.Request{User: "ada"}, nil)).OrFatal(t)
	if len(result.Submitted) != 1 {
		t.Errorf("submitted %d, want 1", len(result.Submitted))
	}

	t.Run("neither group nor user is an error", func(t *testing.T) {
		if _, err := r.Resubmit(ctx, resubmit.Request{}, nil); err == nil {
			t.Error("expected an error")
		}
	})

	t.Run("an unknown group is an error", func(t *testing.T) {
		if _, err := r.Resubmit(ctx, resubmit.Request{XGroup: "no-such-group"}, nil); err == nil {
			t.Error("expected an error")
		}
	})
}

func TestResubmit_BrokenRebuildPoisonsOnlyItsJobs(t *testing.T) {
	ctx := context.Background()
	f := setup(t, []domain.JobStatus{
		domain.Failed, domain.Failed, domain.Failed, domain.Failed,
	})

	builder := resubmit.BuilderFunc(func(context.Context, *domain.ContainerSpec) (string, error) {
		return ":::not-an-image-ref:::", nil
	})

	r := resubmit.New(f.store, f.reg, builder, logger())
	result := try.To(r.Resubmit(ctx, resubmit.Request{XGroup: "quadratic"}, nil)).OrFatal(t)

	// all four share the poisoned container
	if len(result.Submitted) != 0 || len(result.FailedJobs) != 4 {
		t.Errorf("submitted %d, failed %d; want 0, 4", len(result.Submitted), len(result.FailedJobs))
	}
	if len(f.backend.Calls.Submit) != 0 {
		t.Error("nothing should have reached the platform")
	}
}
