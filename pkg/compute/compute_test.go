package compute_test

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/google/caliban-sub000/pkg/compute"
	"github.com/google/caliban-sub000/pkg/compute/mock"
	"github.com/google/caliban-sub000/pkg/domain"
	"github.com/google/caliban-sub000/pkg/history"
	"github.com/google/caliban-sub000/pkg/history/memstore"
	"github.com/google/caliban-sub000/pkg/utils/try"
)

func logger() *log.Logger {
	return log.New(io.Discard, "", log.LstdFlags)
}

// seedJob records one sweep and returns its job with a TEST-platform
// spec, ready to submit.
func seedJob(t *testing.T, ctx context.Context, store history.Storage) (*domain.Job, *domain.JobSpec) {
	t.Helper()

	experiments := try.To(store.CreateExperiment(ctx, history.NewExperiment{
		XGroup:  "reconcile-test",
		Build:   domain.BuildSpec{BaseImage: "gcr.io/example/base:latest"},
		Configs: []map[string]any{{"lr": 0.1}},
		User:    "ada",
	})).OrFatal(t)

	jobs := try.To(history.JobsOfExperiment(ctx, store, experiments[0].Id)).OrFatal(t)
	spec := domain.NewJobSpec(experiments[0].Id, domain.Test, map[string]any{"command": "noop"})
	return jobs[0], spec
}

func TestSubmitJob(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(logger())
	defer store.Close()

	job, spec := seedJob(t, ctx, store)

	backend := mock.New(t, domain.Test)
	backend.Impl.Submit = func(_ context.Context, j *domain.Job, s *domain.JobSpec) (*domain.Run, error) {
		return domain.NewRun(j, s, domain.Submitted, map[string]any{"remote_id": "r-1"}, time.Now()), nil
	}
	reg := compute.NewRegistry(backend)

	run := try.To(compute.SubmitJob(ctx, store, reg, job, spec)).OrFatal(t)

	if run.JobId != job.Id || run.Platform != domain.Test {
		t.Errorf("unexpected run: %+v", run)
	}

	// both the spec and the run must be in the store afterwards
	if _, ok, _ := history.GetJobSpec(ctx, store, spec.Id); !ok {
		t.Error("job spec was not persisted")
	}
	if _, ok, _ := history.GetRun(ctx, store, run.Id); !ok {
		t.Error("run was not persisted")
	}

	t.Run("a platform without a backend is an error", func(t *testing.T) {
		caipSpec := domain.NewJobSpec(job.ExperimentId, domain.CAIP, map[string]any{})
		if _, err := compute.SubmitJob(ctx, store, reg, job, caipSpec); err == nil {
			t.Error("expected an error")
		}
	})
}

func TestUpdateJobStatus(t *testing.T) {
	ctx := context.Background()

	newRun := func(t *testing.T, store history.Storage, status domain.JobStatus) *domain.Run {
		t.Helper()
		job, spec := seedJob(t, ctx, store)
		spec = try.To(store.CreateJobSpec(ctx, spec)).OrFatal(t)
		run := domain.NewRun(job, spec, status, nil, time.Now())
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatal(err)
		}
		return run
	}

	t.Run("terminal runs are not polled", func(t *testing.T) {
		store := memstore.New(logger())
		defer store.Close()
		run := newRun(t, store, domain.Succeeded)

		backend := mock.New(t, domain.Test) // any call would fail the test
		reg := compute.NewRegistry(backend)

		got := try.To(compute.UpdateJobStatus(ctx, store, reg, run, logger())).OrFatal(t)
		if got.Status != domain.Succeeded {
			t.Errorf("status = %s", got.Status)
		}
		if len(backend.Calls.Status) != 0 {
			t.Error("terminal run was polled")
		}
	})

	t.Run("a refreshed status is persisted", func(t *testing.T) {
		store := memstore.New(logger())
		defer store.Close()
		run := newRun(t, store, domain.Submitted)

		backend := mock.New(t, domain.Test)
		backend.Impl.Status = func(context.Context, *domain.Run) (domain.JobStatus, error) {
			return domain.Running, nil
		}
		reg := compute.NewRegistry(backend)

		got := try.To(compute.UpdateJobStatus(ctx, store, reg, run, logger())).OrFatal(t)
		if got.Status != domain.Running {
			t.Errorf("status = %s, want RUNNING", got.Status)
		}

		stored, _, _ := history.GetRun(ctx, store, run.Id)
		if stored.Status != domain.Running {
			t.Errorf("stored status = %s, want RUNNING", stored.Status)
		}
	})

	t.Run("poll failures degrade to UNKNOWN without erroring", func(t *testing.T) {
		store := memstore.New(logger())
		defer store.Close()
		run := newRun(t, store, domain.Running)

		backend := mock.New(t, domain.Test)
		backend.Impl.Status = func(context.Context, *domain.Run) (domain.JobStatus, error) {
			return "", errors.New("the platform is down")
		}
		reg := compute.NewRegistry(backend)

		got := try.To(compute.UpdateJobStatus(ctx, store, reg, run, logger())).OrFatal(t)
		if got.Status != domain.Unknown {
			t.Errorf("status = %s, want UNKNOWN", got.Status)
		}
		// UNKNOWN is re-pollable, not terminal
		if got.Status.Terminal() {
			t.Error("UNKNOWN must stay non-terminal")
		}
	})

	t.Run("an unchanged status writes nothing", func(t *testing.T) {
		store := memstore.New(logger())
		defer store.Close()
		run := newRun(t, store, domain.Running)

		backend := mock.New(t, domain.Test)
		backend.Impl.Status = func(context.Context, *domain.Run) (domain.JobStatus, error) {
			return domain.Running, nil
		}
		reg := compute.NewRegistry(backend)

		got := try.To(compute.UpdateJobStatus(ctx, store, reg, run, logger())).OrFatal(t)
		if got != run {
			t.Error("the same run value should come back untouched")
		}
	})
}

func TestStopRun(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(logger())
	defer store.Close()

	job, spec := seedJob(t, ctx, store)
	spec = try.To(store.CreateJobSpec(ctx, spec)).OrFatal(t)
	run := domain.NewRun(job, spec, domain.Running, nil, time.Now())
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	backend := mock.New(t, domain.Test)
	backend.Impl.Stop = func(context.Context, *domain.Run) error { return nil }
	reg := compute.NewRegistry(backend)

	stopped := try.To(compute.StopRun(ctx, store, reg, run)).OrFatal(t)
	if stopped.Status != domain.Stopped {
		t.Errorf("status = %s, want STOPPED", stopped.Status)
	}
	if len(backend.Calls.Stop) != 1 {
		t.Errorf("backend stopped %d times, want 1", len(backend.Calls.Stop))
	}

	t.Run("stopping a terminal run is a no-op", func(t *testing.T) {
		again := try.To(compute.StopRun(ctx, store, reg, stopped)).OrFatal(t)
		if again.Status != domain.Stopped {
			t.Errorf("status = %s", again.Status)
		}
		if len(backend.Calls.Stop) != 1 {
			t.Error("terminal run reached the platform")
		}
	})
}

func TestCloneRun(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(logger())
	defer store.Close()

	job, spec := seedJob(t, ctx, store)
	spec = try.To(store.CreateJobSpec(ctx, spec)).OrFatal(t)
	failed := domain.NewRun(job, spec, domain.Failed, nil, time.Now())
	if err := store.CreateRun(ctx, failed); err != nil {
		t.Fatal(err)
	}

	backend := mock.New(t, domain.Test)
	backend.Impl.Submit = func(_ context.Context, j *domain.Job, s *domain.JobSpec) (*domain.Run, error) {
		return domain.NewRun(j, s, domain.Submitted, nil, time.Now()), nil
	}
	reg := compute.NewRegistry(backend)

	fresh := try.To(compute.CloneRun(ctx, store, reg, failed)).OrFatal(t)

	if fresh.Id == failed.Id {
		t.Error("clone must be a brand-new run")
	}
	if fresh.JobId != failed.JobId || fresh.SpecId != failed.SpecId {
		t.Errorf("clone drifted: %+v", fresh)
	}

	// the original record is untouched
	original, _, _ := history.GetRun(ctx, store, failed.Id)
	if original.Status != domain.Failed {
		t.Errorf("original status = %s, want FAILED", original.Status)
	}

	runs := try.To(history.RunsOfJob(ctx, store, job.Id)).OrFatal(t)
	if len(runs) != 2 {
		t.Errorf("got %d runs, want 2", len(runs))
	}
}
