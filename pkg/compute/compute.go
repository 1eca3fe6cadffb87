// Package compute defines the execution-platform contract and the run
// lifecycle operations shared by every backend.
package compute

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/caliban-sub000/pkg/domain"
	"github.com/google/caliban-sub000/pkg/history"
)

// ErrNoBackend: the registry has no Compute for the run's platform.
var ErrNoBackend = errors.New("no compute backend for platform")

// Compute is one execution platform.
//
// Submit materializes a brand-new Run for the job; it never reuses or
// rewrites an existing one. Status reads the platform's view without
// touching the store.
type Compute interface {
	Platform() domain.Platform
	Submit(ctx context.Context, job *domain.Job, spec *domain.JobSpec) (*domain.Run, error)
	Status(ctx context.Context, run *domain.Run) (domain.JobStatus, error)
	Stop(ctx context.Context, run *domain.Run) error
}

// Registry maps platforms to their backends. An explicit handle built
// at process start; there is no global registry.
type Registry struct {
	backends map[domain.Platform]Compute
}

func NewRegistry(backends ...Compute) *Registry {
	r := &Registry{backends: map[domain.Platform]Compute{}}
	for _, b := range backends {
		r.backends[b.Platform()] = b
	}
	return r
}

func (r *Registry) For(platform domain.Platform) (Compute, bool) {
	b, ok := r.backends[platform]
	return b, ok
}

func (r *Registry) Platforms() []domain.Platform {
	platforms := []domain.Platform{}
	for _, p := range domain.Platforms() {
		if _, ok := r.backends[p]; ok {
			platforms = append(platforms, p)
		}
	}
	return platforms
}

// SubmitJob persists the spec, submits the job to its platform and
// records the resulting Run.
func SubmitJob(
	ctx context.Context,
	store history.Storage,
	reg *Registry,
	job *domain.Job,
	spec *domain.JobSpec,
) (*domain.Run, error) {
	backend, ok := reg.For(spec.Platform)
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrNoBackend, spec.Platform)
	}

	spec, err := store.CreateJobSpec(ctx, spec)
	if err != nil {
		return nil, err
	}
	run, err := backend.Submit(ctx, job, spec)
	if err != nil {
		return nil, fmt.Errorf("submit job %s to %s: %w", job.Name, spec.Platform, err)
	}
	if err := store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// UpdateJobStatus reconciles the cached status of a run with its
// platform.
//
// A terminal status is final: it returns immediately with no backend
// call. A failed poll degrades the status to UNKNOWN instead of
// erroring, so one broken platform never blocks a status sweep. The
// refreshed status is persisted before returning.
func UpdateJobStatus(
	ctx context.Context,
	store history.Storage,
	reg *Registry,
	run *domain.Run,
	logger *log.Logger,
) (*domain.Run, error) {
	if run.Status.Terminal() {
		return run, nil
	}

	backend, ok := reg.For(run.Platform)
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrNoBackend, run.Platform)
	}

	status, err := backend.Status(ctx, run)
	if err != nil {
		logger.Printf("polling run %s on %s failed: %s", run.Id, run.Platform, err)
		status = domain.Unknown
	}
	if status == run.Status {
		return run, nil
	}

	if err := store.SaveRunStatus(ctx, run.Id, status); err != nil {
		return nil, err
	}
	updated := *run
	updated.Status = status
	return &updated, nil
}

// CloneRun submits the run's job afresh on the same platform and
// records the new Run. The original run is left untouched.
func CloneRun(
	ctx context.Context,
	store history.Storage,
	reg *Registry,
	run *domain.Run,
) (*domain.Run, error) {
	job, ok, err := history.GetJob(ctx, store, run.JobId)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: job %s of run %s", history.ErrMissing, run.JobId, run.Id)
	}
	spec, ok, err := history.GetJobSpec(ctx, store, run.SpecId)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: job spec %s of run %s", history.ErrMissing, run.SpecId, run.Id)
	}
	return SubmitJob(ctx, store, reg, job, spec)
}

// StopRun cancels the run on its platform and marks it STOPPED.
// Terminal runs are left as they are.
func StopRun(
	ctx context.Context,
	store history.Storage,
	reg *Registry,
	run *domain.Run,
) (*domain.Run, error) {
	if run.Status.Terminal() {
		return run, nil
	}

	backend, ok := reg.For(run.Platform)
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrNoBackend, run.Platform)
	}
	if err := backend.Stop(ctx, run); err != nil {
		return nil, fmt.Errorf("stop run %s on %s: %w", run.Id, run.Platform, err)
	}
	if err := store.SaveRunStatus(ctx, run.Id, domain.Stopped); err != nil {
		return nil, err
	}
	stopped := *run
	stopped.Status = domain.Stopped
	return &stopped, nil
}
