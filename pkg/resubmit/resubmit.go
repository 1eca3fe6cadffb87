// Package resubmit re-executes failed experiment jobs across platforms.
//
// Candidate selection walks the history store, container images are
// rebuilt at most once per ContainerSpec, and submissions run
// sequentially per platform so one broken platform cannot take the
// others down with it.
package resubmit

import (
	"context"
	"fmt"
	"log"

	"github.com/google/go-containerregistry/pkg/name"

	"github.com/google/caliban-sub000/pkg/compute"
	"github.com/google/caliban-sub000/pkg/domain"
	"github.com/google/caliban-sub000/pkg/history"
)

// Builder rebuilds the container behind an experiment and returns the
// pushed image reference.
type Builder interface {
	Build(ctx context.Context, spec *domain.ContainerSpec) (string, error)
}

// BuilderFunc adapts a function as a Builder.
type BuilderFunc func(ctx context.Context, spec *domain.ContainerSpec) (string, error)

func (f BuilderFunc) Build(ctx context.Context, spec *domain.ContainerSpec) (string, error) {
	return f(ctx, spec)
}

// Request selects the jobs to resubmit.
type Request struct {
	// name of the experiment group. Empty selects across groups by
	// user instead.
	XGroup string

	// owner of the jobs considered when XGroup is empty.
	User string

	// cap on the number of jobs resubmitted (0 = no cap).
	MaxJobs int

	// resubmit every job with a run, not only FAILED/STOPPED ones.
	AllJobs bool
}

// OnItem is called after each submission attempt, successful or not.
type OnItem func(job *domain.Job, run *domain.Run, err error)

// Result tallies one resubmission sweep.
type Result struct {
	Submitted  []*domain.Run
	FailedJobs []string
}

type Resubmitter struct {
	store   history.Storage
	reg     *compute.Registry
	builder Builder
	logger  *log.Logger
}

func New(store history.Storage, reg *compute.Registry, builder Builder, logger *log.Logger) *Resubmitter {
	return &Resubmitter{store: store, reg: reg, builder: builder, logger: logger}
}

type candidate struct {
	job      *domain.Job
	spec     *domain.JobSpec
	platform domain.Platform
}

// Resubmit runs one sweep. onItem may be nil.
func (r *Resubmitter) Resubmit(ctx context.Context, req Request, onItem OnItem) (*Result, error) {
	if onItem == nil {
		onItem = func(*domain.Job, *domain.Run, error) {}
	}

	candidates, err := r.selectCandidates(ctx, req)
	if err != nil {
		return nil, err
	}

	images, broken, err := r.rebuildContainers(ctx, candidates)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	// platform by platform; a failure on one platform is logged and
	// the sweep moves on to the next
	for _, platform := range domain.Platforms() {
		for _, c := range candidates {
			if c.platform != platform {
				continue
			}

			run, err := r.resubmitOne(ctx, c, images, broken)
			onItem(c.job, run, err)
			if err != nil {
				r.logger.Printf("resubmitting job %s on %s failed: %s", c.job.Name, platform, err)
				result.FailedJobs = append(result.FailedJobs, c.job.Id)
				continue
			}
			result.Submitted = append(result.Submitted, run)
		}
	}

	r.logger.Printf(
		"resubmission sweep done: %d submitted, %d failed",
		len(result.Submitted), len(result.FailedJobs),
	)
	return result, nil
}

// selectCandidates picks, per experiment, the newest job whose latest
// run qualifies.
func (r *Resubmitter) selectCandidates(ctx context.Context, req Request) ([]candidate, error) {
	jobs, err := r.selectJobs(ctx, req)
	if err != nil {
		return nil, err
	}

	candidates := []candidate{}
	for _, job := range jobs {
		runs, err := history.RunsOfJob(ctx, r.store, job.Id)
		if err != nil {
			return nil, err
		}
		latest := history.LatestRun(runs)
		if latest == nil {
			// never submitted anywhere; nothing to re-do
			continue
		}
		if !req.AllJobs && latest.Status != domain.Failed && latest.Status != domain.Stopped {
			continue
		}

		spec, ok, err := history.GetJobSpec(ctx, r.store, latest.SpecId)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: job spec %s of run %s", history.ErrMissing, latest.SpecId, latest.Id)
		}

		candidates = append(candidates, candidate{job: job, spec: spec, platform: latest.Platform})
		if req.MaxJobs > 0 && len(candidates) >= req.MaxJobs {
			break
		}
	}
	return candidates, nil
}

func (r *Resubmitter) selectJobs(ctx context.Context, req Request) ([]*domain.Job, error) {
	if req.XGroup != "" {
		group, ok, err := history.FindGroupByName(ctx, r.store, req.XGroup)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: experiment group %s", history.ErrMissing, req.XGroup)
		}

		experiments, err := history.ExperimentsInGroup(ctx, r.store, group.Id)
		if err != nil {
			return nil, err
		}
		jobs := []*domain.Job{}
		for _, exp := range experiments {
			expJobs, err := history.JobsOfExperiment(ctx, r.store, exp.Id)
			if err != nil {
				return nil, err
			}
			if len(expJobs) > 0 {
				// newest first; one job per experiment
				jobs = append(jobs, expJobs[0])
			}
		}
		return jobs, nil
	}

	if req.User == "" {
		return nil, fmt.Errorf("resubmit: either an xgroup or a user is required")
	}
	return history.RecentJobsOfUser(ctx, r.store, req.User, req.MaxJobs)
}

// rebuildContainers builds each distinct ContainerSpec once. A failed
// build poisons only the candidates depending on it.
func (r *Resubmitter) rebuildContainers(ctx context.Context, candidates []candidate) (map[string]string, map[string]error, error) {
	images := map[string]string{}
	broken := map[string]error{}
	if r.builder == nil {
		return images, broken, nil
	}

	for _, c := range candidates {
		exp, ok, err := history.GetExperiment(ctx, r.store, c.job.ExperimentId)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, nil, fmt.Errorf("%w: experiment %s of job %s", history.ErrMissing, c.job.ExperimentId, c.job.Id)
		}

		containerId := exp.ContainerSpecId
		if _, done := images[containerId]; done {
			continue
		}
		if _, done := broken[containerId]; done {
			continue
		}

		container, ok, err := history.GetContainerSpec(ctx, r.store, containerId)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, nil, fmt.Errorf("%w: container spec %s", history.ErrMissing, containerId)
		}

		image, err := r.builder.Build(ctx, container)
		if err != nil {
			r.logger.Printf("rebuilding container %s failed: %s", containerId, err)
			broken[containerId] = err
			continue
		}
		if _, err := name.ParseReference(image); err != nil {
			r.logger.Printf("container %s rebuilt to invalid reference %s: %s", containerId, image, err)
			broken[containerId] = err
			continue
		}
		images[containerId] = image
	}
	return images, broken, nil
}

func (r *Resubmitter) resubmitOne(
	ctx context.Context,
	c candidate,
	images map[string]string,
	broken map[string]error,
) (*domain.Run, error) {
	exp, ok, err := history.GetExperiment(ctx, r.store, c.job.ExperimentId)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: experiment %s", history.ErrMissing, c.job.ExperimentId)
	}

	if err, poisoned := broken[exp.ContainerSpecId]; poisoned {
		return nil, fmt.Errorf("container rebuild failed: %w", err)
	}

	spec := c.spec
	if image, rebuilt := images[exp.ContainerSpecId]; rebuilt {
		spec = domain.NewJobSpec(c.spec.ExperimentId, c.spec.Platform, rewriteImage(c.spec.Spec, image))
	}
	return compute.SubmitJob(ctx, r.store, r.reg, c.job, spec)
}

// rewriteImage deep-copies the payload, pointing every image reference
// field at the rebuilt image. Both the k8s ("image") and training-API
// ("imageUri") spellings are covered.
func rewriteImage(spec map[string]any, image string) map[string]any {
	out, _ := rewriteValue(spec, image).(map[string]any)
	return out
}

func rewriteValue(v any, image string) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			if (k == "image" || k == "imageUri") && isString(e) {
				out[k] = image
				continue
			}
			out[k] = rewriteValue(e, image)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = rewriteValue(e, image)
		}
		return out
	default:
		return v
	}
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}
