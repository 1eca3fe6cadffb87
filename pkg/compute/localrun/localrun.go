// Package localrun is the LOCAL platform.
//
// Local jobs execute synchronously in the submitting process, so a Run
// is already terminal when Submit returns and reconciliation never has
// anything to poll.
package localrun

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/caliban-sub000/pkg/compute"
	"github.com/google/caliban-sub000/pkg/domain"
)

// Runner executes the job and reports how it ended. The returned
// details blob is attached to the Run.
type Runner func(ctx context.Context, job *domain.Job, spec *domain.JobSpec) (domain.JobStatus, map[string]any, error)

type Compute struct {
	run    Runner
	logger *log.Logger
}

var _ compute.Compute = &Compute{}

func New(run Runner, logger *log.Logger) *Compute {
	return &Compute{run: run, logger: logger}
}

func (c *Compute) Platform() domain.Platform {
	return domain.Local
}

func (c *Compute) Submit(ctx context.Context, job *domain.Job, spec *domain.JobSpec) (*domain.Run, error) {
	status, details, err := c.run(ctx, job, spec)
	if err != nil {
		return nil, fmt.Errorf("local job %s: %w", job.Name, err)
	}
	if !status.Terminal() {
		return nil, fmt.Errorf("local job %s ended in non-terminal status %s", job.Name, status)
	}
	c.logger.Printf("local job %s finished: %s", job.Name, status)
	return domain.NewRun(job, spec, status, details, time.Now()), nil
}

// Status returns the cached value; a local run never changes after
// submission.
func (c *Compute) Status(ctx context.Context, run *domain.Run) (domain.JobStatus, error) {
	return run.Status, nil
}

func (c *Compute) Stop(ctx context.Context, run *domain.Run) error {
	// nothing is running anymore by the time a local Run exists
	return nil
}
