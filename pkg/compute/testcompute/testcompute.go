// Package testcompute is the TEST platform: a compute backend with no
// machinery behind it, answering status polls at random.
//
// Every poll draws uniformly from the canonical taxonomy, so a
// reconciliation loop over this backend terminates with probability 1.
// Seed it for reproducible runs.
package testcompute

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/caliban-sub000/pkg/compute"
	"github.com/google/caliban-sub000/pkg/domain"
)

type Compute struct {
	mu  sync.Mutex
	rng *rand.Rand
}

var _ compute.Compute = &Compute{}

func New(seed int64) *Compute {
	return &Compute{rng: rand.New(rand.NewSource(seed))}
}

func (c *Compute) Platform() domain.Platform {
	return domain.Test
}

func (c *Compute) Submit(ctx context.Context, job *domain.Job, spec *domain.JobSpec) (*domain.Run, error) {
	return domain.NewRun(job, spec, domain.Submitted, nil, time.Now()), nil
}

func (c *Compute) Status(ctx context.Context, run *domain.Run) (domain.JobStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	statuses := domain.JobStatuses()
	return statuses[c.rng.Intn(len(statuses))], nil
}

func (c *Compute) Stop(ctx context.Context, run *domain.Run) error {
	return nil
}
