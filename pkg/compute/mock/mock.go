package mock

import (
	"context"
	"testing"

	"github.com/google/caliban-sub000/pkg/compute"
	"github.com/google/caliban-sub000/pkg/domain"
)

// Compute is a hand-written test double. Set Impl for the methods the
// test expects; calling anything else fails the test.
type Compute struct {
	t *testing.T

	PlatformValue domain.Platform

	Impl struct {
		Submit func(ctx context.Context, job *domain.Job, spec *domain.JobSpec) (*domain.Run, error)
		Status func(ctx context.Context, run *domain.Run) (domain.JobStatus, error)
		Stop   func(ctx context.Context, run *domain.Run) error
	}

	Calls struct {
		Submit []string // job ids
		Status []string // run ids
		Stop   []string // run ids
	}
}

var _ compute.Compute = &Compute{}

func New(t *testing.T, platform domain.Platform) *Compute {
	return &Compute{t: t, PlatformValue: platform}
}

func (m *Compute) Platform() domain.Platform {
	return m.PlatformValue
}

func (m *Compute) Submit(ctx context.Context, job *domain.Job, spec *domain.JobSpec) (*domain.Run, error) {
	m.t.Helper()
	if m.Impl.Submit == nil {
		m.t.Fatal("unexpected call: Submit")
	}
	m.Calls.Submit = append(m.Calls.Submit, job.Id)
	return m.Impl.Submit(ctx, job, spec)
}

func (m *Compute) Status(ctx context.Context, run *domain.Run) (domain.JobStatus, error) {
	m.t.Helper()
	if m.Impl.Status == nil {
		m.t.Fatal("unexpected call: Status")
	}
	m.Calls.Status = append(m.Calls.Status, run.Id)
	return m.Impl.Status(ctx, run)
}

func (m *Compute) Stop(ctx context.Context, run *domain.Run) error {
	m.t.Helper()
	if m.Impl.Stop == nil {
		m.t.Fatal("unexpected call: Stop")
	}
	m.Calls.Stop = append(m.Calls.Stop, run.Id)
	return m.Impl.Stop(ctx, run)
}
