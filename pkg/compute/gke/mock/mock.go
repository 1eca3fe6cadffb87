package mock

import (
	"context"
	"testing"

	kubebatch "k8s.io/api/batch/v1"

	"github.com/google/caliban-sub000/pkg/compute/gke"
)

// K8sClient fakes the cluster. Set Impl for the calls the test expects.
type K8sClient struct {
	t *testing.T

	Impl struct {
		GetJob    func(ctx context.Context, namespace string, name string) (*kubebatch.Job, error)
		CreateJob func(ctx context.Context, namespace string, job *kubebatch.Job) (*kubebatch.Job, error)
		DeleteJob func(ctx context.Context, namespace string, name string) error
	}

	Called struct {
		GetJob    uint64
		CreateJob uint64
		DeleteJob uint64
	}
}

var _ gke.K8sClient = &K8sClient{}

func New(t *testing.T) *K8sClient {
	return &K8sClient{t: t}
}

func (m *K8sClient) GetJob(ctx context.Context, namespace string, name string) (*kubebatch.Job, error) {
	m.t.Helper()
	if m.Impl.GetJob == nil {
		m.t.Fatal("unexpected call: GetJob")
	}
	m.Called.GetJob += 1
	return m.Impl.GetJob(ctx, namespace, name)
}

func (m *K8sClient) CreateJob(ctx context.Context, namespace string, job *kubebatch.Job) (*kubebatch.Job, error) {
	m.t.Helper()
	if m.Impl.CreateJob == nil {
		m.t.Fatal("unexpected call: CreateJob")
	}
	m.Called.CreateJob += 1
	return m.Impl.CreateJob(ctx, namespace, job)
}

func (m *K8sClient) DeleteJob(ctx context.Context, namespace string, name string) error {
	m.t.Helper()
	if m.Impl.DeleteJob == nil {
		m.t.Fatal("unexpected call: DeleteJob")
	}
	m.Called.DeleteJob += 1
	return m.Impl.DeleteJob(ctx, namespace, name)
}
