package gke_test

import (
	"context"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	kubebatch "k8s.io/api/batch/v1"
	kubecore "k8s.io/api/core/v1"
	kubeerr "k8s.io/apimachinery/pkg/api/errors"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/google/caliban-sub000/pkg/compute/gke"
	"github.com/google/caliban-sub000/pkg/compute/gke/mock"
	"github.com/google/caliban-sub000/pkg/domain"
	"github.com/google/caliban-sub000/pkg/utils/pointer"
	"github.com/google/caliban-sub000/pkg/utils/try"
)

func logger() *log.Logger {
	return log.New(io.Discard, "", log.LstdFlags)
}

func notFound(name string) error {
	return kubeerr.NewNotFound(
		schema.GroupResource{Group: "batch", Resource: "jobs"}, name,
	)
}

func testJob(t *testing.T) (*domain.Job, *domain.JobSpec) {
	t.Helper()
	now := try.To(time.Parse(time.RFC3339, "2025-05-01T12:00:00+00:00")).OrFatal(t)
	group := domain.NewExperimentGroup("Mnist Sweep", "ada", now)
	container := domain.NewContainerSpec("ada", domain.BuildSpec{BaseImage: "img"})
	exp := domain.NewExperiment(group, container, nil, map[string]any{"lr": 0.1}, "ada", now)
	job := domain.NewJob("Mnist Sweep-train-1", exp, now)
	spec := domain.NewJobSpec(exp.Id, domain.GKE, map[string]any{
		"spec": map[string]any{
			"template": map[string]any{
				"spec": map[string]any{
					"restartPolicy": "Never",
					"containers": []any{
						map[string]any{"name": "main", "image": "gcr.io/example/built:abc"},
					},
				},
			},
		},
	})
	return job, spec
}

func runWith(t *testing.T, details map[string]any) *domain.Run {
	t.Helper()
	job, spec := testJob(t)
	return domain.NewRun(job, spec, domain.Running, details, time.Now())
}

func TestCompute_Submit(t *testing.T) {
	ctx := context.Background()
	client := mock.New(t)

	var created *kubebatch.Job
	client.Impl.CreateJob = func(_ context.Context, namespace string, kjob *kubebatch.Job) (*kubebatch.Job, error) {
		if namespace != "experiments" {
			t.Errorf("namespace = %s", namespace)
		}
		created = kjob
		return kjob, nil
	}

	backend := gke.New(client, "experiments", logger())
	job, spec := testJob(t)

	run := try.To(backend.Submit(ctx, job, spec)).OrFatal(t)

	if created == nil {
		t.Fatal("no job reached the cluster")
	}
	if got := created.Spec.Template.Spec.Containers; len(got) != 1 || got[0].Image != "gcr.io/example/built:abc" {
		t.Errorf("payload lost in decoding: %+v", got)
	}
	// DNS-1123: lowercase, no spaces
	if created.Name != strings.ToLower(created.Name) || strings.Contains(created.Name, " ") {
		t.Errorf("object name %s is not DNS-1123 compliant", created.Name)
	}
	if run.Details["job_name"] != created.Name {
		t.Errorf("details = %v", run.Details)
	}
	if run.Status != domain.Submitted {
		t.Errorf("status = %s, want SUBMITTED", run.Status)
	}
}

func TestCompute_StatusDerivation(t *testing.T) {
	ctx := context.Background()

	for name, testcase := range map[string]struct {
		status kubebatch.JobStatus
		want   domain.JobStatus
	}{
		"a true Complete condition is SUCCEEDED": {
			status: kubebatch.JobStatus{
				CompletionTime: pointer.Ref(kubeapimeta.Now()),
				Succeeded:      1,
				Conditions: []kubebatch.JobCondition{
					{Type: kubebatch.JobComplete, Status: kubecore.ConditionTrue},
				},
			},
			want: domain.Succeeded,
		},
		"a true Failed condition is FAILED": {
			status: kubebatch.JobStatus{
				Failed: 3,
				Conditions: []kubebatch.JobCondition{
					{Type: kubebatch.JobFailed, Status: kubecore.ConditionTrue},
				},
			},
			want: domain.Failed,
		},
		"active pods mean RUNNING": {
			status: kubebatch.JobStatus{Active: 2},
			want:   domain.Running,
		},
		"no activity yet is SUBMITTED": {
			status: kubebatch.JobStatus{},
			want:   domain.Submitted,
		},
		"pod failures between backoff retries are not terminal": {
			status: kubebatch.JobStatus{Active: 1, Failed: 2},
			want:   domain.Running,
		},
		"pod failures without a Failed condition stay SUBMITTED": {
			status: kubebatch.JobStatus{Failed: 1},
			want:   domain.Submitted,
		},
		"a false Failed condition is ignored": {
			status: kubebatch.JobStatus{
				Active: 1,
				Conditions: []kubebatch.JobCondition{
					{Type: kubebatch.JobFailed, Status: kubecore.ConditionFalse},
				},
			},
			want: domain.Running,
		},
	} {
		t.Run(name, func(t *testing.T) {
			client := mock.New(t)
			client.Impl.GetJob = func(_ context.Context, _ string, jobName string) (*kubebatch.Job, error) {
				return &kubebatch.Job{Status: testcase.status}, nil
			}
			backend := gke.New(client, "experiments", logger())

			run := runWith(t, map[string]any{"job_name": "mnist-1", "namespace": "experiments"})
			got := try.To(backend.Status(ctx, run)).OrFatal(t)
			if got != testcase.want {
				t.Errorf("got %s, want %s", got, testcase.want)
			}
		})
	}

	t.Run("a deleted job is UNAVAILABLE", func(t *testing.T) {
		client := mock.New(t)
		client.Impl.GetJob = func(_ context.Context, _ string, jobName string) (*kubebatch.Job, error) {
			return nil, notFound(jobName)
		}
		backend := gke.New(client, "experiments", logger())

		run := runWith(t, map[string]any{"job_name": "mnist-1"})
		got := try.To(backend.Status(ctx, run)).OrFatal(t)
		if got != domain.Unavailable {
			t.Errorf("got %s, want UNAVAILABLE", got)
		}
	})

	t.Run("a run without a job name is an error", func(t *testing.T) {
		backend := gke.New(mock.New(t), "experiments", logger())
		if _, err := backend.Status(ctx, runWith(t, nil)); err == nil {
			t.Error("expected an error")
		}
	})
}

func TestCompute_Stop(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes the batch job", func(t *testing.T) {
		client := mock.New(t)
		client.Impl.DeleteJob = func(_ context.Context, namespace string, name string) error {
			if namespace != "experiments" || name != "mnist-1" {
				t.Errorf("deleted %s/%s", namespace, name)
			}
			return nil
		}
		backend := gke.New(client, "experiments", logger())

		run := runWith(t, map[string]any{"job_name": "mnist-1"})
		if err := backend.Stop(ctx, run); err != nil {
			t.Fatal(err)
		}
		if client.Called.DeleteJob != 1 {
			t.Errorf("DeleteJob called %d times", client.Called.DeleteJob)
		}
	})

	t.Run("an already-deleted job is fine", func(t *testing.T) {
		client := mock.New(t)
		client.Impl.DeleteJob = func(_ context.Context, _ string, name string) error {
			return notFound(name)
		}
		backend := gke.New(client, "experiments", logger())

		run := runWith(t, map[string]any{"job_name": "mnist-1"})
		if err := backend.Stop(ctx, run); err != nil {
			t.Error(err)
		}
	})
}
