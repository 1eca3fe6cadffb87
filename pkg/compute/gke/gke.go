// Package gke is the GKE platform: experiments run as batch/v1 Jobs on
// a Kubernetes cluster.
package gke

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	kubebatch "k8s.io/api/batch/v1"
	kubecore "k8s.io/api/core/v1"
	kubeerr "k8s.io/apimachinery/pkg/api/errors"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/google/caliban-sub000/pkg/compute"
	"github.com/google/caliban-sub000/pkg/domain"
)

// K8sClient is the subset of cluster operations this backend needs.
//
// When you need more methods of the clientset, declare them.
type K8sClient interface {
	GetJob(ctx context.Context, namespace string, name string) (*kubebatch.Job, error)
	CreateJob(ctx context.Context, namespace string, job *kubebatch.Job) (*kubebatch.Job, error)
	DeleteJob(ctx context.Context, namespace string, name string) error
}

type k8sClient struct {
	client kubernetes.Interface
}

var _ K8sClient = &k8sClient{}

func WrapClientset(client kubernetes.Interface) K8sClient {
	return &k8sClient{client: client}
}

// ConnectCluster builds a client from a kubeconfig file (empty path
// falls through to the default loading rules).
func ConnectCluster(kubeconfigPath string) (K8sClient, error) {
	config, err := clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("load kubeconfig: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("connect cluster: %w", err)
	}
	return WrapClientset(clientset), nil
}

func (k *k8sClient) GetJob(ctx context.Context, namespace string, name string) (*kubebatch.Job, error) {
	return k.client.BatchV1().Jobs(namespace).Get(ctx, name, kubeapimeta.GetOptions{})
}

func (k *k8sClient) CreateJob(ctx context.Context, namespace string, job *kubebatch.Job) (*kubebatch.Job, error) {
	return k.client.BatchV1().Jobs(namespace).Create(ctx, job, kubeapimeta.CreateOptions{})
}

func (k *k8sClient) DeleteJob(ctx context.Context, namespace string, name string) error {
	foreground := kubeapimeta.DeletePropagationForeground
	return k.client.BatchV1().Jobs(namespace).Delete(ctx, name, kubeapimeta.DeleteOptions{
		PropagationPolicy: &foreground,
	})
}

type Compute struct {
	client    K8sClient
	namespace string
	logger    *log.Logger
	now       func() time.Time
}

var _ compute.Compute = &Compute{}

func New(client K8sClient, namespace string, logger *log.Logger) *Compute {
	return &Compute{client: client, namespace: namespace, logger: logger, now: time.Now}
}

func (c *Compute) Platform() domain.Platform {
	return domain.GKE
}

// Submit creates the batch Job held in the spec payload. The cluster
// object name lands in Run.Details under "job_name".
func (c *Compute) Submit(ctx context.Context, job *domain.Job, spec *domain.JobSpec) (*domain.Run, error) {
	kjob, err := decodeJob(spec.Spec)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", job.Name, err)
	}
	if kjob.Name == "" {
		kjob.Name = objectName(job.Name, c.now())
	}

	created, err := c.client.CreateJob(ctx, c.namespace, kjob)
	if err != nil {
		return nil, fmt.Errorf("create batch job %s: %w", kjob.Name, err)
	}

	details := map[string]any{
		"job_name":  created.Name,
		"namespace": c.namespace,
	}
	return domain.NewRun(job, spec, deriveStatus(&created.Status), details, c.now()), nil
}

func (c *Compute) Status(ctx context.Context, run *domain.Run) (domain.JobStatus, error) {
	name, err := objectNameOf(run)
	if err != nil {
		return "", err
	}

	kjob, err := c.client.GetJob(ctx, c.namespace, name)
	if kubeerr.IsNotFound(err) {
		return domain.Unavailable, nil
	}
	if err != nil {
		return "", fmt.Errorf("get batch job %s: %w", name, err)
	}
	return deriveStatus(&kjob.Status), nil
}

func (c *Compute) Stop(ctx context.Context, run *domain.Run) error {
	name, err := objectNameOf(run)
	if err != nil {
		return err
	}
	err = c.client.DeleteJob(ctx, c.namespace, name)
	if kubeerr.IsNotFound(err) {
		// already gone
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete batch job %s: %w", name, err)
	}
	return nil
}

// deriveStatus folds the batch JobStatus onto the canonical taxonomy.
//
// Terminal outcomes come from the Job's conditions, not the pod
// counters: status.Failed counts pod failures, which is non-zero
// between backoff retries while the Job is still progressing. Only a
// true Failed/Complete condition ends the run.
func deriveStatus(status *kubebatch.JobStatus) domain.JobStatus {
	if status == nil {
		return domain.Unknown
	}
	for _, cond := range status.Conditions {
		if cond.Status != kubecore.ConditionTrue {
			continue
		}
		switch cond.Type {
		case kubebatch.JobFailed:
			return domain.Failed
		case kubebatch.JobComplete:
			return domain.Succeeded
		}
	}
	if status.Active > 0 {
		return domain.Running
	}
	return domain.Submitted
}

func decodeJob(spec map[string]any) (*kubebatch.Job, error) {
	raw, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("encode batch job payload: %w", err)
	}
	kjob := &kubebatch.Job{}
	if err := json.Unmarshal(raw, kjob); err != nil {
		return nil, fmt.Errorf("decode batch job payload: %w", err)
	}
	return kjob, nil
}

func objectNameOf(run *domain.Run) (string, error) {
	name, ok := run.Details["job_name"].(string)
	if !ok || name == "" {
		return "", fmt.Errorf("run %s carries no batch job name", run.Id)
	}
	return name, nil
}

var nameIllegal = regexp.MustCompile(`[^-a-z0-9]`)

// objectName derives a DNS-1123 compliant, collision-resistant object
// name from the job name.
func objectName(name string, now time.Time) string {
	stem := nameIllegal.ReplaceAllString(strings.ToLower(name), "-")
	stem = strings.Trim(stem, "-")
	if len(stem) > 40 {
		stem = stem[:40]
	}
	return fmt.Sprintf("%s-%d", stem, now.Unix())
}
