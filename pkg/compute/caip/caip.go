// Package caip is the CAIP platform: training jobs submitted, polled
// and cancelled over the REST API.
package caip

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"time"

	"github.com/google/caliban-sub000/pkg/compute"
	"github.com/google/caliban-sub000/pkg/domain"
	"github.com/google/caliban-sub000/pkg/utils/retry"
)

const DefaultEndpoint = "https://ml.googleapis.com/v1"

// ErrJobNotFound: the platform no longer knows the job id.
var ErrJobNotFound = errors.New("training job not found")

// TrainingJob is the subset of the API's job resource this client
// reads.
type TrainingJob struct {
	JobId        string `json:"jobId"`
	State        string `json:"state"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Client speaks to the training API for one project.
type Client struct {
	endpoint string
	project  string
	tokens   TokenSource
	http     *http.Client
	logger   *log.Logger

	// per-request retry budget for 429/5xx answers
	newBackoff func() retry.Backoff
}

type ClientOption func(*Client)

func WithEndpoint(endpoint string) ClientOption {
	return func(c *Client) { c.endpoint = endpoint }
}

func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

func WithBackoff(newBackoff func() retry.Backoff) ClientOption {
	return func(c *Client) { c.newBackoff = newBackoff }
}

func NewClient(project string, tokens TokenSource, logger *log.Logger, options ...ClientOption) *Client {
	c := &Client{
		endpoint: DefaultEndpoint,
		project:  project,
		tokens:   tokens,
		http:     http.DefaultClient,
		logger:   logger,
		newBackoff: func() retry.Backoff {
			return retry.Limited(3, retry.ExponentialBackoff(500*time.Millisecond, 2))
		},
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

func (c *Client) GetJob(ctx context.Context, jobId string) (*TrainingJob, error) {
	return c.call(ctx, http.MethodGet, fmt.Sprintf(
		"%s/projects/%s/jobs/%s", c.endpoint, c.project, jobId,
	), nil)
}

func (c *Client) SubmitJob(ctx context.Context, body map[string]any) (*TrainingJob, error) {
	return c.call(ctx, http.MethodPost, fmt.Sprintf(
		"%s/projects/%s/jobs", c.endpoint, c.project,
	), body)
}

func (c *Client) CancelJob(ctx context.Context, jobId string) error {
	_, err := c.call(ctx, http.MethodPost, fmt.Sprintf(
		"%s/projects/%s/jobs/%s:cancel", c.endpoint, c.project, jobId,
	), map[string]any{})
	return err
}

// call performs one API request, retrying transient answers within the
// backoff budget.
func (c *Client) call(ctx context.Context, method, url string, body map[string]any) (*TrainingJob, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	return retry.Blocking(ctx, c.newBackoff(), func() (*TrainingJob, error) {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("mint token: %w", err)
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", retry.ErrRetry, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			job := &TrainingJob{}
			if err := json.NewDecoder(resp.Body).Decode(job); err != nil {
				return nil, fmt.Errorf("decode response: %w", err)
			}
			return job, nil
		case resp.StatusCode == http.StatusNotFound:
			return nil, ErrJobNotFound
		case resp.StatusCode == http.StatusTooManyRequests || 500 <= resp.StatusCode:
			c.logger.Printf("training api answered %s for %s %s; retrying", resp.Status, method, url)
			return nil, fmt.Errorf("%w: %s", retry.ErrRetry, resp.Status)
		default:
			message, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return nil, fmt.Errorf("training api answered %s: %s", resp.Status, message)
		}
	})
}

// Compute adapts the client to the platform contract.
type Compute struct {
	client *Client
	logger *log.Logger
	now    func() time.Time
}

var _ compute.Compute = &Compute{}

func New(client *Client, logger *log.Logger) *Compute {
	return &Compute{client: client, logger: logger, now: time.Now}
}

func (c *Compute) Platform() domain.Platform {
	return domain.CAIP
}

// Submit posts the materialized spec as a training job. The remote job
// id lands in Run.Details under "job_id".
func (c *Compute) Submit(ctx context.Context, job *domain.Job, spec *domain.JobSpec) (*domain.Run, error) {
	jobId := remoteJobId(job.Name, c.now())

	body := map[string]any{"jobId": jobId}
	for k, v := range spec.Spec {
		if k != "jobId" {
			body[k] = v
		}
	}

	created, err := c.client.SubmitJob(ctx, body)
	if err != nil {
		return nil, err
	}

	status := mapState(created.State)
	if status == domain.Unknown {
		// freshly accepted jobs may answer an empty state
		status = domain.Submitted
	}
	return domain.NewRun(job, spec, status, map[string]any{"job_id": jobId}, c.now()), nil
}

func (c *Compute) Status(ctx context.Context, run *domain.Run) (domain.JobStatus, error) {
	jobId, err := remoteIdOf(run)
	if err != nil {
		return "", err
	}

	remote, err := c.client.GetJob(ctx, jobId)
	if errors.Is(err, ErrJobNotFound) {
		return domain.Unavailable, nil
	}
	if err != nil {
		return "", err
	}
	return mapState(remote.State), nil
}

func (c *Compute) Stop(ctx context.Context, run *domain.Run) error {
	jobId, err := remoteIdOf(run)
	if err != nil {
		return err
	}
	err = c.client.CancelJob(ctx, jobId)
	if errors.Is(err, ErrJobNotFound) {
		// nothing left to cancel
		return nil
	}
	return err
}

func remoteIdOf(run *domain.Run) (string, error) {
	jobId, ok := run.Details["job_id"].(string)
	if !ok || jobId == "" {
		return "", fmt.Errorf("run %s carries no training job id", run.Id)
	}
	return jobId, nil
}

// mapState folds the vendor's (open-ended) state set onto the
// canonical taxonomy.
func mapState(state string) domain.JobStatus {
	switch state {
	case "QUEUED", "PREPARING":
		return domain.Submitted
	case "RUNNING":
		return domain.Running
	case "SUCCEEDED":
		return domain.Succeeded
	case "FAILED":
		return domain.Failed
	case "CANCELLING", "CANCELLED":
		return domain.Stopped
	default:
		return domain.Unknown
	}
}

var jobIdIllegal = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// remoteJobId derives an API-legal, collision-resistant job id from
// the job name (ids must match [a-zA-Z0-9_]+ and be unique per
// project).
func remoteJobId(name string, now time.Time) string {
	stem := jobIdIllegal.ReplaceAllString(name, "_")
	return fmt.Sprintf("%s_%d", stem, now.UnixNano())
}
