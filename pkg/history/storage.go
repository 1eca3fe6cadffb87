package history

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/caliban-sub000/pkg/domain"
)

// Collection names shared by every backend.
const (
	CollectionGroups         = "experiment_groups"
	CollectionContainerSpecs = "container_specs"
	CollectionExperiments    = "experiments"
	CollectionJobSpecs       = "job_specs"
	CollectionJobs           = "jobs"
	CollectionRuns           = "runs"
)

func Collections() []string {
	return []string{
		CollectionGroups, CollectionContainerSpecs, CollectionExperiments,
		CollectionJobSpecs, CollectionJobs, CollectionRuns,
	}
}

var (
	// creating an entity whose id already exists in a collection.
	ErrExists = errors.New("entity already exists")

	// the entity is not in the store.
	ErrMissing = errors.New("entity not found")

	// the query cannot be evaluated as written (empty field, unknown
	// operator, negative limit). Distinct from "no results".
	ErrMalformedQuery = errors.New("malformed query")

	// the backend cannot order results (test/dry-run backends).
	ErrOrderByUnsupported = errors.New("order_by is not supported by this backend")

	// the storage engine lost, or never made, its connection.
	ErrUnreachable = errors.New("storage unreachable")
)

// Collection is a named set of entities of one kind.
type Collection interface {
	Name() string

	// Get returns the dict form of the entity, or ok == false when the
	// id is unknown.
	Get(ctx context.Context, id string) (domain.Record, bool, error)

	// Where starts an immutable query over this collection.
	Where(field string, op Op, value any) Query
}

// Storage is the top-level history store.
//
// An entity never outlives the Storage that created it; handles are
// built at process start and passed down explicitly.
type Storage interface {
	// CreateExperiment expands a parameter sweep into one Experiment
	// (and its Job) per kwargs configuration, inside one transactional
	// scope. Creation is idempotent under the entity dedup keys:
	// resubmitting an identical request returns the existing records.
	CreateExperiment(ctx context.Context, req NewExperiment) ([]*domain.Experiment, error)

	// CreateJobSpec records a materialized submission payload,
	// get-or-create under its (experiment, spec, platform) dedup id.
	CreateJobSpec(ctx context.Context, spec *domain.JobSpec) (*domain.JobSpec, error)

	// CreateRun appends a new Run. Runs are never deduplicated.
	CreateRun(ctx context.Context, run *domain.Run) error

	// SaveRunStatus updates the cached status of a run.
	SaveRunStatus(ctx context.Context, runId string, status domain.JobStatus) error

	// Collection gives access to one named collection. Unknown names
	// yield a collection that is empty and rejects writes.
	Collection(name string) Collection

	Close() error
}

// NewExperiment is a request to record a parameter sweep.
type NewExperiment struct {
	// name of the experiment group ties the sweep together (get-or-create).
	XGroup string

	// parameters of the container build backing every job of the sweep.
	Build domain.BuildSpec

	// command executed in the container; becomes the job name stem.
	Command string

	// one kwargs mapping per sweep point. Empty means a single
	// experiment with no kwargs.
	Configs []map[string]any

	// positional args shared by all jobs of the sweep.
	Args []string

	User string
}

func (req NewExperiment) Validate() error {
	if strings.TrimSpace(req.XGroup) == "" {
		return fmt.Errorf("new experiment: xgroup name is required")
	}
	if strings.TrimSpace(req.User) == "" {
		return fmt.Errorf("new experiment: user is required")
	}
	if req.Build.BaseImage == "" {
		return fmt.Errorf("new experiment: base image is required")
	}
	return nil
}
