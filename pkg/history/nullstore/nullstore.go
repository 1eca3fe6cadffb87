// Package nullstore is the no-op history backend.
//
// Creation requests are expanded into a full object graph so callers
// can traverse the entities they asked for, but nothing is retained in
// any collection. Queries are always empty. Meant for dry runs and for
// tests that only care about the expansion.
package nullstore

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/caliban-sub000/pkg/domain"
	"github.com/google/caliban-sub000/pkg/history"
)

type Store struct {
	logger *log.Logger

	mu sync.Mutex
	// groups by name, so repeated sweeps against one xgroup share a
	// group entity like a durable backend would.
	groups map[string]*domain.ExperimentGroup
}

var _ history.Storage = &Store{}

func New(logger *log.Logger) *Store {
	return &Store{
		logger: logger,
		groups: map[string]*domain.ExperimentGroup{},
	}
}

func (s *Store) CreateExperiment(ctx context.Context, req history.NewExperiment) ([]*domain.Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sweep, err := history.Expand(req, s.groups[req.XGroup], time.Now())
	if err != nil {
		return nil, err
	}
	s.groups[req.XGroup] = sweep.Group

	s.logger.Printf(
		"null store: discarding %d experiments for xgroup %s",
		len(sweep.Experiments), req.XGroup,
	)
	return sweep.Experiments, nil
}

func (s *Store) CreateJobSpec(ctx context.Context, spec *domain.JobSpec) (*domain.JobSpec, error) {
	return spec, nil
}

func (s *Store) CreateRun(ctx context.Context, run *domain.Run) error {
	return nil
}

func (s *Store) SaveRunStatus(ctx context.Context, runId string, status domain.JobStatus) error {
	return nil
}

func (s *Store) Collection(name string) history.Collection {
	return collection{name: name}
}

func (s *Store) Close() error {
	return nil
}

type collection struct {
	name string
}

func (c collection) Name() string {
	return c.name
}

func (c collection) Get(ctx context.Context, id string) (domain.Record, bool, error) {
	return nil, false, nil
}

func (c collection) Where(field string, op history.Op, value any) history.Query {
	return history.
		NewQuery(func(context.Context, history.Plan) (history.Cursor, error) {
			return history.EmptyCursor(), nil
		}).
		Where(field, op, value)
}
