// Package memstore is the in-process history backend.
//
// One map per collection, keyed by entity id. Queries are linear scans
// over a snapshot, with every clause ANDed. Ordering is not supported;
// this is the last tier of the fallback chain and a test fixture, not a
// database.
package memstore

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/caliban-sub000/pkg/domain"
	"github.com/google/caliban-sub000/pkg/history"
)

type Store struct {
	logger *log.Logger

	mu          sync.RWMutex
	collections map[string]map[string]domain.Record
}

var _ history.Storage = &Store{}

func New(logger *log.Logger) *Store {
	collections := map[string]map[string]domain.Record{}
	for _, name := range history.Collections() {
		collections[name] = map[string]domain.Record{}
	}
	return &Store{logger: logger, collections: collections}
}

// CreateExperiment expands the sweep and get-or-creates every entity
// under one lock, so a sweep is all-or-nothing to concurrent readers.
func (s *Store) CreateExperiment(ctx context.Context, req history.NewExperiment) ([]*domain.Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, err := s.findGroupByName(req.XGroup)
	if err != nil {
		return nil, err
	}
	sweep, err := history.Expand(req, group, time.Now())
	if err != nil {
		return nil, err
	}

	s.getOrCreate(history.CollectionGroups, sweep.Group.Id, sweep.Group.ToRecord())
	s.getOrCreate(history.CollectionContainerSpecs, sweep.Container.Id, sweep.Container.ToRecord())
	for nth, exp := range sweep.Experiments {
		s.getOrCreate(history.CollectionExperiments, exp.Id, exp.ToRecord())
		job := sweep.Jobs[nth]
		s.getOrCreate(history.CollectionJobs, job.Id, job.ToRecord())
	}
	return sweep.Experiments, nil
}

func (s *Store) CreateJobSpec(ctx context.Context, spec *domain.JobSpec) (*domain.JobSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.getOrCreate(history.CollectionJobSpecs, spec.Id, spec.ToRecord())
	if existing == nil {
		return spec, nil
	}
	return domain.JobSpecFromRecord(existing)
}

func (s *Store) CreateRun(ctx context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[history.CollectionRuns][run.Id]; ok {
		return fmt.Errorf("%w: run %s", history.ErrExists, run.Id)
	}
	s.collections[history.CollectionRuns][run.Id] = run.ToRecord()
	return nil
}

func (s *Store) SaveRunStatus(ctx context.Context, runId string, status domain.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.collections[history.CollectionRuns][runId]
	if !ok {
		return fmt.Errorf("%w: run %s", history.ErrMissing, runId)
	}
	next := cloneRecord(rec)
	next["status"] = string(status)
	s.collections[history.CollectionRuns][runId] = next
	return nil
}

func (s *Store) Collection(name string) history.Collection {
	return collection{name: name, store: s}
}

func (s *Store) Close() error {
	return nil
}

// findGroupByName assumes s.mu is held.
func (s *Store) findGroupByName(name string) (*domain.ExperimentGroup, error) {
	for _, rec := range s.collections[history.CollectionGroups] {
		if rec["name"] == name {
			return domain.ExperimentGroupFromRecord(rec)
		}
	}
	return nil, nil
}

// getOrCreate assumes s.mu is held. It returns the pre-existing record,
// or nil when rec was inserted.
func (s *Store) getOrCreate(collection, id string, rec domain.Record) domain.Record {
	col, ok := s.collections[collection]
	if !ok {
		return nil
	}
	if existing, ok := col[id]; ok {
		return existing
	}
	col[id] = rec
	return nil
}

type collection struct {
	name  string
	store *Store
}

func (c collection) Name() string {
	return c.name
}

func (c collection) Get(ctx context.Context, id string) (domain.Record, bool, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	rec, ok := c.store.collections[c.name][id]
	if !ok {
		return nil, false, nil
	}
	return cloneRecord(rec), true, nil
}

func (c collection) Where(field string, op history.Op, value any) history.Query {
	return history.NewQuery(c.execute).Where(field, op, value)
}

func (c collection) execute(ctx context.Context, plan history.Plan) (history.Cursor, error) {
	if plan.Order != nil {
		return nil, fmt.Errorf("%w: memory backend", history.ErrOrderByUnsupported)
	}

	c.store.mu.RLock()
	snapshot := make([]domain.Record, 0, len(c.store.collections[c.name]))
	for _, rec := range c.store.collections[c.name] {
		snapshot = append(snapshot, cloneRecord(rec))
	}
	c.store.mu.RUnlock()

	found := history.ApplyLocal(snapshot, plan.Clauses)
	return history.NewSliceCursor(history.Truncate(found, plan.Limit)), nil
}

// cloneRecord deep-copies nested maps and slices, so cursors hold a
// true snapshot and callers cannot mutate the store through a result.
func cloneRecord(rec domain.Record) domain.Record {
	return cloneMap(rec)
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneMap(x)
	case []string:
		out := make([]string, len(x))
		copy(out, x)
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
