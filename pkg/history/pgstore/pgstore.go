// Package pgstore is the remote history backend on Postgres.
//
// Each collection is one document table `(id text primary key,
// doc jsonb not null)`, so the dict form of an entity is stored as-is
// and every dot-path query works without schema migrations per entity
// field.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/google/caliban-sub000/pkg/domain"
	"github.com/google/caliban-sub000/pkg/history"
)

type Store struct {
	pool   Pool
	logger *log.Logger
}

var _ history.Storage = &Store{}

// Open connects to url (postgres://...), ensures the document tables
// and returns the store. Connection failure maps to ErrUnreachable so
// the engine can fall back to a local tier.
func Open(ctx context.Context, url string, logger *log.Logger) (*Store, error) {
	pool, err := pgxpool.Connect(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", history.ErrUnreachable, err)
	}
	s := New(Wrap(pool), logger)
	if err := s.ensureSchema(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// New builds a store over an already-wrapped pool. Tests inject mocks
// here.
func New(pool Pool, logger *log.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

func (s *Store) ensureSchema(ctx context.Context) error {
	for _, name := range history.Collections() {
		_, err := s.pool.Exec(ctx, fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s ("id" text PRIMARY KEY, "doc" jsonb NOT NULL)`,
			quoteIdent(name),
		))
		if err != nil {
			return fmt.Errorf("ensure table %s: %w", name, err)
		}
	}
	// one group per name; the get-or-create in CreateExperiment leans
	// on this index under concurrent sweeps.
	_, err := s.pool.Exec(ctx, fmt.Sprintf(
		`CREATE UNIQUE INDEX IF NOT EXISTS "experiment_groups_name" ON %s (("doc" ->> 'name'))`,
		quoteIdent(history.CollectionGroups),
	))
	if err != nil {
		return fmt.Errorf("ensure group name index: %w", err)
	}
	return nil
}

func (s *Store) CreateExperiment(ctx context.Context, req history.NewExperiment) ([]*domain.Experiment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", history.ErrUnreachable, err)
	}
	defer tx.Rollback(ctx)

	group, err := s.findGroupByName(ctx, tx, req.XGroup)
	if err != nil {
		return nil, err
	}
	sweep, err := history.Expand(req, group, time.Now())
	if err != nil {
		return nil, err
	}

	if group == nil {
		if err := s.insertDedup(ctx, tx, history.CollectionGroups, sweep.Group.Id, sweep.Group.ToRecord()); err != nil {
			return nil, err
		}
	}
	if err := s.insertDedup(ctx, tx, history.CollectionContainerSpecs, sweep.Container.Id, sweep.Container.ToRecord()); err != nil {
		return nil, err
	}
	for nth, exp := range sweep.Experiments {
		if err := s.insertDedup(ctx, tx, history.CollectionExperiments, exp.Id, exp.ToRecord()); err != nil {
			return nil, err
		}
		job := sweep.Jobs[nth]
		if err := s.insertDedup(ctx, tx, history.CollectionJobs, job.Id, job.ToRecord()); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit sweep %s: %w", req.XGroup, err)
	}
	return sweep.Experiments, nil
}

func (s *Store) CreateJobSpec(ctx context.Context, spec *domain.JobSpec) (*domain.JobSpec, error) {
	if err := s.insertDedup(ctx, s.pool, history.CollectionJobSpecs, spec.Id, spec.ToRecord()); err != nil {
		return nil, err
	}
	return spec, nil
}

func (s *Store) CreateRun(ctx context.Context, run *domain.Run) error {
	doc, err := json.Marshal(run.ToRecord())
	if err != nil {
		return fmt.Errorf("encode run %s: %w", run.Id, err)
	}
	_, err = s.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s ("id", "doc") VALUES ($1, $2)`,
		quoteIdent(history.CollectionRuns),
	), run.Id, doc)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: run %s", history.ErrExists, run.Id)
		}
		return fmt.Errorf("insert run %s: %w", run.Id, err)
	}
	return nil
}

func (s *Store) SaveRunStatus(ctx context.Context, runId string, status domain.JobStatus) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET "doc" = jsonb_set("doc", '{status}', to_jsonb($2::text)) WHERE "id" = $1`,
		quoteIdent(history.CollectionRuns),
	), runId, string(status))
	if err != nil {
		return fmt.Errorf("update run %s: %w", runId, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: run %s", history.ErrMissing, runId)
	}
	return nil
}

func (s *Store) Collection(name string) history.Collection {
	return collection{name: name, store: s}
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) findGroupByName(ctx context.Context, tx Queryer, name string) (*domain.ExperimentGroup, error) {
	var doc []byte
	err := tx.QueryRow(ctx, fmt.Sprintf(
		`SELECT "doc" FROM %s WHERE "doc" ->> 'name' = $1`,
		quoteIdent(history.CollectionGroups),
	), name).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find group %s: %w", name, err)
	}
	rec, err := decodeDoc(doc)
	if err != nil {
		return nil, err
	}
	return domain.ExperimentGroupFromRecord(rec)
}

// insertDedup get-or-creates under the content-hash id: a duplicate id
// is the same content, so losing the insert race is success.
func (s *Store) insertDedup(ctx context.Context, q Queryer, table, id string, rec domain.Record) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", table, id, err)
	}
	_, err = q.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s ("id", "doc") VALUES ($1, $2) ON CONFLICT ("id") DO NOTHING`,
		quoteIdent(table),
	), id, doc)
	if err != nil {
		return fmt.Errorf("insert %s %s: %w", table, id, err)
	}
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
	var doc []byte
	err := c.store.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT "doc" FROM %s WHERE "id" = $1`, quoteIdent(c.name),
	), id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s %s: %w", c.name, id, err)
	}
	rec, err := decodeDoc(doc)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (c collection) Where(field string, op history.Op, value any) history.Query {
	return history.NewQuery(c.execute).Where(field, op, value)
}

func (c collection) execute(ctx context.Context, plan history.Plan) (history.Cursor, error) {
	compiled := compile(c.name, plan)

	rows, err := c.store.pool.Query(ctx, compiled.SQL, compiled.Args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", c.name, err)
	}

	if plan.Order == nil {
		limit := 0
		if compiled.LocalLimit {
			limit = plan.Limit
		}
		return &rowsCursor{rows: rows, rest: compiled.Rest, limit: limit}, nil
	}

	// ordered queries materialize, sort, then truncate
	records, err := drainRows(rows, compiled.Rest)
	if err != nil {
		return nil, err
	}
	history.SortRecords(records, *plan.Order)
	return history.NewSliceCursor(history.Truncate(records, plan.Limit)), nil
}

// rowsCursor streams pgx rows, applying leftover clauses and the limit
// on the fly.
type rowsCursor struct {
	rows  pgx.Rows
	rest  []history.Clause
	limit int

	yielded int
	current domain.Record
	err     error
}

var _ history.Cursor = &rowsCursor{}

func (c *rowsCursor) Next() bool {
	if c.err != nil {
		return false
	}
	if c.limit > 0 && c.yielded >= c.limit {
		c.rows.Close()
		return false
	}
rowloop:
	for c.rows.Next() {
		var doc []byte
		if err := c.rows.Scan(&doc); err != nil {
			c.err = err
			return false
		}
		rec, err := decodeDoc(doc)
		if err != nil {
			c.err = err
			return false
		}
		for _, clause := range c.rest {
			if !clause.Matches(rec) {
				continue rowloop
			}
		}
		c.current = rec
		c.yielded += 1
		return true
	}
	c.err = c.rows.Err()
	return false
}

func (c *rowsCursor) Record() domain.Record {
	return c.current
}

func (c *rowsCursor) Err() error {
	return c.err
}

func (c *rowsCursor) Close() error {
	c.rows.Close()
	return nil
}

func drainRows(rows pgx.Rows, rest []history.Clause) ([]domain.Record, error) {
	cur := &rowsCursor{rows: rows, rest: rest}
	return history.Collect(cur)
}

func decodeDoc(doc []byte) (domain.Record, error) {
	rec := domain.Record{}
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return rec, nil
}
