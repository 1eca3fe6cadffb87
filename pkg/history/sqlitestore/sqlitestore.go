// Package sqlitestore is the local durable history backend.
//
// It mirrors the Postgres document-table design on an embedded
// libsql/sqlite database, so a workstation without a reachable remote
// store still keeps its job history across sessions. The engine drops
// to this tier automatically when the remote store is unreachable.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/google/caliban-sub000/pkg/domain"
	"github.com/google/caliban-sub000/pkg/history"
)

type Store struct {
	db     *sql.DB
	logger *log.Logger
}

var _ history.Storage = &Store{}

// Open opens (creating if absent) the database file and ensures the
// document tables.
func Open(ctx context.Context, path string, logger *log.Logger) (*Store, error) {
	db, err := sql.Open("libsql", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %s", history.ErrUnreachable, path, err)
	}
	s := &Store{db: db, logger: logger}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	for _, name := range history.Collections() {
		_, err := s.db.ExecContext(ctx, fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s ("id" TEXT PRIMARY KEY, "doc" TEXT NOT NULL)`,
			quoteIdent(name),
		))
		if err != nil {
			return fmt.Errorf("ensure table %s: %w", name, err)
		}
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE UNIQUE INDEX IF NOT EXISTS "experiment_groups_name" ON %s (json_extract("doc", '$."name"'))`,
		quoteIdent(history.CollectionGroups),
	))
	if err != nil {
		return fmt.Errorf("ensure group name index: %w", err)
	}
	return nil
}

func (s *Store) CreateExperiment(ctx context.Context, req history.NewExperiment) ([]*domain.Experiment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", history.ErrUnreachable, err)
	}
	defer tx.Rollback()

	group, err := findGroupByName(ctx, tx, req.XGroup)
	if err != nil {
		return nil, err
	}
	sweep, err := history.Expand(req, group, time.Now())
	if err != nil {
		return nil, err
	}

	if group == nil {
		if _, err := insertDedup(ctx, tx, history.CollectionGroups, sweep.Group.Id, sweep.Group.ToRecord()); err != nil {
			return nil, err
		}
	}
	if _, err := insertDedup(ctx, tx, history.CollectionContainerSpecs, sweep.Container.Id, sweep.Container.ToRecord()); err != nil {
		return nil, err
	}
	for nth, exp := range sweep.Experiments {
		if _, err := insertDedup(ctx, tx, history.CollectionExperiments, exp.Id, exp.ToRecord()); err != nil {
			return nil, err
		}
		job := sweep.Jobs[nth]
		if _, err := insertDedup(ctx, tx, history.CollectionJobs, job.Id, job.ToRecord()); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit sweep %s: %w", req.XGroup, err)
	}
	return sweep.Experiments, nil
}

func (s *Store) CreateJobSpec(ctx context.Context, spec *domain.JobSpec) (*domain.JobSpec, error) {
	if _, err := insertDedup(ctx, s.db, history.CollectionJobSpecs, spec.Id, spec.ToRecord()); err != nil {
		return nil, err
	}
	return spec, nil
}

func (s *Store) CreateRun(ctx context.Context, run *domain.Run) error {
	inserted, err := insertDedup(ctx, s.db, history.CollectionRuns, run.Id, run.ToRecord())
	if err != nil {
		return err
	}
	if !inserted {
		return fmt.Errorf("%w: run %s", history.ErrExists, run.Id)
	}
	return nil
}

func (s *Store) SaveRunStatus(ctx context.Context, runId string, status domain.JobStatus) error {
	result, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET "doc" = json_set("doc", '$."status"', ?) WHERE "id" = ?`,
		quoteIdent(history.CollectionRuns),
	), string(status), runId)
	if err != nil {
		return fmt.Errorf("update run %s: %w", runId, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: run %s", history.ErrMissing, runId)
	}
	return nil
}

func (s *Store) Collection(name string) history.Collection {
	return collection{name: name, store: s}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// queryer is the subset shared by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findGroupByName(ctx context.Context, q queryer, name string) (*domain.ExperimentGroup, error) {
	var doc string
	err := q.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT "doc" FROM %s WHERE json_extract("doc", '$."name"') = ?`,
		quoteIdent(history.CollectionGroups),
	), name).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
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

// insertDedup reports whether the row was actually inserted; an id hit
// under OR IGNORE means the same content is already there.
func insertDedup(ctx context.Context, q queryer, table, id string, rec domain.Record) (bool, error) {
	doc, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encode %s %s: %w", table, id, err)
	}
	result, err := q.ExecContext(ctx, fmt.Sprintf(
		`INSERT OR IGNORE INTO %s ("id", "doc") VALUES (?, ?)`, quoteIdent(table),
	), id, string(doc))
	if err != nil {
		return false, fmt.Errorf("insert %s %s: %w", table, id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert %s %s: %w", table, id, err)
	}
	return n > 0, nil
}

type collection struct {
	name  string
	store *Store
}

func (c collection) Name() string {
	return c.name
}

func (c collection) Get(ctx context.Context, id string) (domain.Record, bool, error) {
	var doc string
	err := c.store.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT "doc" FROM %s WHERE "id" = ?`, quoteIdent(c.name),
	), id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
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

	rows, err := c.store.db.QueryContext(ctx, compiled.SQL, compiled.Args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", c.name, err)
	}
	defer rows.Close()

	records := []domain.Record{}
rowloop:
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		rec, err := decodeDoc(doc)
		if err != nil {
			return nil, err
		}
		for _, clause := range compiled.Rest {
			if !clause.Matches(rec) {
				continue rowloop
			}
		}
		records = append(records, rec)
		if compiled.LocalLimit && plan.Order == nil && len(records) >= plan.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if plan.Order != nil {
		history.SortRecords(records, *plan.Order)
	}
	return history.NewSliceCursor(history.Truncate(records, plan.Limit)), nil
}

func decodeDoc(doc string) (domain.Record, error) {
	rec := domain.Record{}
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return rec, nil
}
