package mock

import (
	"context"
	"testing"

	"github.com/jackc/pgconn"
	pgproto3 "github.com/jackc/pgproto3/v2"
	"github.com/jackc/pgx/v4"

	"github.com/google/caliban-sub000/pkg/history/pgstore"
)

// Pool fakes the connection pool. Set Impl for the calls the test expects.
type Pool struct {
	t *testing.T

	Impl struct {
		Exec     func(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
		Query    func(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
		QueryRow func(ctx context.Context, sql string, args ...interface{}) pgx.Row
		Begin    func(ctx context.Context) (pgstore.Tx, error)
		Ping     func(ctx context.Context) error
	}

	Called struct {
		Exec     uint64
		Query    uint64
		QueryRow uint64
		Begin    uint64
		Ping     uint64
		Close    uint64
	}
}

var _ pgstore.Pool = &Pool{}

func NewPool(t *testing.T) *Pool {
	return &Pool{t: t}
}

func (m *Pool) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	m.t.Helper()
	if m.Impl.Exec == nil {
		m.t.Fatal("unexpected call: Exec")
	}
	m.Called.Exec += 1
	return m.Impl.Exec(ctx, sql, args...)
}

func (m *Pool) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	m.t.Helper()
	if m.Impl.Query == nil {
		m.t.Fatal("unexpected call: Query")
	}
	m.Called.Query += 1
	return m.Impl.Query(ctx, sql, args...)
}

func (m *Pool) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	m.t.Helper()
	if m.Impl.QueryRow == nil {
		m.t.Fatal("unexpected call: QueryRow")
	}
	m.Called.QueryRow += 1
	return m.Impl.QueryRow(ctx, sql, args...)
}

func (m *Pool) Begin(ctx context.Context) (pgstore.Tx, error) {
	m.t.Helper()
	if m.Impl.Begin == nil {
		m.t.Fatal("unexpected call: Begin")
	}
	m.Called.Begin += 1
	return m.Impl.Begin(ctx)
}

func (m *Pool) Ping(ctx context.Context) error {
	m.t.Helper()
	if m.Impl.Ping == nil {
		m.t.Fatal("unexpected call: Ping")
	}
	m.Called.Ping += 1
	return m.Impl.Ping(ctx)
}

func (m *Pool) Close() {
	m.Called.Close += 1
}

// Tx fakes a transaction handle from Pool.Begin.
//
// Rollback needs no Impl: a deferred rollback after commit is the
// normal shape of a committing caller, so it is counted and succeeds.
type Tx struct {
	t *testing.T

	Impl struct {
		Exec     func(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
		Query    func(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
		QueryRow func(ctx context.Context, sql string, args ...interface{}) pgx.Row
		Commit   func(ctx context.Context) error
		Rollback func(ctx context.Context) error
	}

	Called struct {
		Exec     uint64
		Query    uint64
		QueryRow uint64
		Commit   uint64
		Rollback uint64
	}
}

var _ pgstore.Tx = &Tx{}

func NewTx(t *testing.T) *Tx {
	return &Tx{t: t}
}

func (m *Tx) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	m.t.Helper()
	if m.Impl.Exec == nil {
		m.t.Fatal("unexpected call: Exec")
	}
	m.Called.Exec += 1
	return m.Impl.Exec(ctx, sql, args...)
}

func (m *Tx) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	m.t.Helper()
	if m.Impl.Query == nil {
		m.t.Fatal("unexpected call: Query")
	}
	m.Called.Query += 1
	return m.Impl.Query(ctx, sql, args...)
}

func (m *Tx) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	m.t.Helper()
	if m.Impl.QueryRow == nil {
		m.t.Fatal("unexpected call: QueryRow")
	}
	m.Called.QueryRow += 1
	return m.Impl.QueryRow(ctx, sql, args...)
}

func (m *Tx) Commit(ctx context.Context) error {
	m.t.Helper()
	if m.Impl.Commit == nil {
		m.t.Fatal("unexpected call: Commit")
	}
	m.Called.Commit += 1
	return m.Impl.Commit(ctx)
}

func (m *Tx) Rollback(ctx context.Context) error {
	m.Called.Rollback += 1
	if m.Impl.Rollback == nil {
		return nil
	}
	return m.Impl.Rollback(ctx)
}

// Rows plays back documents as a one-column result set.
type Rows struct {
	Docs    [][]byte
	ScanErr error
	RowErr  error

	Closed bool
	cursor int
}

var _ pgx.Rows = &Rows{}

func (r *Rows) Close() {
	r.Closed = true
}

func (r *Rows) Err() error {
	return r.RowErr
}

func (r *Rows) CommandTag() pgconn.CommandTag {
	return nil
}

func (r *Rows) FieldDescriptions() []pgproto3.FieldDescription {
	return nil
}

func (r *Rows) Next() bool {
	if r.Closed || r.cursor >= len(r.Docs) {
		return false
	}
	r.cursor += 1
	return true
}

func (r *Rows) Scan(dest ...interface{}) error {
	if r.ScanErr != nil {
		return r.ScanErr
	}
	*(dest[0].(*[]byte)) = r.Docs[r.cursor-1]
	return nil
}

func (r *Rows) Values() ([]interface{}, error) {
	return nil, nil
}

func (r *Rows) RawValues() [][]byte {
	return nil
}

// Row answers one QueryRow scan.
type Row struct {
	Doc []byte
	Err error
}

var _ pgx.Row = Row{}

func (r Row) Scan(dest ...interface{}) error {
	if r.Err != nil {
		return r.Err
	}
	*(dest[0].(*[]byte)) = r.Doc
	return nil
}
