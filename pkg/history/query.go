package history

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/caliban-sub000/pkg/domain"
)

// Direction of an ordering.
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

type Ordering struct {
	Field string
	Dir   Direction
}

// Plan is the accumulated state of a query builder, handed to a
// backend executor when Execute is called.
//
// Limit == 0 means "no limit".
type Plan struct {
	Clauses []Clause
	Order   *Ordering
	Limit   int
}

func (p Plan) Validate() error {
	for _, c := range p.Clauses {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	if p.Order != nil {
		switch p.Order.Dir {
		case Asc, Desc:
		default:
			return fmt.Errorf("%w: '%s' is not Direction", ErrMalformedQuery, p.Order.Dir)
		}
		if p.Order.Field == "" {
			return fmt.Errorf("%w: empty order_by field", ErrMalformedQuery)
		}
	}
	if p.Limit < 0 {
		return fmt.Errorf("%w: negative limit %d", ErrMalformedQuery, p.Limit)
	}
	return nil
}

// Query is an immutable fluent builder.
//
// Where/OrderBy/Limit return a NEW Query and never mutate the
// receiver, so callers may branch several queries from one base.
// Execute is the only blocking operation; calling it again re-runs
// the query.
type Query interface {
	Where(field string, op Op, value any) Query
	OrderBy(field string, dir Direction) Query
	Limit(n int) Query
	Execute(ctx context.Context) (Cursor, error)
}

// Executor runs a finished Plan on behalf of a backend.
type Executor func(ctx context.Context, plan Plan) (Cursor, error)

// NewQuery wraps a backend executor into the shared immutable builder.
func NewQuery(run Executor) Query {
	return query{run: run}
}

type query struct {
	plan Plan
	run  Executor
}

func (q query) Where(field string, op Op, value any) Query {
	next := q.clonePlan()
	next.plan.Clauses = append(next.plan.Clauses, Clause{Field: field, Op: op, Value: value})
	return next
}

func (q query) OrderBy(field string, dir Direction) Query {
	next := q.clonePlan()
	next.plan.Order = &Ordering{Field: field, Dir: dir}
	return next
}

func (q query) Limit(n int) Query {
	next := q.clonePlan()
	next.plan.Limit = n
	return next
}

func (q query) Execute(ctx context.Context) (Cursor, error) {
	if err := q.plan.Validate(); err != nil {
		return nil, err
	}
	return q.run(ctx, q.plan)
}

func (q query) clonePlan() query {
	clauses := make([]Clause, len(q.plan.Clauses))
	copy(clauses, q.plan.Clauses)
	var order *Ordering
	if q.plan.Order != nil {
		o := *q.plan.Order
		order = &o
	}
	return query{
		plan: Plan{Clauses: clauses, Order: order, Limit: q.plan.Limit},
		run:  q.run,
	}
}

// ApplyLocal filters records with every clause, in process.
func ApplyLocal(records []domain.Record, clauses []Clause) []domain.Record {
	out := []domain.Record{}
recloop:
	for _, r := range records {
		for _, c := range clauses {
			if !c.Matches(r) {
				continue recloop
			}
		}
		out = append(out, r)
	}
	return out
}

// SortRecords orders records by a dot-path field, in place.
//
// Records missing the field sort last. Mixed-type fields order
// numbers before strings.
func SortRecords(records []domain.Record, order Ordering) {
	sort.SliceStable(records, func(i, j int) bool {
		less := recordLess(records[i], records[j], order.Field)
		if order.Dir == Desc {
			return recordLess(records[j], records[i], order.Field)
		}
		return less
	})
}

func recordLess(a, b domain.Record, field string) bool {
	va, oka := LookupPath(a, field)
	vb, okb := LookupPath(b, field)
	if !oka || !okb {
		// records missing the field sort last
		return oka && !okb
	}
	if na, ok := domain.AsNumber(va); ok {
		if nb, ok := domain.AsNumber(vb); ok {
			return na < nb
		}
		return true
	}
	sa, oka := va.(string)
	sb, okb := vb.(string)
	if oka && okb {
		return sa < sb
	}
	return false
}

// Truncate applies a limit (0 = unlimited).
func Truncate(records []domain.Record, limit int) []domain.Record {
	if limit <= 0 || len(records) <= limit {
		return records
	}
	return records[:limit]
}
