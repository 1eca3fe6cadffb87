package history

import "github.com/google/caliban-sub000/pkg/domain"

// Cursor is a lazy, finite, non-restartable sequence of query results.
//
// Usage follows database rows: call Next, read Record, check Err after
// the loop, Close when done.
type Cursor interface {
	Next() bool
	Record() domain.Record
	Err() error
	Close() error
}

type sliceCursor struct {
	records []domain.Record
	pos     int
}

// NewSliceCursor wraps already-materialized records as a Cursor.
func NewSliceCursor(records []domain.Record) Cursor {
	return &sliceCursor{records: records, pos: -1}
}

// EmptyCursor yields nothing.
func EmptyCursor() Cursor {
	return NewSliceCursor(nil)
}

func (c *sliceCursor) Next() bool {
	if c.pos+1 >= len(c.records) {
		return false
	}
	c.pos += 1
	return true
}

func (c *sliceCursor) Record() domain.Record {
	if c.pos < 0 || len(c.records) <= c.pos {
		return nil
	}
	return c.records[c.pos]
}

func (c *sliceCursor) Err() error {
	return nil
}

func (c *sliceCursor) Close() error {
	return nil
}

// Collect drains a cursor into a slice and closes it.
func Collect(cur Cursor) ([]domain.Record, error) {
	defer cur.Close()
	out := []domain.Record{}
	for cur.Next() {
		out = append(out, cur.Record())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
