package history_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/caliban-sub000/pkg/domain"
	"github.com/google/caliban-sub000/pkg/history"
	"github.com/google/caliban-sub000/pkg/utils/cmp"
	"github.com/google/caliban-sub000/pkg/utils/try"
)

func TestQuery_BuildersAreImmutable(t *testing.T) {
	ctx := context.Background()

	var got []history.Plan
	base := history.NewQuery(func(_ context.Context, plan history.Plan) (history.Cursor, error) {
		got = append(got, plan)
		return history.EmptyCursor(), nil
	})

	failed := base.Where("status", history.EQ, "FAILED")
	stopped := base.Where("status", history.EQ, "STOPPED").Limit(3)

	// branching from base must not leak clauses between the branches
	try.To(failed.Execute(ctx)).OrFatal(t).Close()
	try.To(stopped.Execute(ctx)).OrFatal(t).Close()
	try.To(base.Execute(ctx)).OrFatal(t).Close()

	if len(got) != 3 {
		t.Fatalf("executor called %d times, want 3", len(got))
	}
	if len(got[0].Clauses) != 1 || got[0].Clauses[0].Value != "FAILED" || got[0].Limit != 0 {
		t.Errorf("unexpected plan for the first branch: %+v", got[0])
	}
	if len(got[1].Clauses) != 1 || got[1].Clauses[0].Value != "STOPPED" || got[1].Limit != 3 {
		t.Errorf("unexpected plan for the second branch: %+v", got[1])
	}
	if len(got[2].Clauses) != 0 {
		t.Errorf("base query gained clauses: %+v", got[2])
	}
}

func TestQuery_ExecuteRejectsMalformedPlans(t *testing.T) {
	ctx := context.Background()
	base := history.NewQuery(func(context.Context, history.Plan) (history.Cursor, error) {
		t.Fatal("executor should not run for a malformed plan")
		return nil, nil
	})

	for name, q := range map[string]history.Query{
		"empty clause field": base.Where("", history.EQ, 1),
		"unknown operator":   base.Where("status", history.Op("!="), 1),
		"negative limit":     base.Limit(-1),
		"empty order field":  base.OrderBy("", history.Asc),
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := q.Execute(ctx); !errors.Is(err, history.ErrMalformedQuery) {
				t.Errorf("Execute() = %v, want ErrMalformedQuery", err)
			}
		})
	}
}

func TestApplyLocal_OrderIndependent(t *testing.T) {
	records := []domain.Record{
		{"id": "a", "status": "FAILED", "kwargs": map[string]any{"lr": 0.1}},
		{"id": "b", "status": "FAILED", "kwargs": map[string]any{"lr": 0.5}},
		{"id": "c", "status": "SUCCEEDED", "kwargs": map[string]any{"lr": 0.1}},
		{"id": "d", "status": "STOPPED"},
	}

	failed := history.Clause{Field: "status", Op: history.EQ, Value: "FAILED"}
	smallLr := history.Clause{Field: "kwargs.lr", Op: history.LT, Value: 0.3}

	forward := history.ApplyLocal(records, []history.Clause{failed, smallLr})
	backward := history.ApplyLocal(records, []history.Clause{smallLr, failed})

	if !cmp.SliceEqWith(forward, backward, func(a, b domain.Record) bool {
		return a["id"] == b["id"]
	}) {
		t.Errorf("clause order changed the result: %v vs %v", forward, backward)
	}
	if len(forward) != 1 || forward[0]["id"] != "a" {
		t.Errorf("unexpected result: %v", forward)
	}
}

func TestSortRecords(t *testing.T) {
	records := func() []domain.Record {
		return []domain.Record{
			{"id": "a", "kwargs": map[string]any{"lr": 0.5}},
			{"id": "b"}, // no kwargs at all
			{"id": "c", "kwargs": map[string]any{"lr": 0.1}},
			{"id": "d", "kwargs": map[string]any{"lr": 0.3}},
		}
	}

	ids := func(rs []domain.Record) []string {
		out := []string{}
		for _, r := range rs {
			out = append(out, r["id"].(string))
		}
		return out
	}

	{
		rs := records()
		history.SortRecords(rs, history.Ordering{Field: "kwargs.lr", Dir: history.Asc})
		if got := ids(rs); !cmp.SliceEq(got, []string{"c", "d", "a", "b"}) {
			t.Errorf("asc: got %v", got)
		}
	}
	{
		rs := records()
		history.SortRecords(rs, history.Ordering{Field: "kwargs.lr", Dir: history.Desc})
		if got := ids(rs); !cmp.SliceEq(got[:3], []string{"a", "d", "c"}) {
			t.Errorf("desc: got %v", got)
		}
	}
}

func TestTruncate(t *testing.T) {
	records := []domain.Record{{"id": "a"}, {"id": "b"}, {"id": "c"}}

	if got := history.Truncate(records, 0); len(got) != 3 {
		t.Errorf("limit 0 means unlimited, got %d records", len(got))
	}
	if got := history.Truncate(records, 2); len(got) != 2 {
		t.Errorf("limit 2: got %d records", len(got))
	}
	if got := history.Truncate(records, 10); len(got) != 3 {
		t.Errorf("limit beyond length: got %d records", len(got))
	}
}

func TestCollect(t *testing.T) {
	records := []domain.Record{{"id": "a"}, {"id": "b"}}
	got := try.To(history.Collect(history.NewSliceCursor(records))).OrFatal(t)
	if !cmp.SliceEqWith(got, records, func(a, b domain.Record) bool {
		return a["id"] == b["id"]
	}) {
		t.Errorf("Collect = %v, want %v", got, records)
	}

	empty := try.To(history.Collect(history.EmptyCursor())).OrFatal(t)
	if len(empty) != 0 {
		t.Errorf("Collect(empty) = %v, want []", empty)
	}
}
