package pgstore

import (
	"fmt"
	"strings"

	"github.com/google/caliban-sub000/pkg/domain"
	"github.com/google/caliban-sub000/pkg/history"
)

// Query compilation is hybrid: the first clause that the document
// tables can index is pushed down to SQL, the remaining clauses are
// evaluated in process, and ordering is always local (text extraction
// would order numbers lexicographically).
//
// The limit moves to SQL only when nothing is left to filter or sort
// locally; otherwise it is re-applied after the local pass.

type compiled struct {
	SQL  string
	Args []interface{}

	// clauses not pushed down, evaluated locally per record
	Rest []history.Clause

	// true when the limit still has to be applied locally
	LocalLimit bool
}

// compile turns a validated plan into the SQL to run against one
// document table plus the local work left over.
func compile(table string, plan history.Plan) compiled {
	var sb strings.Builder
	fmt.Fprintf(&sb, `SELECT "doc" FROM %s`, quoteIdent(table))

	args := []interface{}{}
	rest := plan.Clauses

	if len(plan.Clauses) > 0 {
		if cond, condArgs, ok := compileClause(plan.Clauses[0], 1); ok {
			sb.WriteString(" WHERE ")
			sb.WriteString(cond)
			args = append(args, condArgs...)
			rest = plan.Clauses[1:]
		}
	}

	localLimit := plan.Order != nil || len(rest) > 0
	if plan.Limit > 0 && !localLimit {
		fmt.Fprintf(&sb, " LIMIT %d", plan.Limit)
	}

	return compiled{
		SQL:        sb.String(),
		Args:       args,
		Rest:       rest,
		LocalLimit: localLimit && plan.Limit > 0,
	}
}

// compileClause renders one clause over the jsonb doc, or reports that
// it cannot be pushed down (non-scalar values stay local).
func compileClause(c history.Clause, firstArg int) (string, []interface{}, bool) {
	path := fieldPath(c.Field)

	if c.Op == history.IN {
		values, ok := stringSliceOf(c.Value)
		if !ok {
			return "", nil, false
		}
		return fmt.Sprintf(
				`("doc" #>> $%d::text[]) = ANY($%d)`, firstArg, firstArg+1,
			),
			[]interface{}{path, values},
			true
	}

	if n, ok := domain.AsNumber(c.Value); ok {
		// jsonb_typeof guard keeps the ::numeric cast from failing on
		// records carrying a string in this field.
		return fmt.Sprintf(
				`jsonb_typeof("doc" #> $%d::text[]) = 'number' AND ("doc" #>> $%d::text[])::numeric %s $%d`,
				firstArg, firstArg, sqlOp(c.Op), firstArg+1,
			),
			[]interface{}{path, n},
			true
	}
	if s, ok := c.Value.(string); ok {
		return fmt.Sprintf(
				`("doc" #>> $%d::text[]) %s $%d`, firstArg, sqlOp(c.Op), firstArg+1,
			),
			[]interface{}{path, s},
			true
	}
	if b, ok := c.Value.(bool); ok && c.Op == history.EQ {
		return fmt.Sprintf(
				`("doc" #>> $%d::text[]) = $%d`, firstArg, firstArg+1,
			),
			[]interface{}{path, fmt.Sprintf("%t", b)},
			true
	}

	return "", nil, false
}

func sqlOp(op history.Op) string {
	if op == history.EQ {
		return "="
	}
	return string(op)
}

// fieldPath splits a dot-path for the #>> operator.
func fieldPath(field string) []string {
	return strings.Split(field, ".")
}

// stringSliceOf flattens an IN value when every member is a string.
// Mixed or numeric member lists are evaluated locally instead.
func stringSliceOf(v any) ([]string, bool) {
	switch sli := v.(type) {
	case []string:
		return sli, true
	case []any:
		out := make([]string, len(sli))
		for nth, e := range sli {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out[nth] = s
		}
		return out, true
	default:
		return nil, false
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
