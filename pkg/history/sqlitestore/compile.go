package sqlitestore

import (
	"fmt"
	"strings"

	"github.com/google/caliban-sub000/pkg/domain"
	"github.com/google/caliban-sub000/pkg/history"
)

// Same hybrid plan as the Postgres backend: first clause through
// json_extract, leftover clauses and any ordering in process.

type compiled struct {
	SQL        string
	Args       []interface{}
	Rest       []history.Clause
	LocalLimit bool
}

func compile(table string, plan history.Plan) compiled {
	var sb strings.Builder
	fmt.Fprintf(&sb, `SELECT "doc" FROM %s`, quoteIdent(table))

	args := []interface{}{}
	rest := plan.Clauses

	if len(plan.Clauses) > 0 {
		if cond, condArgs, ok := compileClause(plan.Clauses[0]); ok {
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

func compileClause(c history.Clause) (string, []interface{}, bool) {
	extract := fmt.Sprintf(`json_extract("doc", '%s')`, jsonPath(c.Field))

	if c.Op == history.IN {
		values, ok := membersOf(c.Value)
		if !ok || len(values) == 0 {
			return "", nil, false
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
		return fmt.Sprintf(`%s IN (%s)`, extract, placeholders), values, true
	}

	if n, ok := domain.AsNumber(c.Value); ok {
		return fmt.Sprintf(`%s %s ?`, extract, sqlOp(c.Op)), []interface{}{n}, true
	}
	if s, ok := c.Value.(string); ok {
		return fmt.Sprintf(`%s %s ?`, extract, sqlOp(c.Op)), []interface{}{s}, true
	}

	return "", nil, false
}

func sqlOp(op history.Op) string {
	if op == history.EQ {
		return "="
	}
	return string(op)
}

// jsonPath renders a dot-path as a json_extract path. Steps are quoted,
// so field names with unusual characters cannot escape the path
// literal.
func jsonPath(field string) string {
	steps := strings.Split(field, ".")
	var sb strings.Builder
	sb.WriteString("$")
	for _, step := range steps {
		step = strings.ReplaceAll(step, `"`, ``)
		step = strings.ReplaceAll(step, `'`, ``)
		fmt.Fprintf(&sb, `."%s"`, step)
	}
	return sb.String()
}

func membersOf(v any) ([]interface{}, bool) {
	switch sli := v.(type) {
	case []string:
		out := make([]interface{}, len(sli))
		for nth, e := range sli {
			out[nth] = e
		}
		return out, true
	case []any:
		for _, e := range sli {
			switch e.(type) {
			case string, int, int64, float64:
			default:
				return nil, false
			}
		}
		return sli, true
	default:
		return nil, false
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
