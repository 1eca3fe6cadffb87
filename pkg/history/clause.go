package history

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/google/caliban-sub000/pkg/domain"
)

// Op is a comparison operator of a Clause.
type Op string

const (
	LT Op = "<"
	LE Op = "<="
	GT Op = ">"
	GE Op = ">="
	EQ Op = "=="
	IN Op = "in"
)

func AsOp(expr string) (Op, error) {
	switch expr {
	case string(LT):
		return LT, nil
	case string(LE):
		return LE, nil
	case string(GT):
		return GT, nil
	case string(GE):
		return GE, nil
	case string(EQ), "=":
		return EQ, nil
	case string(IN):
		return IN, nil
	default:
		return "", fmt.Errorf("'%s' is not Op", expr)
	}
}

// Clause is a single `field op value` predicate.
//
// Field is a dot-path into a Record ("kwargs.learning_rate"). The same
// Clause serves both as a backend-native filter (compiled to SQL by the
// document-store backends) and as an in-process predicate via Matches.
type Clause struct {
	Field string
	Op    Op
	Value any
}

func (c Clause) String() string {
	return fmt.Sprintf("%s %s %v", c.Field, c.Op, c.Value)
}

// Validate rejects genuinely malformed clauses. A field that merely
// does not exist in any record is NOT malformed; that is a tolerant
// no-match at evaluation time.
func (c Clause) Validate() error {
	if strings.TrimSpace(c.Field) == "" {
		return fmt.Errorf("%w: empty clause field", ErrMalformedQuery)
	}
	if _, err := AsOp(string(c.Op)); err != nil {
		return fmt.Errorf("%w: %s", ErrMalformedQuery, err)
	}
	if c.Op == IN {
		if k := reflect.ValueOf(c.Value).Kind(); k != reflect.Slice && k != reflect.Array {
			return fmt.Errorf("%w: 'in' needs a slice value, got %T", ErrMalformedQuery, c.Value)
		}
	}
	return nil
}

// Matches evaluates the clause against the dict form of a record.
//
// A missing intermediate key or a comparison across incompatible types
// is a non-match, never an error.
func (c Clause) Matches(r domain.Record) bool {
	v, ok := LookupPath(r, c.Field)
	if !ok {
		return false
	}

	switch c.Op {
	case EQ:
		return domain.ScalarEq(v, c.Value)
	case IN:
		rv := reflect.ValueOf(c.Value)
		if k := rv.Kind(); k != reflect.Slice && k != reflect.Array {
			return false
		}
		for i := 0; i < rv.Len(); i++ {
			if domain.ScalarEq(v, rv.Index(i).Interface()) {
				return true
			}
		}
		return false
	case LT, LE, GT, GE:
		return ordered(c.Op, v, c.Value)
	default:
		return false
	}
}

func ordered(op Op, got, want any) bool {
	if gn, ok := domain.AsNumber(got); ok {
		wn, ok := domain.AsNumber(want)
		if !ok {
			return false
		}
		switch op {
		case LT:
			return gn < wn
		case LE:
			return gn <= wn
		case GT:
			return gn > wn
		case GE:
			return gn >= wn
		}
		return false
	}

	gs, ok := got.(string)
	if !ok {
		return false
	}
	ws, ok := want.(string)
	if !ok {
		return false
	}
	switch op {
	case LT:
		return gs < ws
	case LE:
		return gs <= ws
	case GT:
		return gs > ws
	case GE:
		return gs >= ws
	}
	return false
}

// LookupPath walks a dot-path through nested maps.
func LookupPath(r domain.Record, path string) (any, bool) {
	steps := strings.Split(path, ".")
	var cur any = map[string]any(r)
	for _, step := range steps {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[step]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
