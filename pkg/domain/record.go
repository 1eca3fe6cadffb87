package domain

import (
	"fmt"
	"time"
)

// Record is the dict serialization of an entity.
//
// It is the only shape crossing the storage boundary: every backend
// persists and yields Records, and every entity is reconstructible from
// one via its FromRecord constructor. Field names are stable across
// backends. Values are JSON scalars, []any or nested map[string]any.
type Record = map[string]any

// Timestamp layout used in Records. Stable across backends.
const TimeLayout = time.RFC3339Nano

func recordString(r Record, field string) (string, error) {
	v, ok := r[field]
	if !ok {
		return "", fmt.Errorf("record: missing field %q", field)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("record: field %q: expected string, got %T", field, v)
	}
	return s, nil
}

func recordTime(r Record, field string) (time.Time, error) {
	s, err := recordString(r, field)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("record: field %q: %w", field, err)
	}
	return t, nil
}

// recordStringSlice tolerates both []string and []any (the shape JSON
// decoding gives back).
func recordStringSlice(r Record, field string) ([]string, error) {
	v, ok := r[field]
	if !ok || v == nil {
		return nil, nil
	}
	switch sli := v.(type) {
	case []string:
		out := make([]string, len(sli))
		copy(out, sli)
		return out, nil
	case []any:
		out := make([]string, len(sli))
		for nth, e := range sli {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("record: field %q[%d]: expected string, got %T", field, nth, e)
			}
			out[nth] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("record: field %q: expected string slice, got %T", field, v)
	}
}

func recordMap(r Record, field string) (map[string]any, error) {
	v, ok := r[field]
	if !ok || v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("record: field %q: expected map, got %T", field, v)
	}
	out := make(map[string]any, len(m))
	for k, e := range m {
		out[k] = e
	}
	return out, nil
}

// ScalarEq compares two JSON scalar values, coercing numeric types to
// float64 so that 2, int64(2), and 2.0 compare equal.
func ScalarEq(a, b any) bool {
	if fa, ok := AsNumber(a); ok {
		fb, ok := AsNumber(b)
		return ok && fa == fb
	}
	return a == b
}

// AsNumber reports v as float64 when it carries any numeric type.
func AsNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// MapScalarEq compares two scalar-valued maps with ScalarEq per value.
func MapScalarEq(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok || !ScalarEq(va, vb) {
			return false
		}
	}
	return true
}
