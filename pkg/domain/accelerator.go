package domain

import "fmt"

// AcceleratorKind discriminates the accelerator union.
type AcceleratorKind string

const (
	AccNone AcceleratorKind = "NONE"
	AccGPU  AcceleratorKind = "GPU"
	AccTPU  AcceleratorKind = "TPU"
)

func AsAcceleratorKind(expr string) (AcceleratorKind, error) {
	switch expr {
	case string(AccNone), "":
		return AccNone, nil
	case string(AccGPU):
		return AccGPU, nil
	case string(AccTPU):
		return AccTPU, nil
	default:
		return "", fmt.Errorf("'%s' is not AcceleratorKind", expr)
	}
}

// Accelerator describes what accelerator a container is built for.
//
// Kind == AccNone means Type and Count are zero and ignored.
type Accelerator struct {
	Kind  AcceleratorKind
	Type  string
	Count int
}

func NoAccelerator() Accelerator {
	return Accelerator{Kind: AccNone}
}

func (a Accelerator) Equal(o Accelerator) bool {
	if a.Kind != o.Kind {
		return false
	}
	switch a.Kind {
	case AccNone:
		return true
	case AccGPU, AccTPU:
		return a.Type == o.Type && a.Count == o.Count
	default:
		return false
	}
}

func (a Accelerator) String() string {
	switch a.Kind {
	case AccGPU, AccTPU:
		return fmt.Sprintf("%s:%sx%d", a.Kind, a.Type, a.Count)
	default:
		return string(AccNone)
	}
}

func (a Accelerator) toRecord() Record {
	return Record{
		"kind":  string(a.Kind),
		"type":  a.Type,
		"count": a.Count,
	}
}

func acceleratorFromRecord(r Record) (Accelerator, error) {
	if r == nil {
		return NoAccelerator(), nil
	}
	kindExpr, err := recordString(r, "kind")
	if err != nil {
		return Accelerator{}, err
	}
	kind, err := AsAcceleratorKind(kindExpr)
	if err != nil {
		return Accelerator{}, err
	}
	acc := Accelerator{Kind: kind}
	if kind == AccNone {
		return acc, nil
	}
	if acc.Type, err = recordString(r, "type"); err != nil {
		return Accelerator{}, err
	}
	count, ok := AsNumber(r["count"])
	if !ok {
		return Accelerator{}, fmt.Errorf("record: field %q: expected number, got %T", "count", r["count"])
	}
	acc.Count = int(count)
	return acc, nil
}
