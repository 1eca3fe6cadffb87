package domain

import "fmt"

// JobStatus is the canonical, cross-platform status taxonomy.
//
// Each platform maps its own (possibly unbounded) vendor states onto
// these values during reconciliation.
type JobStatus string

const (
	// accepted by the platform, no work observed yet.
	Submitted JobStatus = "SUBMITTED"

	// at least some work has been observed on the platform.
	Running JobStatus = "RUNNING"

	// finished successfully.
	Succeeded JobStatus = "SUCCEEDED"

	// finished with error.
	Failed JobStatus = "FAILED"

	// cancelled, either locally or on the platform.
	Stopped JobStatus = "STOPPED"

	// the platform no longer knows the job. No state change is expected.
	Unavailable JobStatus = "UNAVAILABLE"

	// the platform could not be asked, or answered something unmappable.
	// Re-pollable.
	Unknown JobStatus = "UNKNOWN"
)

func (s JobStatus) String() string {
	return string(s)
}

// Terminal reports whether no further state change is expected.
//
// Once a Run reaches a terminal status, reconciliation short-circuits
// and never touches the platform again for that Run.
func (s JobStatus) Terminal() bool {
	switch s {
	case Succeeded, Failed, Stopped, Unavailable:
		return true
	default:
		return false
	}
}

func TerminalStatuses() []JobStatus {
	return []JobStatus{Succeeded, Failed, Stopped, Unavailable}
}

func JobStatuses() []JobStatus {
	return []JobStatus{Submitted, Running, Succeeded, Failed, Stopped, Unavailable, Unknown}
}

func AsJobStatus(expr string) (JobStatus, error) {
	switch expr {
	case string(Submitted):
		return Submitted, nil
	case string(Running):
		return Running, nil
	case string(Succeeded):
		return Succeeded, nil
	case string(Failed):
		return Failed, nil
	case string(Stopped):
		return Stopped, nil
	case string(Unavailable):
		return Unavailable, nil
	case string(Unknown):
		return Unknown, nil
	default:
		return "", fmt.Errorf("'%s' is not JobStatus", expr)
	}
}
