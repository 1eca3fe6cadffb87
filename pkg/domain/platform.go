package domain

import "fmt"

// Platform identifies a compute backend a Run executes on.
//
// This is a closed enumeration: the core never decides where a job
// runs, it only records the caller's choice and reconciles against it.
type Platform string

const (
	// Cloud AI Platform training jobs, polled over REST.
	CAIP Platform = "CAIP"

	// Kubernetes batch Jobs on a GKE cluster.
	GKE Platform = "GKE"

	// Jobs executed on the submitting machine. Terminal at submission.
	Local Platform = "LOCAL"

	// Test double platform with randomized, eventually-terminal statuses.
	Test Platform = "TEST"
)

func (p Platform) String() string {
	return string(p)
}

func AsPlatform(expr string) (Platform, error) {
	switch expr {
	case string(CAIP):
		return CAIP, nil
	case string(GKE):
		return GKE, nil
	case string(Local):
		return Local, nil
	case string(Test):
		return Test, nil
	default:
		return "", fmt.Errorf("'%s' is not Platform", expr)
	}
}

func Platforms() []Platform {
	return []Platform{CAIP, GKE, Local, Test}
}
