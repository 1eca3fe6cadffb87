package history

import (
	"fmt"
	"time"

	"github.com/google/caliban-sub000/pkg/domain"
)

// Sweep is the value-level expansion of a NewExperiment request:
// everything a backend has to persist, with all ids already decided.
//
// Expansion is pure; backends only get-or-create each piece inside
// their own transactional scope.
type Sweep struct {
	Group       *domain.ExperimentGroup
	Container   *domain.ContainerSpec
	Experiments []*domain.Experiment
	Jobs        []*domain.Job
}

// Expand builds the sweep for req.
//
// group may carry the already-persisted group of the same name; pass
// nil to mint a new one. Experiments and Jobs are index-aligned
// (canonically 1:1).
func Expand(req NewExperiment, group *domain.ExperimentGroup, now time.Time) (*Sweep, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if group == nil {
		group = domain.NewExperimentGroup(req.XGroup, req.User, now)
	} else if group.Name != req.XGroup {
		return nil, fmt.Errorf("experiment group mismatch: %s != %s", group.Name, req.XGroup)
	}

	container := domain.NewContainerSpec(req.User, req.Build)

	configs := req.Configs
	if len(configs) == 0 {
		configs = []map[string]any{nil}
	}

	sweep := &Sweep{Group: group, Container: container}
	for nth, kwargs := range configs {
		exp := domain.NewExperiment(group, container, req.Args, kwargs, req.User, now)
		name := fmt.Sprintf("%s-%d", req.XGroup, nth+1)
		if req.Command != "" {
			name = fmt.Sprintf("%s-%s-%d", req.XGroup, req.Command, nth+1)
		}
		sweep.Experiments = append(sweep.Experiments, exp)
		sweep.Jobs = append(sweep.Jobs, domain.NewJob(name, exp, now))
	}
	return sweep, nil
}
