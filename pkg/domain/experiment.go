package domain

import (
	"time"

	"github.com/google/caliban-sub000/pkg/utils/cmp"
)

// Experiment is one concrete point of a parameter sweep.
//
// Args are shared across all experiments of the sweep; Kwargs hold this
// experiment's specific parameter values (JSON scalars).
type Experiment struct {
	Id              string
	GroupId         string
	ContainerSpecId string
	Args            []string
	Kwargs          map[string]any
	User            string
	CreatedAt       time.Time
}

// ExperimentId is the dedup key (xgroup, container spec, args, kwargs)
// as a content id: recreating an identical experiment resolves to the
// existing record.
func ExperimentId(groupId, containerSpecId string, args []string, kwargs map[string]any) string {
	return contentId("experiment", map[string]any{
		"group":     groupId,
		"container": containerSpecId,
		"args":      args,
		"kwargs":    kwargs,
	})
}

func NewExperiment(
	group *ExperimentGroup,
	container *ContainerSpec,
	args []string,
	kwargs map[string]any,
	user string,
	now time.Time,
) *Experiment {
	return &Experiment{
		Id:              ExperimentId(group.Id, container.Id, args, kwargs),
		GroupId:         group.Id,
		ContainerSpecId: container.Id,
		Args:            args,
		Kwargs:          kwargs,
		User:            user,
		CreatedAt:       now.UTC(),
	}
}

func (e *Experiment) Equal(o *Experiment) bool {
	if (e == nil) || (o == nil) {
		return (e == nil) && (o == nil)
	}
	return e.Id == o.Id &&
		e.GroupId == o.GroupId &&
		e.ContainerSpecId == o.ContainerSpecId &&
		cmp.SliceEq(e.Args, o.Args) &&
		MapScalarEq(e.Kwargs, o.Kwargs) &&
		e.User == o.User &&
		e.CreatedAt.Equal(o.CreatedAt)
}

func (e *Experiment) ToRecord() Record {
	return Record{
		"id":             e.Id,
		"group_id":       e.GroupId,
		"container_spec": e.ContainerSpecId,
		"args":           e.Args,
		"kwargs":         e.Kwargs,
		"user":           e.User,
		"created_at":     e.CreatedAt.Format(TimeLayout),
	}
}

func ExperimentFromRecord(r Record) (*Experiment, error) {
	e := &Experiment{}
	var err error
	if e.Id, err = recordString(r, "id"); err != nil {
		return nil, err
	}
	if e.GroupId, err = recordString(r, "group_id"); err != nil {
		return nil, err
	}
	if e.ContainerSpecId, err = recordString(r, "container_spec"); err != nil {
		return nil, err
	}
	if e.Args, err = recordStringSlice(r, "args"); err != nil {
		return nil, err
	}
	if e.Kwargs, err = recordMap(r, "kwargs"); err != nil {
		return nil, err
	}
	if e.User, err = recordString(r, "user"); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = recordTime(r, "created_at"); err != nil {
		return nil, err
	}
	return e, nil
}
