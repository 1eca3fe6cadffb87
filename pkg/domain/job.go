package domain

import (
	"time"

	"github.com/google/caliban-sub000/pkg/utils/cmp"
)

// Job is the platform-independent unit of work derived from an Experiment.
//
// Canonically one Experiment owns exactly one Job, so the job id is a
// content id over the experiment id. A Job may have zero or more Runs.
type Job struct {
	Id           string
	Name         string
	ExperimentId string
	Args         []string
	Kwargs       map[string]any
	User         string
	CreatedAt    time.Time
}

func JobId(experimentId string) string {
	return contentId("job", experimentId)
}

// NewJob derives the canonical Job of an experiment. Args and Kwargs
// are inherited from the experiment.
func NewJob(name string, e *Experiment, now time.Time) *Job {
	return &Job{
		Id:           JobId(e.Id),
		Name:         name,
		ExperimentId: e.Id,
		Args:         e.Args,
		Kwargs:       e.Kwargs,
		User:         e.User,
		CreatedAt:    now.UTC(),
	}
}

func (j *Job) Equal(o *Job) bool {
	if (j == nil) || (o == nil) {
		return (j == nil) && (o == nil)
	}
	return j.Id == o.Id &&
		j.Name == o.Name &&
		j.ExperimentId == o.ExperimentId &&
		cmp.SliceEq(j.Args, o.Args) &&
		MapScalarEq(j.Kwargs, o.Kwargs) &&
		j.User == o.User &&
		j.CreatedAt.Equal(o.CreatedAt)
}

func (j *Job) ToRecord() Record {
	return Record{
		"id":            j.Id,
		"name":          j.Name,
		"experiment_id": j.ExperimentId,
		"args":          j.Args,
		"kwargs":        j.Kwargs,
		"user":          j.User,
		"created_at":    j.CreatedAt.Format(TimeLayout),
	}
}

func JobFromRecord(r Record) (*Job, error) {
	j := &Job{}
	var err error
	if j.Id, err = recordString(r, "id"); err != nil {
		return nil, err
	}
	if j.Name, err = recordString(r, "name"); err != nil {
		return nil, err
	}
	if j.ExperimentId, err = recordString(r, "experiment_id"); err != nil {
		return nil, err
	}
	if j.Args, err = recordStringSlice(r, "args"); err != nil {
		return nil, err
	}
	if j.Kwargs, err = recordMap(r, "kwargs"); err != nil {
		return nil, err
	}
	if j.User, err = recordString(r, "user"); err != nil {
		return nil, err
	}
	if j.CreatedAt, err = recordTime(r, "created_at"); err != nil {
		return nil, err
	}
	return j, nil
}
