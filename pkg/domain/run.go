package domain

import (
	"time"

	"github.com/google/uuid"
)

// Run is one attempt to execute a Job on a specific Platform.
//
// Runs are append-only: cloning a Run submits afresh and records a new
// Run, it never rewrites the original. The only field that moves after
// creation is Status, refreshed by reconciliation until it is terminal.
type Run struct {
	Id        string
	JobId     string
	SpecId    string
	User      string
	Platform  Platform
	Status    JobStatus
	CreatedAt time.Time

	// platform-specific blob returned at submission
	// (remote job id, cluster reference, ...). Opaque to the core.
	Details map[string]any
}

func NewRun(
	job *Job,
	spec *JobSpec,
	status JobStatus,
	details map[string]any,
	now time.Time,
) *Run {
	return &Run{
		Id:        uuid.NewString(),
		JobId:     job.Id,
		SpecId:    spec.Id,
		User:      job.User,
		Platform:  spec.Platform,
		Status:    status,
		CreatedAt: now.UTC(),
		Details:   details,
	}
}

func (r *Run) Equal(o *Run) bool {
	if (r == nil) || (o == nil) {
		return (r == nil) && (o == nil)
	}
	return r.Id == o.Id &&
		r.JobId == o.JobId &&
		r.SpecId == o.SpecId &&
		r.User == o.User &&
		r.Platform == o.Platform &&
		r.Status == o.Status &&
		r.CreatedAt.Equal(o.CreatedAt) &&
		MapScalarEq(r.Details, o.Details)
}

func (r *Run) ToRecord() Record {
	return Record{
		"id":         r.Id,
		"job_id":     r.JobId,
		"spec_id":    r.SpecId,
		"user":       r.User,
		"platform":   string(r.Platform),
		"status":     string(r.Status),
		"created_at": r.CreatedAt.Format(TimeLayout),
		"details":    r.Details,
	}
}

func RunFromRecord(rec Record) (*Run, error) {
	r := &Run{}
	var err error
	if r.Id, err = recordString(rec, "id"); err != nil {
		return nil, err
	}
	if r.JobId, err = recordString(rec, "job_id"); err != nil {
		return nil, err
	}
	if r.SpecId, err = recordString(rec, "spec_id"); err != nil {
		return nil, err
	}
	if r.User, err = recordString(rec, "user"); err != nil {
		return nil, err
	}
	platformExpr, err := recordString(rec, "platform")
	if err != nil {
		return nil, err
	}
	if r.Platform, err = AsPlatform(platformExpr); err != nil {
		return nil, err
	}
	statusExpr, err := recordString(rec, "status")
	if err != nil {
		return nil, err
	}
	if r.Status, err = AsJobStatus(statusExpr); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = recordTime(rec, "created_at"); err != nil {
		return nil, err
	}
	if r.Details, err = recordMap(rec, "details"); err != nil {
		return nil, err
	}
	return r, nil
}
