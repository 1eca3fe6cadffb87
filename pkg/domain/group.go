package domain

import (
	"time"

	"github.com/google/uuid"
)

// ExperimentGroup is a named bucket tying related experiments together.
//
// Groups are get-or-create by Name: looking a name up returns the
// existing group rather than minting a duplicate.
type ExperimentGroup struct {
	Id        string
	Name      string
	User      string
	CreatedAt time.Time
}

func NewExperimentGroup(name, user string, now time.Time) *ExperimentGroup {
	return &ExperimentGroup{
		Id:        uuid.NewString(),
		Name:      name,
		User:      user,
		CreatedAt: now.UTC(),
	}
}

func (g *ExperimentGroup) Equal(o *ExperimentGroup) bool {
	if (g == nil) || (o == nil) {
		return (g == nil) && (o == nil)
	}
	return g.Id == o.Id &&
		g.Name == o.Name &&
		g.User == o.User &&
		g.CreatedAt.Equal(o.CreatedAt)
}

func (g *ExperimentGroup) ToRecord() Record {
	return Record{
		"id":         g.Id,
		"name":       g.Name,
		"user":       g.User,
		"created_at": g.CreatedAt.Format(TimeLayout),
	}
}

func ExperimentGroupFromRecord(r Record) (*ExperimentGroup, error) {
	g := &ExperimentGroup{}
	var err error
	if g.Id, err = recordString(r, "id"); err != nil {
		return nil, err
	}
	if g.Name, err = recordString(r, "name"); err != nil {
		return nil, err
	}
	if g.User, err = recordString(r, "user"); err != nil {
		return nil, err
	}
	if g.CreatedAt, err = recordTime(r, "created_at"); err != nil {
		return nil, err
	}
	return g, nil
}
