package history

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/caliban-sub000/pkg/domain"
	"github.com/google/caliban-sub000/pkg/utils"
)

// Typed read helpers over the Record-shaped storage contract.
//
// Backends only speak Records; everything above the storage edge goes
// through these to get typed entities back.

func decodeAll[T any](records []domain.Record, fromRecord func(domain.Record) (T, error)) ([]T, error) {
	return utils.MapUntilError(records, fromRecord)
}

// Find runs a query and decodes every result.
func Find[T any](ctx context.Context, q Query, fromRecord func(domain.Record) (T, error)) ([]T, error) {
	cur, err := q.Execute(ctx)
	if err != nil {
		return nil, err
	}
	records, err := Collect(cur)
	if err != nil {
		return nil, err
	}
	return decodeAll(records, fromRecord)
}

// Get fetches one entity by id and decodes it.
func Get[T any](
	ctx context.Context,
	col Collection,
	id string,
	fromRecord func(domain.Record) (T, error),
) (T, bool, error) {
	rec, ok, err := col.Get(ctx, id)
	if err != nil || !ok {
		return *new(T), ok, err
	}
	v, err := fromRecord(rec)
	if err != nil {
		return *new(T), false, fmt.Errorf("collection %s: entity %s: %w", col.Name(), id, err)
	}
	return v, true, nil
}

// FindGroupByName is the lookup half of the group get-or-create.
func FindGroupByName(ctx context.Context, s Storage, name string) (*domain.ExperimentGroup, bool, error) {
	groups, err := Find(
		ctx,
		s.Collection(CollectionGroups).Where("name", EQ, name).Limit(1),
		domain.ExperimentGroupFromRecord,
	)
	if err != nil {
		return nil, false, err
	}
	if len(groups) == 0 {
		return nil, false, nil
	}
	return groups[0], true, nil
}

// MostRecentGroup returns the group with the latest creation timestamp
// among the user's groups.
func MostRecentGroup(ctx context.Context, s Storage, user string) (*domain.ExperimentGroup, bool, error) {
	groups, err := Find(
		ctx,
		s.Collection(CollectionGroups).Where("user", EQ, user),
		domain.ExperimentGroupFromRecord,
	)
	if err != nil || len(groups) == 0 {
		return nil, false, err
	}
	latest := groups[0]
	for _, g := range groups[1:] {
		if g.CreatedAt.After(latest.CreatedAt) {
			latest = g
		}
	}
	return latest, true, nil
}

func ExperimentsInGroup(ctx context.Context, s Storage, groupId string) ([]*domain.Experiment, error) {
	return Find(
		ctx,
		s.Collection(CollectionExperiments).Where("group_id", EQ, groupId),
		domain.ExperimentFromRecord,
	)
}

func JobsOfExperiment(ctx context.Context, s Storage, experimentId string) ([]*domain.Job, error) {
	jobs, err := Find(
		ctx,
		s.Collection(CollectionJobs).Where("experiment_id", EQ, experimentId),
		domain.JobFromRecord,
	)
	if err != nil {
		return nil, err
	}
	sortJobs(jobs)
	return jobs, nil
}

func RunsOfJob(ctx context.Context, s Storage, jobId string) ([]*domain.Run, error) {
	return Find(
		ctx,
		s.Collection(CollectionRuns).Where("job_id", EQ, jobId),
		domain.RunFromRecord,
	)
}

// LatestRun picks the newest run, or nil when there are none.
//
// Runs are append-only, so "newest" is the largest creation timestamp.
func LatestRun(runs []*domain.Run) *domain.Run {
	var latest *domain.Run
	for _, r := range runs {
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	return latest
}

// RecentJobsOfUser returns up to max of the user's newest jobs across
// all groups. Backends without native ordering make this an over-fetch
// plus a client-side sort; acceptable for a per-user working set.
func RecentJobsOfUser(ctx context.Context, s Storage, user string, max int) ([]*domain.Job, error) {
	jobs, err := Find(
		ctx,
		s.Collection(CollectionJobs).Where("user", EQ, user),
		domain.JobFromRecord,
	)
	if err != nil {
		return nil, err
	}
	sortJobs(jobs)
	if 0 < max && max < len(jobs) {
		jobs = jobs[:max]
	}
	return jobs, nil
}

func sortJobs(jobs []*domain.Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[j].CreatedAt.Before(jobs[i].CreatedAt) // newest first
	})
}

func GetContainerSpec(ctx context.Context, s Storage, id string) (*domain.ContainerSpec, bool, error) {
	return Get(ctx, s.Collection(CollectionContainerSpecs), id, domain.ContainerSpecFromRecord)
}

func GetExperiment(ctx context.Context, s Storage, id string) (*domain.Experiment, bool, error) {
	return Get(ctx, s.Collection(CollectionExperiments), id, domain.ExperimentFromRecord)
}

func GetJob(ctx context.Context, s Storage, id string) (*domain.Job, bool, error) {
	return Get(ctx, s.Collection(CollectionJobs), id, domain.JobFromRecord)
}

func GetJobSpec(ctx context.Context, s Storage, id string) (*domain.JobSpec, bool, error) {
	return Get(ctx, s.Collection(CollectionJobSpecs), id, domain.JobSpecFromRecord)
}

func GetRun(ctx context.Context, s Storage, id string) (*domain.Run, bool, error) {
	return Get(ctx, s.Collection(CollectionRuns), id, domain.RunFromRecord)
}
