package domain

// JobSpec is the platform-specific materialized submission payload of
// an experiment: a training-job request body, a k8s Job document, a
// local command line. The core treats Spec as opaque.
//
// Deduplicated per (experiment, spec, platform).
type JobSpec struct {
	Id           string
	ExperimentId string
	Platform     Platform
	Spec         map[string]any
}

func JobSpecId(experimentId string, platform Platform, spec map[string]any) string {
	return contentId("jobspec", map[string]any{
		"experiment": experimentId,
		"platform":   string(platform),
		"spec":       spec,
	})
}

func NewJobSpec(experimentId string, platform Platform, spec map[string]any) *JobSpec {
	return &JobSpec{
		Id:           JobSpecId(experimentId, platform, spec),
		ExperimentId: experimentId,
		Platform:     platform,
		Spec:         spec,
	}
}

func (s *JobSpec) Equal(o *JobSpec) bool {
	if (s == nil) || (o == nil) {
		return (s == nil) && (o == nil)
	}
	// Spec content is covered by the content id.
	return s.Id == o.Id &&
		s.ExperimentId == o.ExperimentId &&
		s.Platform == o.Platform
}

func (s *JobSpec) ToRecord() Record {
	return Record{
		"id":            s.Id,
		"experiment_id": s.ExperimentId,
		"platform":      string(s.Platform),
		"spec":          s.Spec,
	}
}

func JobSpecFromRecord(r Record) (*JobSpec, error) {
	s := &JobSpec{}
	var err error
	if s.Id, err = recordString(r, "id"); err != nil {
		return nil, err
	}
	if s.ExperimentId, err = recordString(r, "experiment_id"); err != nil {
		return nil, err
	}
	platformExpr, err := recordString(r, "platform")
	if err != nil {
		return nil, err
	}
	if s.Platform, err = AsPlatform(platformExpr); err != nil {
		return nil, err
	}
	if s.Spec, err = recordMap(r, "spec"); err != nil {
		return nil, err
	}
	return s, nil
}
