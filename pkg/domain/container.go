package domain

import (
	"github.com/google/caliban-sub000/pkg/utils/cmp"
)

// BuildSpec is the set of parameters a container image is built from.
//
// Two BuildSpecs with structurally equal content are the same build:
// they share one digest, and submissions referring to them resolve to
// one ContainerSpec.
type BuildSpec struct {
	// base docker image the build starts from.
	BaseImage string

	// dependency manifests baked into the image (requirements.txt, setup.py, ...).
	DependencyFiles []string

	// extra directories copied into the build context.
	ExtraDirs []string

	// path of the credentials file wired into the image, if any.
	CredentialsPath string

	Accelerator Accelerator
}

// Digest is the dedup key of the build, also used as ContainerSpec id.
func (b BuildSpec) Digest() string {
	return contentId("container", map[string]any{
		"base_image":       b.BaseImage,
		"dependency_files": b.DependencyFiles,
		"extra_dirs":       b.ExtraDirs,
		"credentials_path": b.CredentialsPath,
		"accelerator":      b.Accelerator.String(),
	})
}

func (b BuildSpec) Equal(o BuildSpec) bool {
	return b.BaseImage == o.BaseImage &&
		cmp.SliceEq(b.DependencyFiles, o.DependencyFiles) &&
		cmp.SliceEq(b.ExtraDirs, o.ExtraDirs) &&
		b.CredentialsPath == o.CredentialsPath &&
		b.Accelerator.Equal(o.Accelerator)
}

// ContainerSpec is a deduplicated description of a container build.
//
// Created when a job or experiment is first built. Never mutated.
type ContainerSpec struct {
	Id    string
	User  string
	Build BuildSpec
}

// NewContainerSpec derives the ContainerSpec for build. Its id is the
// build digest, so re-creating with identical content yields the same id.
func NewContainerSpec(user string, build BuildSpec) *ContainerSpec {
	return &ContainerSpec{
		Id:    build.Digest(),
		User:  user,
		Build: build,
	}
}

func (c *ContainerSpec) Equal(o *ContainerSpec) bool {
	if (c == nil) || (o == nil) {
		return (c == nil) && (o == nil)
	}
	return c.Id == o.Id && c.User == o.User && c.Build.Equal(o.Build)
}

func (c *ContainerSpec) ToRecord() Record {
	return Record{
		"id":   c.Id,
		"user": c.User,
		"build": Record{
			"base_image":       c.Build.BaseImage,
			"dependency_files": c.Build.DependencyFiles,
			"extra_dirs":       c.Build.ExtraDirs,
			"credentials_path": c.Build.CredentialsPath,
			"accelerator":      c.Build.Accelerator.toRecord(),
		},
	}
}

func ContainerSpecFromRecord(r Record) (*ContainerSpec, error) {
	c := &ContainerSpec{}
	var err error
	if c.Id, err = recordString(r, "id"); err != nil {
		return nil, err
	}
	if c.User, err = recordString(r, "user"); err != nil {
		return nil, err
	}
	build, err := recordMap(r, "build")
	if err != nil {
		return nil, err
	}
	if c.Build.BaseImage, err = recordString(build, "base_image"); err != nil {
		return nil, err
	}
	if c.Build.DependencyFiles, err = recordStringSlice(build, "dependency_files"); err != nil {
		return nil, err
	}
	if c.Build.ExtraDirs, err = recordStringSlice(build, "extra_dirs"); err != nil {
		return nil, err
	}
	if c.Build.CredentialsPath, err = recordString(build, "credentials_path"); err != nil {
		return nil, err
	}
	accRec, err := recordMap(build, "accelerator")
	if err != nil {
		return nil, err
	}
	if c.Build.Accelerator, err = acceleratorFromRecord(accRec); err != nil {
		return nil, err
	}
	return c, nil
}
