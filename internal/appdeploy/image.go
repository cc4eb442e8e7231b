// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package appdeploy

import (
	"fmt"
	"regexp"

	"github.com/juju/errors"
)

// ImageSpec describes the application image to build.
type ImageSpec struct {
	// Registry is the login server of the container registry.
	Registry string
	// RegistryName is the registry resource name, used to log in.
	RegistryName string
	Repository   string
	Tag          string
	// Context is the docker build context directory.
	Context    string
	Dockerfile string
}

var validTag = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]{0,127}$`)

// Validate returns an error if spec cannot be built.
func (spec ImageSpec) Validate() error {
	if spec.Registry == "" {
		return errors.NotValidf("empty registry")
	}
	if spec.Repository == "" {
		return errors.NotValidf("empty repository")
	}
	if !validTag.MatchString(spec.Tag) {
		return errors.NotValidf("image tag %q", spec.Tag)
	}
	if spec.Context == "" {
		return errors.NotValidf("empty build context")
	}
	return nil
}

// Ref returns the reference the image is pushed to.
func (spec ImageSpec) Ref() ImageRef {
	return ImageRef{
		Registry:   spec.Registry,
		Repository: spec.Repository,
		Tag:        spec.Tag,
	}
}

// ImageRef is a pushed image.
type ImageRef struct {
	Registry   string `yaml:"registry" json:"registry"`
	Repository string `yaml:"repository" json:"repository"`
	Tag        string `yaml:"tag" json:"tag"`
}

// String returns the image reference in docker notation.
func (r ImageRef) String() string {
	return fmt.Sprintf("%s/%s:%s", r.Registry, r.Repository, r.Tag)
}

// IsZero reports whether r refers to no image.
func (r ImageRef) IsZero() bool {
	return r == ImageRef{}
}
