// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package environment

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"

	"github.com/juju/errors"
)

// Name identifies one of the deployment targets of a project.
type Name string

const (
	Dev     Name = "dev"
	Staging Name = "staging"
	Prod    Name = "prod"
)

// All holds every known environment name, in promotion order.
var All = []Name{Dev, Staging, Prod}

// String returns the name as a string.
func (n Name) String() string {
	return string(n)
}

// Validate returns a NotValid error if the name is not a known environment.
func (n Name) Validate() error {
	switch n {
	case Dev, Staging, Prod:
		return nil
	}
	return errors.NotValidf("environment %q", string(n))
}

// ParseName returns the Name for s.
func ParseName(s string) (Name, error) {
	n := Name(strings.TrimSpace(s))
	if err := n.Validate(); err != nil {
		return "", errors.Trace(err)
	}
	return n, nil
}

const (
	// ManagedByTag is the tag key set on every resource envctl creates.
	ManagedByTag = "managed-by"
	// ManagedByValue is the value of ManagedByTag.
	ManagedByValue = "envctl"
	// ProjectTag records the owning project.
	ProjectTag = "project"
	// EnvironmentTag records the owning environment.
	EnvironmentTag = "environment"

	// StateContainer is the blob container holding terraform state.
	StateContainer = "tfstate"
)

var validProject = regexp.MustCompile(`^[a-z][a-z0-9-]{1,30}[a-z0-9]$`)

// ValidateProject checks that project can be used as a resource name prefix.
func ValidateProject(project string) error {
	if !validProject.MatchString(project) {
		return errors.NotValidf("project name %q", project)
	}
	return nil
}

// ResourceGroupName returns the resource group holding an environment.
func ResourceGroupName(project string, name Name) string {
	return fmt.Sprintf("%s-%s-rg", project, name)
}

// StateResourceGroupName returns the resource group holding the
// terraform state backend shared by all environments of project.
func StateResourceGroupName(project string) string {
	return fmt.Sprintf("%s-terraform-state-rg", project)
}

// StorageAccountName returns the deterministic name of the state
// storage account. Storage account names are global, so a short hash of
// the subscription keeps them distinct between subscriptions while
// remaining stable across runs.
func StorageAccountName(project, subscriptionID string) string {
	prefix := compact(project)
	if len(prefix) > 11 {
		prefix = prefix[:11]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(subscriptionID)))
	return fmt.Sprintf("%stfstate%06x", prefix, h.Sum32()&0xffffff)
}

// compact strips everything but lower case letters and digits, as
// required by resources that disallow hyphens.
func compact(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// BackendConfig locates the terraform state of one environment.
type BackendConfig struct {
	ResourceGroup  string `yaml:"resource-group" json:"resource-group"`
	StorageAccount string `yaml:"storage-account" json:"storage-account"`
	Container      string `yaml:"container" json:"container"`
	Key            string `yaml:"key" json:"key"`
}

// Validate returns an error if any part of the backend is missing.
func (b BackendConfig) Validate() error {
	if b.ResourceGroup == "" {
		return errors.NotValidf("empty backend resource group")
	}
	if b.StorageAccount == "" {
		return errors.NotValidf("empty backend storage account")
	}
	if b.Container == "" {
		return errors.NotValidf("empty backend container")
	}
	if b.Key == "" {
		return errors.NotValidf("empty backend key")
	}
	return nil
}

// Settings returns the backend as terraform -backend-config values.
func (b BackendConfig) Settings() map[string]string {
	return map[string]string{
		"resource_group_name":  b.ResourceGroup,
		"storage_account_name": b.StorageAccount,
		"container_name":       b.Container,
		"key":                  b.Key,
	}
}

// Environment is the identity of a deployment target. It is immutable
// once created.
type Environment struct {
	Name          Name
	Project       string
	Location      string
	ResourceGroup string
	Backend       BackendConfig

	// VarFile is the terraform variable file, relative to the
	// terraform directory.
	VarFile string
	// Variables are passed to terraform as -var arguments.
	Variables map[string]string
}

// New returns the Environment called name in project, following the
// project naming conventions.
func New(project string, name Name, location, subscriptionID string) (Environment, error) {
	if err := ValidateProject(project); err != nil {
		return Environment{}, errors.Trace(err)
	}
	if err := name.Validate(); err != nil {
		return Environment{}, errors.Trace(err)
	}
	if location == "" {
		return Environment{}, errors.NotValidf("empty location")
	}
	return Environment{
		Name:          name,
		Project:       project,
		Location:      location,
		ResourceGroup: ResourceGroupName(project, name),
		Backend: BackendConfig{
			ResourceGroup:  StateResourceGroupName(project),
			StorageAccount: StorageAccountName(project, subscriptionID),
			Container:      StateContainer,
			Key:            fmt.Sprintf("%s.terraform.tfstate", name),
		},
		VarFile: fmt.Sprintf("environments/%s.tfvars", name),
		Variables: map[string]string{
			"environment":  string(name),
			"project_name": project,
			"location":     location,
		},
	}, nil
}

// Prefix is the prefix shared by the names of the environment's resources.
func (e Environment) Prefix() string {
	return fmt.Sprintf("%s-%s", e.Project, e.Name)
}

// Tags returns the tags applied to resources owned by the environment.
func (e Environment) Tags() map[string]string {
	return map[string]string{
		ManagedByTag:   ManagedByValue,
		ProjectTag:     e.Project,
		EnvironmentTag: string(e.Name),
	}
}

// Owns reports whether a resource called name follows the naming
// convention of the environment. Resources which disallow hyphens
// (registries, storage accounts) use the compacted prefix.
func (e Environment) Owns(name string) bool {
	lower := strings.ToLower(name)
	if strings.HasPrefix(lower, strings.ToLower(e.Prefix())) {
		return true
	}
	return strings.HasPrefix(lower, compact(e.Prefix()))
}
