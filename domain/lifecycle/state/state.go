// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package state persists deployment records and cleanup schedules as
// one YAML file per environment under the state directory of a
// project.
package state

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/utils/v4"
	"gopkg.in/yaml.v3"

	"github.com/webapp-demo/envctl/core/environment"
	"github.com/webapp-demo/envctl/domain/lifecycle"
	lifecycleerrors "github.com/webapp-demo/envctl/domain/lifecycle/errors"
)

var logger = loggo.GetLogger("envctl.lifecycle.state")

const (
	deploymentsDir = "deployments"
	schedulesDir   = "schedules"
	reportsDir     = "reports"
	plansDir       = "plans"
	terraformDir   = "terraform"
	fileSuffix     = ".yaml"
)

// FileState stores the lifecycle records of one project on the local
// filesystem. Each write replaces a whole file atomically; callers
// serialize writers of an environment with the environment lock.
// Records of any other project are refused.
type FileState struct {
	dir     string
	project string
}

// NewFileState returns a FileState for project rooted at dir, creating
// the directory layout if needed.
func NewFileState(dir, project string) (*FileState, error) {
	if err := environment.ValidateProject(project); err != nil {
		return nil, errors.Trace(err)
	}
	for _, sub := range []string{deploymentsDir, schedulesDir, reportsDir, plansDir, terraformDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0700); err != nil {
			return nil, errors.Annotatef(err, "creating state directory")
		}
	}
	return &FileState{dir: dir, project: project}, nil
}

// Dir returns the root of the state directory.
func (st *FileState) Dir() string {
	return st.dir
}

// SchedulesDir returns the directory holding cleanup schedules.
func (st *FileState) SchedulesDir() string {
	return filepath.Join(st.dir, schedulesDir)
}

// PlansDir returns the directory holding terraform plan files.
func (st *FileState) PlansDir() string {
	return filepath.Join(st.dir, plansDir)
}

// TerraformDataDir returns the directory holding the terraform data
// directory of each environment.
func (st *FileState) TerraformDataDir() string {
	return filepath.Join(st.dir, terraformDir)
}

// CostReportPath returns the path of the cost report.
func (st *FileState) CostReportPath() string {
	return filepath.Join(st.dir, reportsDir, "costs.json")
}

func (st *FileState) deploymentPath(env environment.Name) string {
	return filepath.Join(st.dir, deploymentsDir, string(env)+fileSuffix)
}

func (st *FileState) schedulePath(env environment.Name) string {
	return filepath.Join(st.dir, schedulesDir, string(env)+fileSuffix)
}

// Deployment returns the deployment record of env.
func (st *FileState) Deployment(ctx context.Context, env environment.Name) (lifecycle.DeploymentRecord, error) {
	var rec lifecycle.DeploymentRecord
	found, err := readYAML(st.deploymentPath(env), &rec)
	if err != nil {
		return lifecycle.DeploymentRecord{}, errors.Trace(err)
	} else if !found {
		return lifecycle.DeploymentRecord{}, errors.Annotatef(lifecycleerrors.DeploymentNotFound, "%s", env)
	}
	if err := st.checkProject(rec.Project); err != nil {
		return lifecycle.DeploymentRecord{}, errors.Annotatef(err, "%s deployment", env)
	}
	return rec, nil
}

// SaveDeployment writes rec, replacing any previous record of its
// environment.
func (st *FileState) SaveDeployment(ctx context.Context, rec lifecycle.DeploymentRecord) error {
	if err := rec.Environment.Validate(); err != nil {
		return errors.Trace(err)
	}
	if rec.Project == "" {
		rec.Project = st.project
	} else if err := st.checkProject(rec.Project); err != nil {
		return errors.Annotatef(err, "saving %s deployment", rec.Environment)
	}
	return errors.Annotatef(writeYAML(st.deploymentPath(rec.Environment), rec), "saving %s deployment", rec.Environment)
}

// Schedule returns the cleanup schedule of env.
func (st *FileState) Schedule(ctx context.Context, env environment.Name) (lifecycle.CleanupSchedule, error) {
	var sched lifecycle.CleanupSchedule
	found, err := readYAML(st.schedulePath(env), &sched)
	if err != nil {
		return lifecycle.CleanupSchedule{}, errors.Trace(err)
	} else if !found {
		return lifecycle.CleanupSchedule{}, errors.Annotatef(lifecycleerrors.ScheduleNotFound, "%s", env)
	}
	if err := st.checkProject(sched.Project); err != nil {
		return lifecycle.CleanupSchedule{}, errors.Annotatef(err, "%s cleanup schedule", env)
	}
	return sched, nil
}

// SaveSchedule writes sched, replacing any previous schedule of its
// environment.
func (st *FileState) SaveSchedule(ctx context.Context, sched lifecycle.CleanupSchedule) error {
	if err := sched.Environment.Validate(); err != nil {
		return errors.Trace(err)
	}
	if sched.Project == "" {
		sched.Project = st.project
	} else if err := st.checkProject(sched.Project); err != nil {
		return errors.Annotatef(err, "saving %s cleanup schedule", sched.Environment)
	}
	return errors.Annotatef(writeYAML(st.schedulePath(sched.Environment), sched), "saving %s cleanup schedule", sched.Environment)
}

// RemoveSchedule deletes the cleanup schedule of env. Removing a
// schedule that does not exist succeeds.
func (st *FileState) RemoveSchedule(ctx context.Context, env environment.Name) error {
	err := os.Remove(st.schedulePath(env))
	if err != nil && !os.IsNotExist(err) {
		return errors.Annotatef(err, "removing %s cleanup schedule", env)
	}
	return nil
}

// AllSchedules returns every stored cleanup schedule, ordered by
// firing time.
func (st *FileState) AllSchedules(ctx context.Context) ([]lifecycle.CleanupSchedule, error) {
	entries, err := os.ReadDir(st.SchedulesDir())
	if err != nil {
		return nil, errors.Annotatef(err, "listing cleanup schedules")
	}
	var out []lifecycle.CleanupSchedule
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		env, err := environment.ParseName(strings.TrimSuffix(name, fileSuffix))
		if err != nil {
			logger.Warningf("ignoring unexpected schedule file %q", name)
			continue
		}
		sched, err := st.Schedule(ctx, env)
		if errors.Is(err, lifecycleerrors.ScheduleNotFound) {
			// Removed since the directory was read.
			continue
		} else if errors.Is(err, lifecycleerrors.ProjectMismatch) {
			logger.Warningf("ignoring %v", err)
			continue
		} else if err != nil {
			return nil, errors.Trace(err)
		}
		out = append(out, sched)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FireAt.Before(out[j].FireAt)
	})
	return out, nil
}

// checkProject refuses records written for another project.
func (st *FileState) checkProject(project string) error {
	if project != st.project {
		return errors.Annotatef(lifecycleerrors.ProjectMismatch, "project %q, not %q", project, st.project)
	}
	return nil
}

func readYAML(path string, out interface{}) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, errors.Annotatef(err, "reading %s", path)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return false, errors.Annotatef(err, "parsing %s", path)
	}
	return true, nil
}

func writeYAML(path string, in interface{}) error {
	data, err := yaml.Marshal(in)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(utils.AtomicWriteFile(path, data, 0600))
}
