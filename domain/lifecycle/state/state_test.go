// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/worker/v4/workertest"
	gc "gopkg.in/check.v1"

	"github.com/webapp-demo/envctl/core/environment"
	"github.com/webapp-demo/envctl/core/status"
	"github.com/webapp-demo/envctl/domain/lifecycle"
	lifecycleerrors "github.com/webapp-demo/envctl/domain/lifecycle/errors"
	"github.com/webapp-demo/envctl/domain/lifecycle/state"
)

type stateSuite struct {
	testing.IsolationSuite

	st  *state.FileState
	now time.Time
}

var _ = gc.Suite(&stateSuite{})

func (s *stateSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	st, err := state.NewFileState(c.MkDir(), "webapp-demo")
	c.Assert(err, jc.ErrorIsNil)
	s.st = st
	s.now = time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)
}

func (s *stateSuite) TestDeploymentRoundTrip(c *gc.C) {
	ctx := context.Background()
	_, err := s.st.Deployment(ctx, environment.Dev)
	c.Check(errors.Is(err, lifecycleerrors.DeploymentNotFound), jc.IsTrue)

	rec := lifecycle.NewDeploymentRecord("id-1", environment.Dev, s.now)
	rec.Project = "webapp-demo"
	c.Assert(rec.Transition(status.BackendReady, s.now), jc.ErrorIsNil)
	rec.Outputs = map[string]string{"web_app_name": "webapp-demo-dev-app"}
	rec.Warn("health check failed: %s", "503")
	c.Assert(s.st.SaveDeployment(ctx, rec), jc.ErrorIsNil)

	got, err := s.st.Deployment(ctx, environment.Dev)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got, jc.DeepEquals, rec)

	info, err := os.Stat(filepath.Join(s.st.Dir(), "deployments", "dev.yaml"))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(info.Mode().Perm(), gc.Equals, os.FileMode(0600))
}

func (s *stateSuite) TestSaveDeploymentInvalidEnvironment(c *gc.C) {
	err := s.st.SaveDeployment(context.Background(), lifecycle.DeploymentRecord{Environment: "qa"})
	c.Check(err, jc.Satisfies, errors.IsNotValid)
}

func (s *stateSuite) TestSaveStampsProject(c *gc.C) {
	ctx := context.Background()
	c.Assert(s.st.SaveDeployment(ctx, lifecycle.NewDeploymentRecord("id-1", environment.Dev, s.now)), jc.ErrorIsNil)
	rec, err := s.st.Deployment(ctx, environment.Dev)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(rec.Project, gc.Equals, "webapp-demo")

	c.Assert(s.st.SaveSchedule(ctx, lifecycle.CleanupSchedule{ID: "a", Environment: environment.Dev, FireAt: s.now}), jc.ErrorIsNil)
	sched, err := s.st.Schedule(ctx, environment.Dev)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(sched.Project, gc.Equals, "webapp-demo")
}

func (s *stateSuite) TestOtherProjectRefused(c *gc.C) {
	ctx := context.Background()
	other, err := state.NewFileState(s.st.Dir(), "other")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(other.SaveDeployment(ctx, lifecycle.NewDeploymentRecord("id-1", environment.Dev, s.now)), jc.ErrorIsNil)
	c.Assert(other.SaveSchedule(ctx, lifecycle.CleanupSchedule{ID: "a", Environment: environment.Dev, FireAt: s.now}), jc.ErrorIsNil)

	_, err = s.st.Deployment(ctx, environment.Dev)
	c.Check(err, jc.ErrorIs, lifecycleerrors.ProjectMismatch)
	c.Check(err, gc.ErrorMatches, `dev deployment: project "other", not "webapp-demo": record of another project`)
	_, err = s.st.Schedule(ctx, environment.Dev)
	c.Check(err, jc.ErrorIs, lifecycleerrors.ProjectMismatch)

	all, err := s.st.AllSchedules(ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(all, gc.HasLen, 0)

	rec := lifecycle.NewDeploymentRecord("id-2", environment.Dev, s.now)
	rec.Project = "other"
	err = s.st.SaveDeployment(ctx, rec)
	c.Check(err, jc.ErrorIs, lifecycleerrors.ProjectMismatch)
}

func (s *stateSuite) TestInvalidProject(c *gc.C) {
	_, err := state.NewFileState(c.MkDir(), "Web_App")
	c.Check(err, jc.Satisfies, errors.IsNotValid)
}

func (s *stateSuite) TestSchedules(c *gc.C) {
	ctx := context.Background()
	later := lifecycle.CleanupSchedule{ID: "b", Environment: environment.Prod, FireAt: s.now.Add(2 * time.Hour)}
	sooner := lifecycle.CleanupSchedule{ID: "a", Environment: environment.Dev, FireAt: s.now.Add(time.Hour)}
	c.Assert(s.st.SaveSchedule(ctx, later), jc.ErrorIsNil)
	c.Assert(s.st.SaveSchedule(ctx, sooner), jc.ErrorIsNil)

	all, err := s.st.AllSchedules(ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(all, gc.HasLen, 2)
	c.Check(all[0].ID, gc.Equals, "a")
	c.Check(all[1].ID, gc.Equals, "b")

	c.Assert(s.st.RemoveSchedule(ctx, environment.Dev), jc.ErrorIsNil)
	c.Assert(s.st.RemoveSchedule(ctx, environment.Dev), jc.ErrorIsNil)
	_, err = s.st.Schedule(ctx, environment.Dev)
	c.Check(errors.Is(err, lifecycleerrors.ScheduleNotFound), jc.IsTrue)

	all, err = s.st.AllSchedules(ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(all, gc.HasLen, 1)
}

func (s *stateSuite) TestAllSchedulesIgnoresStrayFiles(c *gc.C) {
	err := os.WriteFile(filepath.Join(s.st.SchedulesDir(), "notes.yaml"), []byte("x: y"), 0600)
	c.Assert(err, jc.ErrorIsNil)
	all, err := s.st.AllSchedules(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(all, gc.HasLen, 0)
}

func (s *stateSuite) TestCorruptRecord(c *gc.C) {
	err := os.WriteFile(filepath.Join(s.st.Dir(), "deployments", "dev.yaml"), []byte("status: [unterminated"), 0600)
	c.Assert(err, jc.ErrorIsNil)
	_, err = s.st.Deployment(context.Background(), environment.Dev)
	c.Check(err, gc.ErrorMatches, `parsing .*dev.yaml: .*`)
}

func (s *stateSuite) TestWatchSchedules(c *gc.C) {
	w, err := s.st.WatchSchedules()
	c.Assert(err, jc.ErrorIsNil)
	defer workertest.CleanKill(c, w)

	s.assertChange(c, w)

	sched := lifecycle.CleanupSchedule{ID: "a", Environment: environment.Dev, FireAt: s.now}
	c.Assert(s.st.SaveSchedule(context.Background(), sched), jc.ErrorIsNil)
	s.assertChange(c, w)

	c.Assert(s.st.RemoveSchedule(context.Background(), environment.Dev), jc.ErrorIsNil)
	s.assertChange(c, w)
}

func (s *stateSuite) assertChange(c *gc.C, w *state.ScheduleWatcher) {
	select {
	case <-w.Changes():
	case <-time.After(testing.LongWait):
		c.Fatalf("no schedule change")
	}
}

func (s *stateSuite) TestLayout(c *gc.C) {
	for _, dir := range []string{s.st.SchedulesDir(), s.st.PlansDir(), s.st.TerraformDataDir()} {
		info, err := os.Stat(dir)
		c.Assert(err, jc.ErrorIsNil)
		c.Check(info.IsDir(), jc.IsTrue)
	}
	c.Check(s.st.CostReportPath(), gc.Equals, filepath.Join(s.st.Dir(), "reports", "costs.json"))
}
