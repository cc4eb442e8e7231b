// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package provisioner_test

import (
	"context"
	"time"

	tfjson "github.com/hashicorp/terraform-json"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/webapp-demo/envctl/core/environment"
	"github.com/webapp-demo/envctl/core/failure"
	"github.com/webapp-demo/envctl/internal/backoff"
	"github.com/webapp-demo/envctl/internal/provisioner"
)

type provisionerSuite struct {
	testing.IsolationSuite

	tf  *fakeTerraform
	env environment.Environment
	p   *provisioner.Provisioner
}

var _ = gc.Suite(&provisionerSuite{})

func (s *provisionerSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	env, err := environment.New("webapp-demo", environment.Dev, "eastus", "sub")
	c.Assert(err, jc.ErrorIsNil)
	s.env = env
	s.tf = &fakeTerraform{
		outputs: map[string]string{
			"resource_group_name": "webapp-demo-dev-rg",
			"web_app_name":        "webapp-demo-dev-app",
			"web_app_url":         "https://webapp-demo-dev-app.azurewebsites.net",
			"sql_admin_password":  "hunter2",
		},
	}
	s.p, err = provisioner.NewProvisioner(provisioner.Config{
		Terraform: s.tf,
		Caller: backoff.Caller{
			Clock:  clock.WallClock,
			Policy: backoff.Policy{Attempts: 3, Delay: time.Millisecond},
		},
		PlanDir: c.MkDir(),
	})
	c.Assert(err, jc.ErrorIsNil)
}

func (s *provisionerSuite) TestPlanSummarisesChanges(c *gc.C) {
	s.tf.hasChanges = true
	s.tf.plan = &tfjson.Plan{
		ResourceChanges: []*tfjson.ResourceChange{
			change("azurerm_resource_group.main", tfjson.Actions{tfjson.ActionCreate}),
			change("azurerm_linux_web_app.main", tfjson.Actions{tfjson.ActionUpdate}),
			change("azurerm_mssql_database.main", tfjson.Actions{tfjson.ActionDelete, tfjson.ActionCreate}),
			change("azurerm_key_vault.main", tfjson.Actions{tfjson.ActionNoop}),
			{
				Address: "data.azurerm_client_config.current",
				Mode:    tfjson.DataResourceMode,
				Change:  &tfjson.Change{Actions: tfjson.Actions{tfjson.ActionRead}},
			},
		},
	}

	cs, err := s.p.Plan(context.Background(), s.env)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cs.HasChanges, jc.IsTrue)
	c.Check(cs.String(), gc.Equals, "2 to add, 1 to change, 1 to destroy")
	c.Check(cs.Resources, jc.DeepEquals, []provisioner.ResourceChange{
		{Address: "azurerm_resource_group.main", Action: "create"},
		{Address: "azurerm_linux_web_app.main", Action: "update"},
		{Address: "azurerm_mssql_database.main", Action: "replace"},
	})
	c.Check(cs.PlanFile, gc.Matches, ".*/dev.tfplan")
	s.tf.CheckCallNames(c, "Init", "Plan", "ShowPlan")
}

func (s *provisionerSuite) TestApplyReturnsKnownOutputs(c *gc.C) {
	s.tf.hasChanges = true
	cs, err := s.p.Plan(context.Background(), s.env)
	c.Assert(err, jc.ErrorIsNil)

	out, err := s.p.Apply(context.Background(), cs)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(out, jc.DeepEquals, provisioner.Outputs{
		"resource_group_name": "webapp-demo-dev-rg",
		"web_app_name":        "webapp-demo-dev-app",
		"web_app_url":         "https://webapp-demo-dev-app.azurewebsites.net",
	})
	s.tf.CheckCallNames(c, "Init", "Plan", "ShowPlan", "Apply", "Outputs")
}

func (s *provisionerSuite) TestApplyWithoutChangesSkipsApply(c *gc.C) {
	cs, err := s.p.Plan(context.Background(), s.env)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cs.HasChanges, jc.IsFalse)

	_, err = s.p.Apply(context.Background(), cs)
	c.Assert(err, jc.ErrorIsNil)
	s.tf.CheckCallNames(c, "Init", "Plan", "Outputs")
}

func (s *provisionerSuite) TestInitRetriesStateLock(c *gc.C) {
	s.tf.SetErrors(&diagnosedError{stderr: "Error: Error acquiring the state lock"})
	_, err := s.p.Plan(context.Background(), s.env)
	c.Assert(err, jc.ErrorIsNil)
	s.tf.CheckCallNames(c, "Init", "Init", "Plan")
}

func (s *provisionerSuite) TestApplyFailureCarriesDiagnostics(c *gc.C) {
	s.tf.hasChanges = true
	cs, err := s.p.Plan(context.Background(), s.env)
	c.Assert(err, jc.ErrorIsNil)

	stderr := "Error: creating Server: (Name \"webapp-demo-dev-sql\"): unexpected status 409 (ConflictingServerNameAlreadyExists)"
	s.tf.SetErrors(&diagnosedError{stderr: stderr})
	_, err = s.p.Apply(context.Background(), cs)

	var perr *provisioner.Error
	c.Assert(errors.As(err, &perr), jc.IsTrue)
	c.Check(perr.Op, gc.Equals, "apply")
	c.Check(perr.Env, gc.Equals, environment.Dev)
	c.Check(perr.Kind, gc.Equals, provisioner.KindQuota)
	c.Check(perr.Diagnostics, gc.Equals, stderr)
	c.Check(errors.Is(err, failure.QuotaOrNamingCollision), jc.IsTrue)
	c.Check(failure.ExitCode(err), gc.Equals, failure.ExitQuota)
}

func (s *provisionerSuite) TestAuthFailureNotRetried(c *gc.C) {
	s.tf.SetErrors(&diagnosedError{stderr: "Error: building AzureRM Client: please run 'az login' to setup account"})
	_, err := s.p.Plan(context.Background(), s.env)
	c.Check(errors.Is(err, failure.AuthError), jc.IsTrue)
	s.tf.CheckCallNames(c, "Init")
}

func (s *provisionerSuite) TestDestroy(c *gc.C) {
	err := s.p.Destroy(context.Background(), s.env)
	c.Assert(err, jc.ErrorIsNil)
	s.tf.CheckCallNames(c, "Init", "Destroy")
}

func (s *provisionerSuite) TestClassify(c *gc.C) {
	for i, test := range []struct {
		diagnostics string
		kind        provisioner.Kind
	}{
		{"AuthorizationFailed: The client does not have authorization", provisioner.KindAuth},
		{"Code=\"QuotaExceeded\"", provisioner.KindQuota},
		{"A resource with the ID \"x\" already exists - to be managed via Terraform this resource needs to be imported", provisioner.KindQuota},
		{"StatusCode=429 TooManyRequests", provisioner.KindTransient},
		{"Error: Provider produced inconsistent result after apply", provisioner.KindDrift},
		{"something else entirely", provisioner.KindUnknown},
	} {
		c.Logf("test %d: %s", i, test.diagnostics)
		c.Check(provisioner.Classify(test.diagnostics), gc.Equals, test.kind)
	}
}

func (s *provisionerSuite) TestOutputsRequire(c *gc.C) {
	out := provisioner.Outputs{"web_app_name": "app", "web_app_url": ""}
	c.Check(out.Require("web_app_name"), jc.ErrorIsNil)
	err := out.Require("web_app_url", "registry_login_server", "web_app_name")
	c.Check(err, gc.ErrorMatches, `terraform outputs \[registry_login_server web_app_url\] not found`)
}

func change(address string, actions tfjson.Actions) *tfjson.ResourceChange {
	return &tfjson.ResourceChange{
		Address: address,
		Mode:    tfjson.ManagedResourceMode,
		Change:  &tfjson.Change{Actions: actions},
	}
}

type diagnosedError struct {
	stderr string
}

func (e *diagnosedError) Error() string       { return "exit status 1" }
func (e *diagnosedError) Diagnostics() string { return e.stderr }

type fakeTerraform struct {
	testing.Stub

	hasChanges bool
	plan       *tfjson.Plan
	outputs    map[string]string
}

func (f *fakeTerraform) Init(_ context.Context, env environment.Environment) error {
	f.AddCall("Init", env.Name)
	return f.NextErr()
}

func (f *fakeTerraform) Plan(_ context.Context, env environment.Environment, planFile string) (bool, error) {
	f.AddCall("Plan", env.Name, planFile)
	if err := f.NextErr(); err != nil {
		return false, err
	}
	return f.hasChanges, nil
}

func (f *fakeTerraform) ShowPlan(_ context.Context, env environment.Environment, planFile string) (*tfjson.Plan, error) {
	f.AddCall("ShowPlan", env.Name, planFile)
	if err := f.NextErr(); err != nil {
		return nil, err
	}
	return f.plan, nil
}

func (f *fakeTerraform) Apply(_ context.Context, env environment.Environment, planFile string) error {
	f.AddCall("Apply", env.Name, planFile)
	return f.NextErr()
}

func (f *fakeTerraform) Destroy(_ context.Context, env environment.Environment) error {
	f.AddCall("Destroy", env.Name)
	return f.NextErr()
}

func (f *fakeTerraform) Outputs(_ context.Context, env environment.Environment) (map[string]string, error) {
	f.AddCall("Outputs", env.Name)
	if err := f.NextErr(); err != nil {
		return nil, err
	}
	return f.outputs, nil
}
