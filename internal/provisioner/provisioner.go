// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package provisioner drives terraform for one environment at a time:
// plan, apply, destroy and output reads.
package provisioner

import (
	"context"
	"fmt"
	"path/filepath"

	tfjson "github.com/hashicorp/terraform-json"
	"github.com/im7mortal/kmutex"
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/webapp-demo/envctl/core/environment"
	"github.com/webapp-demo/envctl/internal/backoff"
)

var logger = loggo.GetLogger("envctl.provisioner")

// Terraform runs terraform against the configuration of an environment.
type Terraform interface {
	// Init initialises the working directory against env's backend.
	Init(ctx context.Context, env environment.Environment) error

	// Plan writes a plan to planFile and reports whether it has changes.
	Plan(ctx context.Context, env environment.Environment, planFile string) (bool, error)

	// ShowPlan decodes a plan file.
	ShowPlan(ctx context.Context, env environment.Environment, planFile string) (*tfjson.Plan, error)

	// Apply applies a plan file.
	Apply(ctx context.Context, env environment.Environment, planFile string) error

	// Destroy destroys every resource in env's state.
	Destroy(ctx context.Context, env environment.Environment) error

	// Outputs returns the root module outputs as strings.
	Outputs(ctx context.Context, env environment.Environment) (map[string]string, error)
}

// ResourceChange is one planned resource action.
type ResourceChange struct {
	Address string
	Action  string
}

// ChangeSet is a saved plan, ready to apply.
type ChangeSet struct {
	Environment environment.Environment
	PlanFile    string
	HasChanges  bool

	Add     int
	Change  int
	Destroy int

	Resources []ResourceChange
}

// String summarises the change set the way terraform does.
func (cs ChangeSet) String() string {
	return fmt.Sprintf("%d to add, %d to change, %d to destroy", cs.Add, cs.Change, cs.Destroy)
}

// Config holds the dependencies of a Provisioner.
type Config struct {
	Terraform Terraform
	Caller    backoff.Caller
	// PlanDir holds the plan files, one per environment.
	PlanDir string
}

// Validate returns an error if config cannot drive a Provisioner.
func (config Config) Validate() error {
	if config.Terraform == nil {
		return errors.NotValidf("nil Terraform")
	}
	if config.Caller.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.PlanDir == "" {
		return errors.NotValidf("empty PlanDir")
	}
	return nil
}

// Provisioner is the InfrastructureProvisioner.
type Provisioner struct {
	config Config
	envs   *kmutex.Kmutex
}

// NewProvisioner returns a Provisioner.
func NewProvisioner(config Config) (*Provisioner, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Provisioner{
		config: config,
		envs:   kmutex.New(),
	}, nil
}

// Plan initialises terraform and computes the changes needed to bring
// env to its desired state.
func (p *Provisioner) Plan(ctx context.Context, env environment.Environment) (ChangeSet, error) {
	if err := p.init(ctx, env); err != nil {
		return ChangeSet{}, errors.Trace(err)
	}
	planFile := filepath.Join(p.config.PlanDir, fmt.Sprintf("%s.tfplan", env.Name))

	var hasChanges bool
	err := p.config.Caller.Call(ctx, "terraform plan", func(ctx context.Context) error {
		var err error
		hasChanges, err = p.config.Terraform.Plan(ctx, env, planFile)
		return newError("plan", env.Name, err)
	})
	if err != nil {
		return ChangeSet{}, errors.Trace(err)
	}

	cs := ChangeSet{
		Environment: env,
		PlanFile:    planFile,
		HasChanges:  hasChanges,
	}
	if !hasChanges {
		return cs, nil
	}
	plan, err := p.config.Terraform.ShowPlan(ctx, env, planFile)
	if err != nil {
		return ChangeSet{}, newError("show", env.Name, err)
	}
	summarise(&cs, plan)
	logger.Infof("plan for %s: %s", env.Name, cs)
	return cs, nil
}

func summarise(cs *ChangeSet, plan *tfjson.Plan) {
	if plan == nil {
		return
	}
	for _, rc := range plan.ResourceChanges {
		if rc == nil || rc.Change == nil || rc.Mode == tfjson.DataResourceMode {
			continue
		}
		actions := rc.Change.Actions
		var action string
		switch {
		case actions.Replace():
			cs.Add++
			cs.Destroy++
			action = "replace"
		case actions.Create():
			cs.Add++
			action = "create"
		case actions.Update():
			cs.Change++
			action = "update"
		case actions.Delete():
			cs.Destroy++
			action = "delete"
		default:
			continue
		}
		cs.Resources = append(cs.Resources, ResourceChange{Address: rc.Address, Action: action})
	}
}

// Apply applies cs and returns the resulting outputs. Applies to the
// same environment never overlap.
func (p *Provisioner) Apply(ctx context.Context, cs ChangeSet) (Outputs, error) {
	env := cs.Environment
	p.envs.Lock(env.Name)
	defer p.envs.Unlock(env.Name)

	if cs.HasChanges {
		logger.Infof("applying %s to %s", cs, env.Name)
		if err := p.config.Terraform.Apply(ctx, env, cs.PlanFile); err != nil {
			return nil, newError("apply", env.Name, err)
		}
	} else {
		logger.Infof("%s is up to date", env.Name)
	}
	return p.outputs(ctx, env)
}

// Destroy destroys everything terraform manages for env.
func (p *Provisioner) Destroy(ctx context.Context, env environment.Environment) error {
	if err := p.init(ctx, env); err != nil {
		return errors.Trace(err)
	}
	p.envs.Lock(env.Name)
	defer p.envs.Unlock(env.Name)

	logger.Infof("destroying %s", env.Name)
	return newError("destroy", env.Name, p.config.Terraform.Destroy(ctx, env))
}

// Outputs returns the current outputs of env.
func (p *Provisioner) Outputs(ctx context.Context, env environment.Environment) (Outputs, error) {
	if err := p.init(ctx, env); err != nil {
		return nil, errors.Trace(err)
	}
	return p.outputs(ctx, env)
}

func (p *Provisioner) init(ctx context.Context, env environment.Environment) error {
	return p.config.Caller.Call(ctx, "terraform init", func(ctx context.Context) error {
		return newError("init", env.Name, p.config.Terraform.Init(ctx, env))
	})
}

func (p *Provisioner) outputs(ctx context.Context, env environment.Environment) (Outputs, error) {
	var values map[string]string
	err := p.config.Caller.Call(ctx, "terraform output", func(ctx context.Context) error {
		var err error
		values, err = p.config.Terraform.Outputs(ctx, env)
		return newError("output", env.Name, err)
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	out := make(Outputs, len(values))
	for k, v := range values {
		if !ProducedOutputs.Contains(k) {
			logger.Debugf("ignoring unknown terraform output %q", k)
			continue
		}
		out[k] = v
	}
	return out, nil
}
