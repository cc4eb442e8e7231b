// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package service

import (
	"context"
	"fmt"

	"github.com/juju/errors"

	"github.com/webapp-demo/envctl/core/environment"
	"github.com/webapp-demo/envctl/core/failure"
	"github.com/webapp-demo/envctl/core/status"
	"github.com/webapp-demo/envctl/domain/lifecycle"
	lifecycleerrors "github.com/webapp-demo/envctl/domain/lifecycle/errors"
	"github.com/webapp-demo/envctl/internal/appdeploy"
	"github.com/webapp-demo/envctl/internal/cost"
	"github.com/webapp-demo/envctl/internal/notify"
	"github.com/webapp-demo/envctl/internal/provisioner"
)

const opDeploy = "deploy"

// imageTagLayout derives image tags from the deploy time.
const imageTagLayout = "20060102-150405"

// Deploy brings an environment from nothing to a validated running
// application. It fails fast when another operation holds the
// environment. Completed steps are never rolled back: a failure leaves
// the record in the error state with the last good state recorded.
func (s *Service) Deploy(ctx context.Context, name environment.Name, opts lifecycle.DeployOptions) (_ lifecycle.DeploymentRecord, err error) {
	if err := opts.Validate(); err != nil {
		return lifecycle.DeploymentRecord{}, errors.Trace(err)
	}
	env, err := s.config.Environments(name)
	if err != nil {
		return lifecycle.DeploymentRecord{}, errors.Trace(err)
	}
	releaser, err := s.tryLock(ctx, name)
	if err != nil {
		return lifecycle.DeploymentRecord{}, errors.Trace(err)
	}
	defer releaser.Release()

	start := s.config.Clock.Now()
	warned := false
	defer func() {
		s.observe(opDeploy, name, start, err, warned)
	}()

	previous, found, err := s.loadRecord(ctx, name)
	if err != nil {
		return lifecycle.DeploymentRecord{}, errors.Trace(err)
	}
	if found && previous.Status.InFlight() {
		if !opts.Force {
			return previous, errors.Annotatef(lifecycleerrors.InterruptedDeployment,
				"previous deploy of %s stopped in state %q; rerun with --force to resume", name, previous.Status)
		}
		logger.Warningf("resuming interrupted deploy of %s from %q", name, previous.Status)
	}

	if opts.Budget > 0 {
		if err := s.checkBudget(env, opts); err != nil {
			return lifecycle.DeploymentRecord{}, errors.Trace(err)
		}
	}

	rec := lifecycle.NewDeploymentRecord(s.config.NewID(), name, start)
	rec.Project = s.config.Project
	rec.Operation = opDeploy
	if err := s.config.State.SaveDeployment(ctx, rec); err != nil {
		return rec, errors.Trace(err)
	}
	s.config.Metrics.SetState(string(name), rec.Status)

	if _, err := s.config.Backend.EnsureBackend(ctx, env); err != nil {
		return rec, s.fail(ctx, &rec, opDeploy, err)
	}
	if err := s.transition(ctx, &rec, status.BackendReady); err != nil {
		return rec, s.fail(ctx, &rec, opDeploy, err)
	}

	outputs, drifted, err := s.provision(ctx, env, &rec)
	if err != nil {
		return rec, s.fail(ctx, &rec, opDeploy, err)
	}
	warned = warned || drifted
	rec.Outputs = outputs
	if err := s.transition(ctx, &rec, status.Provisioned); err != nil {
		return rec, s.fail(ctx, &rec, opDeploy, err)
	}

	target, err := appdeploy.TargetFromOutputs(outputs)
	if err != nil {
		return rec, s.fail(ctx, &rec, opDeploy, err)
	}
	ref, err := s.config.App.BuildAndPush(ctx, appdeploy.ImageSpec{
		Registry:     target.Registry,
		RegistryName: target.RegistryName,
		Repository:   s.config.Image.Repository,
		Tag:          start.UTC().Format(imageTagLayout),
		Context:      s.config.Image.Context,
		Dockerfile:   s.config.Image.Dockerfile,
	})
	if err != nil {
		return rec, s.fail(ctx, &rec, opDeploy, err)
	}
	rec.Image = ref.String()
	if err := s.config.App.UpdateCompute(ctx, target, ref); err != nil {
		return rec, s.fail(ctx, &rec, opDeploy, err)
	}
	if err := s.config.App.CheckHealth(ctx, target.URL); err != nil {
		if !failure.IsWarning(err) {
			return rec, s.fail(ctx, &rec, opDeploy, err)
		}
		warned = true
		rec.Warn("%v", err)
	}
	if err := s.transition(ctx, &rec, status.AppDeployed); err != nil {
		return rec, s.fail(ctx, &rec, opDeploy, err)
	}

	if !opts.SkipTests {
		if err := s.config.App.Validate(ctx, target.URL); err != nil {
			if !failure.IsWarning(err) {
				return rec, s.fail(ctx, &rec, opDeploy, err)
			}
			warned = true
			rec.Warn("%v", err)
			if s.config.Policy == lifecycle.AutoCleanup {
				return s.autoCleanup(ctx, env, rec, err)
			}
		}
	}
	if err := s.transition(ctx, &rec, status.Validated); err != nil {
		return rec, s.fail(ctx, &rec, opDeploy, err)
	}

	if opts.CleanupAfter > 0 {
		if _, err := s.scheduleLocked(ctx, &rec, opts.CleanupAfter); err != nil {
			return rec, s.fail(ctx, &rec, opDeploy, err)
		}
	} else if sched, err := s.config.State.Schedule(ctx, name); err == nil && sched.Pending() {
		// A cleanup scheduled for an earlier deploy still applies.
		if err := s.transition(ctx, &rec, status.CleanupScheduled); err != nil {
			return rec, s.fail(ctx, &rec, opDeploy, err)
		}
	} else if err != nil && !errors.Is(err, lifecycleerrors.ScheduleNotFound) {
		return rec, s.fail(ctx, &rec, opDeploy, err)
	}

	msg := fmt.Sprintf("%s deployed to %s", rec.Image, target.URL)
	level := notify.Success
	if len(rec.Warnings) > 0 {
		level = notify.Warning
		msg += fmt.Sprintf(" with %d warnings", len(rec.Warnings))
	}
	s.notify(ctx, name, opDeploy, level, msg)
	return rec, nil
}

// provision plans and applies env. Drift met on the way is recorded as
// a warning on rec and the plan is computed again against the
// refreshed state, once; any other failure is returned.
func (s *Service) provision(ctx context.Context, env environment.Environment, rec *lifecycle.DeploymentRecord) (provisioner.Outputs, bool, error) {
	drifted := false
	for {
		cs, err := s.config.Provisioner.Plan(ctx, env)
		if err == nil {
			var outputs provisioner.Outputs
			if outputs, err = s.config.Provisioner.Apply(ctx, cs); err == nil {
				return outputs, drifted, nil
			}
		}
		if drifted || !errors.Is(err, failure.DriftError) {
			return nil, drifted, err
		}
		drifted = true
		rec.Warn("%v", err)
		if saveErr := s.config.State.SaveDeployment(ctx, *rec); saveErr != nil {
			return nil, drifted, errors.Trace(saveErr)
		}
		logger.Warningf("%s has drifted, planning again: %v", env.Name, err)
	}
}

// checkBudget refuses a deploy whose estimated cost is critical.
func (s *Service) checkBudget(env environment.Environment, opts lifecycle.DeployOptions) error {
	hours := float64(cost.HoursPerMonth)
	if opts.CleanupAfter > 0 {
		hours = opts.CleanupAfter.Hours()
	}
	estimate := s.config.Cost.Estimate(env, hours).WithBudget(opts.Budget)
	switch estimate.Status {
	case cost.Critical:
		if !opts.Force {
			return errors.Annotatef(lifecycleerrors.BudgetExceeded,
				"estimated cost $%.2f is %.0f%% of the $%.2f budget", estimate.Amount, estimate.Percent(), opts.Budget)
		}
		logger.Warningf("estimated cost $%.2f exceeds the $%.2f budget; deploying anyway", estimate.Amount, opts.Budget)
	case cost.Warning:
		logger.Warningf("estimated cost $%.2f is %.0f%% of the $%.2f budget", estimate.Amount, estimate.Percent(), opts.Budget)
	}
	return nil
}

// autoCleanup destroys a deployment that failed validation. The
// validation failure is still returned so that the operator sees it.
func (s *Service) autoCleanup(
	ctx context.Context, env environment.Environment, rec lifecycle.DeploymentRecord, validateErr error,
) (lifecycle.DeploymentRecord, error) {
	logger.Warningf("validation of %s failed, cleaning up: %v", env.Name, validateErr)
	if _, err := s.cleanupLocked(ctx, env, &rec, lifecycle.CleanupOptions{Force: true}, opAutoCleanup); err != nil {
		return rec, errors.Trace(err)
	}
	return rec, &lifecycle.OperationError{
		Operation:      opDeploy,
		Environment:    env.Name,
		LastGoodStatus: status.AppDeployed,
		Err:            validateErr,
	}
}
