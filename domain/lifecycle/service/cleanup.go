// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/juju/errors"

	"github.com/webapp-demo/envctl/core/environment"
	"github.com/webapp-demo/envctl/core/failure"
	"github.com/webapp-demo/envctl/core/status"
	"github.com/webapp-demo/envctl/domain/lifecycle"
	"github.com/webapp-demo/envctl/internal/cost"
	"github.com/webapp-demo/envctl/internal/notify"
)

const (
	opCleanup          = "cleanup"
	opScheduledCleanup = "scheduled-cleanup"
	opAutoCleanup      = "auto-cleanup"
)

// Cleanup destroys every resource of an environment. It waits for the
// environment lock. Cleaning an environment that has nothing left is a
// successful no-op.
func (s *Service) Cleanup(ctx context.Context, name environment.Name, opts lifecycle.CleanupOptions) (_ lifecycle.CleanupResult, err error) {
	env, err := s.config.Environments(name)
	if err != nil {
		return lifecycle.CleanupResult{}, errors.Trace(err)
	}
	if !opts.Force && opts.Confirm == nil {
		return lifecycle.CleanupResult{}, errors.NotValidf("cleanup without confirmation or force")
	}
	releaser, err := s.config.Locks.Acquire(ctx, name)
	if err != nil {
		return lifecycle.CleanupResult{}, errors.Trace(err)
	}
	defer releaser.Release()

	start := s.config.Clock.Now()
	defer func() {
		s.observe(opCleanup, name, start, err, false)
	}()
	return s.cleanupLocked(ctx, env, nil, opts, opCleanup)
}

// cleanupLocked runs a cleanup while the caller holds the environment
// lock. rec is the record to drive, or nil to load it from state.
func (s *Service) cleanupLocked(
	ctx context.Context,
	env environment.Environment,
	rec *lifecycle.DeploymentRecord,
	opts lifecycle.CleanupOptions,
	operation string,
) (lifecycle.CleanupResult, error) {
	result := lifecycle.CleanupResult{Environment: env.Name}
	if rec == nil {
		loaded, found, err := s.loadRecord(ctx, env.Name)
		if err != nil {
			return result, errors.Trace(err)
		}
		if found {
			rec = &loaded
		}
	}

	before, err := s.config.Discovery.Discover(ctx, env)
	if err != nil {
		err = errors.Annotatef(err, "discovering %s", env.Name)
		if rec != nil && rec.Active() {
			return result, s.fail(ctx, rec, operation, err)
		}
		return result, &lifecycle.OperationError{Operation: operation, Environment: env.Name, Err: err}
	}
	result.Before = before

	if before.IsEmpty() {
		result.NothingToClean = true
		result.After = before
		if rec != nil && rec.Active() {
			if err := s.markDestroyed(ctx, rec); err != nil {
				return result, errors.Trace(err)
			}
		}
		if err := s.config.State.RemoveSchedule(ctx, env.Name); err != nil {
			return result, errors.Trace(err)
		}
		logger.Infof("nothing to clean in %s", env.Name)
		s.notify(ctx, env.Name, operation, notify.Info,
			fmt.Sprintf("resource group %q not found, nothing to clean", env.ResourceGroup))
		return result, nil
	}

	if !opts.Force {
		if err := opts.Confirm(before); err != nil {
			return result, errors.Trace(err)
		}
	}

	if rec == nil || !rec.Active() {
		// Resources without a live record, left by a lost state
		// directory or another machine: adopt them.
		adopted := lifecycle.NewDeploymentRecord(s.config.NewID(), env.Name, s.config.Clock.Now())
		adopted.Project = s.config.Project
		rec = &adopted
	}
	rec.Operation = operation
	if rec.Status != status.Destroying {
		if err := s.transition(ctx, rec, status.Destroying); err != nil {
			return result, errors.Trace(err)
		}
	}

	if opts.CostReport {
		snap, err := s.config.Cost.Actual(ctx, env)
		if err != nil {
			logger.Warningf("cannot measure cost of %s: %v", env.Name, err)
		} else {
			result.Cost = &snap
		}
	}

	destroyed, err := s.config.Cleanup.Destroy(ctx, env, before)
	result.Destroy = destroyed
	s.config.Metrics.AddDeleted(string(env.Name), destroyed.DeletedCount)
	if err != nil {
		return result, s.fail(ctx, rec, operation, err)
	}
	result.After = before
	result.After.Entries = destroyed.Remaining
	if !destroyed.Complete() {
		names := make([]string, len(destroyed.Remaining))
		for i, e := range destroyed.Remaining {
			names[i] = e.Name
		}
		err := failure.WithKind(errors.Errorf(
			"%d resources remain after cleanup: %s", len(names), strings.Join(names, ", "),
		), failure.TransientProviderError)
		return result, s.fail(ctx, rec, operation, err)
	}

	if err := s.transition(ctx, rec, status.Destroyed); err != nil {
		return result, errors.Trace(err)
	}
	if err := s.config.State.RemoveSchedule(ctx, env.Name); err != nil {
		return result, errors.Trace(err)
	}
	if result.Cost != nil {
		if err := cost.AppendReport(s.config.State.CostReportPath(), *result.Cost); err != nil {
			logger.Warningf("cannot record cost report: %v", err)
		}
	}
	s.notify(ctx, env.Name, operation, notify.Success,
		fmt.Sprintf("resource group %q deleted: %d resources removed", env.ResourceGroup, destroyed.DeletedCount))
	return result, nil
}

// markDestroyed moves an active record whose resources are already gone
// to the destroyed state.
func (s *Service) markDestroyed(ctx context.Context, rec *lifecycle.DeploymentRecord) error {
	if rec.Status != status.Destroying {
		if err := s.transition(ctx, rec, status.Destroying); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(s.transition(ctx, rec, status.Destroyed))
}
