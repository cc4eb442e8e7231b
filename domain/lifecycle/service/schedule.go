// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package service

import (
	"context"
	"time"

	"github.com/juju/errors"

	"github.com/webapp-demo/envctl/core/environment"
	"github.com/webapp-demo/envctl/core/status"
	"github.com/webapp-demo/envctl/domain/lifecycle"
	lifecycleerrors "github.com/webapp-demo/envctl/domain/lifecycle/errors"
	"github.com/webapp-demo/envctl/internal/lock"
)

// ScheduleCleanup arranges for the environment to be destroyed after
// delay. Any earlier schedule is replaced. The environment must hold a
// validated deployment.
func (s *Service) ScheduleCleanup(ctx context.Context, name environment.Name, delay time.Duration) (lifecycle.CleanupSchedule, error) {
	if delay <= 0 {
		return lifecycle.CleanupSchedule{}, errors.NotValidf("cleanup delay %v", delay)
	}
	if _, err := s.config.Environments(name); err != nil {
		return lifecycle.CleanupSchedule{}, errors.Trace(err)
	}
	releaser, err := s.config.Locks.Acquire(ctx, name)
	if err != nil {
		return lifecycle.CleanupSchedule{}, errors.Trace(err)
	}
	defer releaser.Release()

	rec, found, err := s.loadRecord(ctx, name)
	if err != nil {
		return lifecycle.CleanupSchedule{}, errors.Trace(err)
	}
	if !found || !rec.Active() {
		return lifecycle.CleanupSchedule{}, errors.Annotatef(lifecycleerrors.DeploymentNotFound, "no active deployment of %s", name)
	}
	return s.scheduleLocked(ctx, &rec, delay)
}

func (s *Service) scheduleLocked(ctx context.Context, rec *lifecycle.DeploymentRecord, delay time.Duration) (lifecycle.CleanupSchedule, error) {
	if rec.Status != status.Validated && rec.Status != status.CleanupScheduled {
		return lifecycle.CleanupSchedule{}, errors.NotValidf("scheduling cleanup of %s in state %q", rec.Environment, rec.Status)
	}
	existing, err := s.config.State.Schedule(ctx, rec.Environment)
	if err == nil && existing.Firing {
		return lifecycle.CleanupSchedule{}, errors.Annotatef(lifecycleerrors.CleanupAlreadyStarted, "%s", rec.Environment)
	} else if err != nil && !errors.Is(err, lifecycleerrors.ScheduleNotFound) {
		return lifecycle.CleanupSchedule{}, errors.Trace(err)
	}

	now := s.config.Clock.Now()
	id := s.config.NewID()
	sched := lifecycle.CleanupSchedule{
		ID:          id,
		Project:     s.config.Project,
		Environment: rec.Environment,
		CreatedAt:   now,
		FireAt:      now.Add(delay),
		Handle:      lifecycle.LocalHandle(id),
	}
	if err := s.config.State.SaveSchedule(ctx, sched); err != nil {
		return lifecycle.CleanupSchedule{}, errors.Trace(err)
	}
	if rec.Status != status.CleanupScheduled {
		if err := s.transition(ctx, rec, status.CleanupScheduled); err != nil {
			return lifecycle.CleanupSchedule{}, errors.Trace(err)
		}
	}
	logger.Infof("cleanup of %s scheduled for %s", rec.Environment, sched.FireAt.Format(time.RFC3339))
	return sched, nil
}

// CancelCleanup removes the pending cleanup of an environment. It
// returns false when nothing was scheduled. Once a scheduled cleanup
// has started destroying, CleanupAlreadyStarted is returned.
func (s *Service) CancelCleanup(ctx context.Context, name environment.Name) (bool, error) {
	if _, err := s.config.Environments(name); err != nil {
		return false, errors.Trace(err)
	}
	var waitedOn *lifecycle.CleanupSchedule
	releaser, err := s.config.Locks.TryAcquire(ctx, name)
	if errors.Is(err, lock.ErrLocked) {
		// The holder may be the scheduled cleanup itself; it marks the
		// schedule firing before it destroys anything.
		sched, err := s.config.State.Schedule(ctx, name)
		if err == nil && sched.Firing {
			return false, errors.Annotatef(lifecycleerrors.CleanupAlreadyStarted, "%s", name)
		} else if err == nil && sched.Pending() {
			waitedOn = &sched
		}
		releaser, err = s.config.Locks.Acquire(ctx, name)
		if err != nil {
			return false, errors.Trace(err)
		}
	} else if err != nil {
		return false, errors.Trace(err)
	}
	defer releaser.Release()

	sched, err := s.config.State.Schedule(ctx, name)
	if errors.Is(err, lifecycleerrors.ScheduleNotFound) {
		if waitedOn != nil {
			fired, err := s.firedWhileWaiting(ctx, name, *waitedOn)
			if err != nil {
				return false, errors.Trace(err)
			}
			if fired {
				return false, errors.Annotatef(lifecycleerrors.CleanupAlreadyStarted, "%s", name)
			}
		}
		return false, nil
	} else if err != nil {
		return false, errors.Trace(err)
	}
	if sched.Firing {
		return false, errors.Annotatef(lifecycleerrors.CleanupAlreadyStarted, "%s", name)
	}

	sched.Cancelled = true
	if err := s.config.State.SaveSchedule(ctx, sched); err != nil {
		return false, errors.Trace(err)
	}
	if err := s.config.State.RemoveSchedule(ctx, name); err != nil {
		return false, errors.Trace(err)
	}

	rec, found, err := s.loadRecord(ctx, name)
	if err != nil {
		return true, errors.Trace(err)
	}
	if found && rec.Status == status.CleanupScheduled {
		if err := s.transition(ctx, &rec, status.Validated); err != nil {
			return true, errors.Trace(err)
		}
	}
	logger.Infof("scheduled cleanup of %s cancelled", name)
	return true, nil
}

// firedWhileWaiting reports whether the schedule seen pending before
// waiting for the lock was spent by a scheduled cleanup since.
func (s *Service) firedWhileWaiting(ctx context.Context, name environment.Name, seen lifecycle.CleanupSchedule) (bool, error) {
	rec, found, err := s.loadRecord(ctx, name)
	if err != nil || !found {
		return false, errors.Trace(err)
	}
	if rec.Operation != opScheduledCleanup || rec.UpdatedAt.Before(seen.CreatedAt) {
		return false, nil
	}
	switch rec.Status {
	case status.Destroying, status.Destroyed, status.Error:
		return true, nil
	}
	return false, nil
}

// FireScheduledCleanup runs the scheduled cleanup identified by id. The
// schedule is re-read under the environment lock: a cancelled or
// replaced schedule aborts without destroying anything.
func (s *Service) FireScheduledCleanup(ctx context.Context, name environment.Name, id string) (_ lifecycle.CleanupResult, err error) {
	env, err := s.config.Environments(name)
	if err != nil {
		return lifecycle.CleanupResult{}, errors.Trace(err)
	}
	releaser, err := s.config.Locks.Acquire(ctx, name)
	if err != nil {
		return lifecycle.CleanupResult{}, errors.Trace(err)
	}
	defer releaser.Release()

	sched, err := s.config.State.Schedule(ctx, name)
	if errors.Is(err, lifecycleerrors.ScheduleNotFound) {
		return lifecycle.CleanupResult{}, errors.Annotatef(err, "firing %s", id)
	} else if err != nil {
		return lifecycle.CleanupResult{}, errors.Trace(err)
	}
	if sched.Project != s.config.Project {
		return lifecycle.CleanupResult{}, errors.Annotatef(lifecycleerrors.ProjectMismatch,
			"schedule %s of project %q", id, sched.Project)
	}
	if sched.ID != id || sched.Cancelled {
		return lifecycle.CleanupResult{}, errors.Annotatef(lifecycleerrors.ScheduleCancelled, "%s", id)
	}

	sched.Firing = true
	if err := s.config.State.SaveSchedule(ctx, sched); err != nil {
		return lifecycle.CleanupResult{}, errors.Trace(err)
	}

	start := s.config.Clock.Now()
	defer func() {
		s.observe(opScheduledCleanup, name, start, err, false)
	}()
	logger.Infof("running scheduled cleanup of %s", name)
	result, err := s.cleanupLocked(ctx, env, nil, lifecycle.CleanupOptions{Force: true}, opScheduledCleanup)
	if err != nil {
		// A failed cleanup leaves the record in error with its
		// remediation; the schedule itself is spent.
		if rmErr := s.config.State.RemoveSchedule(context.WithoutCancel(ctx), name); rmErr != nil {
			logger.Errorf("cannot remove spent schedule of %s: %v", name, rmErr)
		}
		return result, errors.Trace(err)
	}
	return result, nil
}
