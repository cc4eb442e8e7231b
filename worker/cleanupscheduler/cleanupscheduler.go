// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package cleanupscheduler provides the worker that owns the timers of
// scheduled cleanups and fires them when they are due.
package cleanupscheduler

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/retry"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/catacomb"

	"github.com/webapp-demo/envctl/core/environment"
	"github.com/webapp-demo/envctl/domain/lifecycle"
	lifecycleerrors "github.com/webapp-demo/envctl/domain/lifecycle/errors"
)

const (
	// RetryDelay is the wait before firing again a schedule that is
	// still pending after an attempt. It doubles with every further
	// attempt, up to MaxRetryDelay.
	RetryDelay    = time.Minute
	MaxRetryDelay = 30 * time.Minute
)

var retryBackoff = retry.ExpBackoff(RetryDelay, MaxRetryDelay, 2, false)

// Logger represents the methods used by the worker to log information.
type Logger interface {
	Debugf(string, ...interface{})
	Infof(string, ...interface{})
	Warningf(string, ...interface{})
}

// NotifyWatcher sends an event whenever the schedules may have changed.
type NotifyWatcher interface {
	worker.Worker
	Changes() <-chan struct{}
}

// ScheduleSource provides the persisted cleanup schedules.
type ScheduleSource interface {
	AllSchedules(ctx context.Context) ([]lifecycle.CleanupSchedule, error)
}

// Firer runs a scheduled cleanup. It re-checks the schedule under the
// environment lock, so firing a schedule cancelled meanwhile is safe.
type Firer interface {
	FireScheduledCleanup(ctx context.Context, env environment.Name, id string) (lifecycle.CleanupResult, error)
}

// Config defines the operation of the Worker.
type Config struct {
	Source ScheduleSource
	Watch  func() (NotifyWatcher, error)
	Firer  Firer
	Clock  clock.Clock
	Logger Logger

	// ExitWhenIdle stops the worker, without error, once no cleanup
	// is pending.
	ExitWhenIdle bool
}

// Validate returns an error if config cannot drive the Worker.
func (config Config) Validate() error {
	if config.Source == nil {
		return errors.NotValidf("nil Source")
	}
	if config.Watch == nil {
		return errors.NotValidf("nil Watch")
	}
	if config.Firer == nil {
		return errors.NotValidf("nil Firer")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// New returns a cleanup scheduler backed by config, or an error.
func New(config Config) (worker.Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	w := &Worker{
		config:    config,
		schedules: make(map[environment.Name]lifecycle.CleanupSchedule),
		attempts:  make(map[string]attempts),
	}
	err := catacomb.Invoke(catacomb.Plan{
		Site: &w.catacomb,
		Work: w.loop,
	})
	return w, errors.Trace(err)
}

// Worker fires scheduled cleanups when they are due.
type Worker struct {
	catacomb catacomb.Catacomb
	config   Config

	schedules map[environment.Name]lifecycle.CleanupSchedule
	// attempts holds, by schedule ID, the firings of schedules that
	// were still pending afterwards.
	attempts map[string]attempts

	timer       clock.Timer
	nextTrigger time.Time
}

type attempts struct {
	count int
	next  time.Time
}

// Kill is defined on worker.Worker.
func (w *Worker) Kill() {
	w.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *Worker) Wait() error {
	return w.catacomb.Wait()
}

func (w *Worker) loop() (err error) {
	changes, err := w.config.Watch()
	if err != nil {
		return errors.Trace(err)
	}
	if err := w.catacomb.Add(changes); err != nil {
		return errors.Trace(err)
	}
	ctx := w.catacomb.Context(context.Background())
	for {
		var timeout <-chan time.Time
		if w.timer != nil {
			timeout = w.timer.Chan()
		}
		select {
		case <-w.catacomb.Dying():
			return w.catacomb.ErrDying()
		case _, ok := <-changes.Changes():
			if !ok {
				return errors.New("cleanup schedule change channel closed")
			}
			if err := w.reload(ctx); err != nil {
				return errors.Trace(err)
			}
		case now := <-timeout:
			w.timer = nil
			w.nextTrigger = time.Time{}
			w.fire(ctx, now)
			if err := w.reload(ctx); err != nil {
				return errors.Trace(err)
			}
		}
		if w.config.ExitWhenIdle && len(w.schedules) == 0 {
			w.config.Logger.Infof("no cleanup pending, scheduler exiting")
			return nil
		}
	}
}

// reload replaces the known schedules with the pending ones on disk.
func (w *Worker) reload(ctx context.Context) error {
	all, err := w.config.Source.AllSchedules(ctx)
	if err != nil {
		return errors.Annotate(err, "loading cleanup schedules")
	}
	w.schedules = make(map[environment.Name]lifecycle.CleanupSchedule, len(all))
	pending := make(map[string]attempts, len(w.attempts))
	for _, sched := range all {
		if !sched.Pending() {
			continue
		}
		w.schedules[sched.Environment] = sched
		if a, ok := w.attempts[sched.ID]; ok {
			pending[sched.ID] = a
		}
	}
	w.attempts = pending
	w.config.Logger.Debugf("%d cleanups pending", len(w.schedules))
	w.computeNextFireTime()
	return nil
}

func (w *Worker) fire(ctx context.Context, now time.Time) {
	for env, sched := range w.schedules {
		if w.fireAt(sched).After(now) {
			continue
		}
		w.config.Logger.Infof("firing scheduled cleanup %s of %s", sched.ID, env)
		result, err := w.config.Firer.FireScheduledCleanup(ctx, env, sched.ID)

		// Should the schedule still be pending on reload, it is held
		// back before firing again.
		a := w.attempts[sched.ID]
		a.count++
		a.next = now.Add(retryBackoff(0, a.count-1))
		w.attempts[sched.ID] = a

		switch {
		case err == nil:
			w.config.Logger.Infof("scheduled cleanup of %s removed %d resources", env, result.Destroy.DeletedCount)
		case errors.Is(err, lifecycleerrors.ScheduleCancelled),
			errors.Is(err, lifecycleerrors.ScheduleNotFound),
			errors.Is(err, lifecycleerrors.CleanupAlreadyStarted):
			w.config.Logger.Debugf("scheduled cleanup %s of %s skipped: %v", sched.ID, env, err)
		default:
			// The deployment record carries the failure and its
			// remediation; the scheduler keeps serving the others.
			w.config.Logger.Warningf("scheduled cleanup of %s failed (attempt %d), not retried before %s: %v",
				env, a.count, a.next.Format(time.RFC3339), err)
		}
		delete(w.schedules, env)
	}
}

// fireAt returns when sched is next due, accounting for earlier
// attempts to fire it.
func (w *Worker) fireAt(sched lifecycle.CleanupSchedule) time.Time {
	if a, ok := w.attempts[sched.ID]; ok && a.next.After(sched.FireAt) {
		return a.next
	}
	return sched.FireAt
}

func (w *Worker) computeNextFireTime() {
	if len(w.schedules) == 0 {
		if w.timer != nil {
			w.timer.Stop()
		}
		w.timer = nil
		w.nextTrigger = time.Time{}
		return
	}

	var soonest time.Time
	for _, sched := range w.schedules {
		at := w.fireAt(sched)
		if !soonest.IsZero() && at.After(soonest) {
			continue
		}
		soonest = at
	}
	// There's no need to start or reset the timer if there's no changes to make.
	if w.timer != nil && w.nextTrigger.Equal(soonest) {
		return
	}

	// Account for the worker not running when a cleanup was due.
	now := w.config.Clock.Now()
	if soonest.Before(now) {
		soonest = now
	}
	next := soonest.Sub(now)
	w.config.Logger.Debugf("next cleanup fires in %v at %s", next, soonest.Format(time.RFC3339))

	w.nextTrigger = soonest
	if w.timer == nil {
		w.timer = w.config.Clock.NewTimer(next)
		return
	}
	// See the docs on Timer.Reset() that says it isn't safe to call
	// on a non-stopped channel, and if it is stopped, you need to check
	// if the channel needs to be drained anyway.
	if !w.timer.Stop() {
		select {
		case <-w.timer.Chan():
		default:
		}
	}
	w.timer.Reset(next)
}
