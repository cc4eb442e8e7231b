// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cleanupscheduler_test

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/workertest"
	gc "gopkg.in/check.v1"

	"github.com/webapp-demo/envctl/core/environment"
	"github.com/webapp-demo/envctl/domain/lifecycle"
	lifecycleerrors "github.com/webapp-demo/envctl/domain/lifecycle/errors"
	"github.com/webapp-demo/envctl/worker/cleanupscheduler"
)

type workerSuite struct {
	testing.IsolationSuite

	clock   *testclock.Clock
	source  *fakeSource
	watcher *fakeWatcher
	firer   *fakeFirer
}

var _ = gc.Suite(&workerSuite{})

var epoch = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

func (s *workerSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.clock = testclock.NewClock(epoch)
	s.source = &fakeSource{loaded: make(chan struct{}, 10)}
	s.watcher = newFakeWatcher()
	s.firer = &fakeFirer{fired: make(chan string, 10)}
}

func (s *workerSuite) config() cleanupscheduler.Config {
	return cleanupscheduler.Config{
		Source: s.source,
		Watch: func() (cleanupscheduler.NotifyWatcher, error) {
			return s.watcher, nil
		},
		Firer:  s.firer,
		Clock:  s.clock,
		Logger: loggo.GetLogger("test"),
	}
}

func (s *workerSuite) start(c *gc.C, config cleanupscheduler.Config) worker.Worker {
	w, err := cleanupscheduler.New(config)
	c.Assert(err, jc.ErrorIsNil)
	s.watcher.notify(c)
	s.waitLoaded(c)
	return w
}

func (s *workerSuite) waitLoaded(c *gc.C) {
	select {
	case <-s.source.loaded:
	case <-time.After(testing.LongWait):
		c.Fatalf("timed out waiting for schedules to load")
	}
}

func (s *workerSuite) schedule(env, id string, in time.Duration) lifecycle.CleanupSchedule {
	return lifecycle.CleanupSchedule{
		ID:          id,
		Environment: environment.Name(env),
		CreatedAt:   epoch,
		FireAt:      epoch.Add(in),
		Handle:      lifecycle.LocalHandle(id),
	}
}

func (s *workerSuite) TestValidateConfig(c *gc.C) {
	config := s.config()
	config.Firer = nil
	_, err := cleanupscheduler.New(config)
	c.Assert(err, jc.ErrorIs, errors.NotValid)
	c.Assert(err, gc.ErrorMatches, "nil Firer not valid")

	config = s.config()
	config.Watch = nil
	_, err = cleanupscheduler.New(config)
	c.Assert(err, gc.ErrorMatches, "nil Watch not valid")
}

func (s *workerSuite) TestFiresWhenDue(c *gc.C) {
	s.source.set(s.schedule("dev", "sched-1", time.Hour))
	w := s.start(c, s.config())
	defer workertest.CleanKill(c, w)

	s.firer.checkNotFired(c)
	err := s.clock.WaitAdvance(time.Hour, testing.LongWait, 1)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.firer.next(c), gc.Equals, "dev/sched-1")
}

func (s *workerSuite) TestFiresSoonestFirst(c *gc.C) {
	s.source.set(
		s.schedule("staging", "sched-2", 2*time.Hour),
		s.schedule("dev", "sched-1", time.Hour),
	)
	// The fired schedule is gone from disk by the time it returns.
	s.firer.onFire = func() {
		s.source.set(s.schedule("staging", "sched-2", 2*time.Hour))
	}
	w := s.start(c, s.config())
	defer workertest.CleanKill(c, w)

	err := s.clock.WaitAdvance(time.Hour, testing.LongWait, 1)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.firer.next(c), gc.Equals, "dev/sched-1")
	s.firer.checkNotFired(c)

	err = s.clock.WaitAdvance(time.Hour, testing.LongWait, 1)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.firer.next(c), gc.Equals, "staging/sched-2")
}

func (s *workerSuite) TestOverdueFiresImmediately(c *gc.C) {
	s.source.set(s.schedule("dev", "sched-1", -time.Minute))
	w := s.start(c, s.config())
	defer workertest.CleanKill(c, w)

	c.Assert(s.firer.next(c), gc.Equals, "dev/sched-1")
}

func (s *workerSuite) TestCancelledBeforeFireNeverDestroys(c *gc.C) {
	s.source.set(s.schedule("dev", "sched-1", time.Hour))
	w := s.start(c, s.config())
	defer workertest.CleanKill(c, w)

	err := s.clock.WaitAdvance(30*time.Minute, testing.LongWait, 1)
	c.Assert(err, jc.ErrorIsNil)

	s.source.set()
	s.watcher.notify(c)
	s.waitLoaded(c)

	s.clock.Advance(time.Hour)
	s.firer.checkNotFired(c)
}

func (s *workerSuite) TestSkipsCancelledAndFiring(c *gc.C) {
	cancelled := s.schedule("dev", "sched-1", time.Minute)
	cancelled.Cancelled = true
	firing := s.schedule("staging", "sched-2", time.Minute)
	firing.Firing = true
	s.source.set(cancelled, firing)
	w := s.start(c, s.config())
	defer workertest.CleanKill(c, w)

	s.clock.Advance(time.Hour)
	s.firer.checkNotFired(c)
}

func (s *workerSuite) TestReplacedScheduleIsBenign(c *gc.C) {
	s.firer.SetErrors(errors.Annotate(lifecycleerrors.ScheduleCancelled, "dev"))
	s.source.set(s.schedule("dev", "sched-1", time.Minute))
	s.firer.onFire = func() { s.source.set() }
	w := s.start(c, s.config())

	err := s.clock.WaitAdvance(time.Minute, testing.LongWait, 1)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.firer.next(c), gc.Equals, "dev/sched-1")
	workertest.CheckAlive(c, w)
	workertest.CleanKill(c, w)
}

func (s *workerSuite) TestFailedCleanupKeepsRunning(c *gc.C) {
	s.firer.SetErrors(errors.New("throttled"))
	s.source.set(
		s.schedule("dev", "sched-1", time.Minute),
		s.schedule("staging", "sched-2", time.Hour),
	)
	s.firer.onFire = func() {
		s.firer.onFire = nil
		s.source.set(s.schedule("staging", "sched-2", time.Hour))
	}
	w := s.start(c, s.config())
	defer workertest.CleanKill(c, w)

	err := s.clock.WaitAdvance(time.Minute, testing.LongWait, 1)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.firer.next(c), gc.Equals, "dev/sched-1")

	err = s.clock.WaitAdvance(59*time.Minute, testing.LongWait, 1)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.firer.next(c), gc.Equals, "staging/sched-2")
}

func (s *workerSuite) TestStillPendingRetriedWithBackoff(c *gc.C) {
	throttled := errors.New("throttled")
	s.firer.SetErrors(throttled, throttled, throttled)
	s.source.set(s.schedule("dev", "sched-1", time.Minute))
	w := s.start(c, s.config())
	defer workertest.CleanKill(c, w)

	err := s.clock.WaitAdvance(time.Minute, testing.LongWait, 1)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.firer.next(c), gc.Equals, "dev/sched-1")
	s.firer.checkNotFired(c)

	err = s.clock.WaitAdvance(cleanupscheduler.RetryDelay, testing.LongWait, 1)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.firer.next(c), gc.Equals, "dev/sched-1")

	// The delay doubles.
	err = s.clock.WaitAdvance(cleanupscheduler.RetryDelay, testing.LongWait, 1)
	c.Assert(err, jc.ErrorIsNil)
	s.firer.checkNotFired(c)
	err = s.clock.WaitAdvance(cleanupscheduler.RetryDelay, testing.LongWait, 1)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.firer.next(c), gc.Equals, "dev/sched-1")
	s.firer.checkNotFired(c)
	s.firer.CheckCallNames(c, "FireScheduledCleanup", "FireScheduledCleanup", "FireScheduledCleanup")
}

func (s *workerSuite) TestReplacedScheduleFiresWithoutDelay(c *gc.C) {
	s.firer.SetErrors(errors.New("throttled"))
	s.source.set(s.schedule("dev", "sched-1", time.Minute))
	w := s.start(c, s.config())
	defer workertest.CleanKill(c, w)

	err := s.clock.WaitAdvance(time.Minute, testing.LongWait, 1)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.firer.next(c), gc.Equals, "dev/sched-1")

	// A new deploy replaces the schedule; it is not held back by the
	// failures of the old one.
	s.source.set(s.schedule("dev", "sched-2", time.Minute+time.Second))
	s.watcher.notify(c)
	s.waitLoaded(c)
	s.waitLoaded(c)

	err = s.clock.WaitAdvance(time.Second, testing.LongWait, 1)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.firer.next(c), gc.Equals, "dev/sched-2")
}

func (s *workerSuite) TestExitWhenIdle(c *gc.C) {
	config := s.config()
	config.ExitWhenIdle = true
	w := s.start(c, config)

	err := workertest.CheckKilled(c, w)
	c.Assert(err, jc.ErrorIsNil)
	s.firer.checkNotFired(c)
}

func (s *workerSuite) TestExitWhenIdleAfterFiring(c *gc.C) {
	config := s.config()
	config.ExitWhenIdle = true
	s.source.set(s.schedule("dev", "sched-1", time.Minute))
	s.firer.onFire = func() { s.source.set() }
	w := s.start(c, config)
	workertest.CheckAlive(c, w)

	err := s.clock.WaitAdvance(time.Minute, testing.LongWait, 1)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.firer.next(c), gc.Equals, "dev/sched-1")

	err = workertest.CheckKilled(c, w)
	c.Assert(err, jc.ErrorIsNil)
}

func (s *workerSuite) TestLoadErrorKillsWorker(c *gc.C) {
	s.source.SetErrors(errors.New("permission denied"))
	w, err := cleanupscheduler.New(s.config())
	c.Assert(err, jc.ErrorIsNil)
	s.watcher.notify(c)

	err = workertest.CheckKilled(c, w)
	c.Assert(err, gc.ErrorMatches, "loading cleanup schedules: permission denied")
}

type fakeSource struct {
	testing.Stub
	mu        sync.Mutex
	schedules []lifecycle.CleanupSchedule
	loaded    chan struct{}
}

func (f *fakeSource) set(schedules ...lifecycle.CleanupSchedule) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schedules = schedules
}

func (f *fakeSource) AllSchedules(ctx context.Context) ([]lifecycle.CleanupSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AddCall("AllSchedules")
	defer func() { f.loaded <- struct{}{} }()
	if err := f.NextErr(); err != nil {
		return nil, err
	}
	return append([]lifecycle.CleanupSchedule(nil), f.schedules...), nil
}

type fakeFirer struct {
	testing.Stub
	fired  chan string
	onFire func()
}

func (f *fakeFirer) FireScheduledCleanup(ctx context.Context, env environment.Name, id string) (lifecycle.CleanupResult, error) {
	f.AddCall("FireScheduledCleanup", env, id)
	if f.onFire != nil {
		f.onFire()
	}
	f.fired <- string(env) + "/" + id
	if err := f.NextErr(); err != nil {
		return lifecycle.CleanupResult{}, err
	}
	return lifecycle.CleanupResult{Environment: env}, nil
}

func (f *fakeFirer) next(c *gc.C) string {
	select {
	case fired := <-f.fired:
		return fired
	case <-time.After(testing.LongWait):
		c.Fatalf("timed out waiting for a cleanup to fire")
	}
	return ""
}

func (f *fakeFirer) checkNotFired(c *gc.C) {
	select {
	case fired := <-f.fired:
		c.Fatalf("unexpected cleanup of %s", fired)
	case <-time.After(testing.ShortWait):
	}
}

type fakeWatcher struct {
	changes chan struct{}
	dying   chan struct{}
	once    sync.Once
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{
		changes: make(chan struct{}),
		dying:   make(chan struct{}),
	}
}

func (w *fakeWatcher) notify(c *gc.C) {
	select {
	case w.changes <- struct{}{}:
	case <-time.After(testing.LongWait):
		c.Fatalf("timed out sending schedule change")
	}
}

func (w *fakeWatcher) Changes() <-chan struct{} {
	return w.changes
}

func (w *fakeWatcher) Kill() {
	w.once.Do(func() { close(w.dying) })
}

func (w *fakeWatcher) Wait() error {
	<-w.dying
	return nil
}
