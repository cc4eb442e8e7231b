// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package service orchestrates the deployment lifecycle of an
// environment: deploy, status, scheduled and immediate cleanup.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/webapp-demo/envctl/core/environment"
	"github.com/webapp-demo/envctl/core/inventory"
	"github.com/webapp-demo/envctl/core/status"
	"github.com/webapp-demo/envctl/domain/lifecycle"
	lifecycleerrors "github.com/webapp-demo/envctl/domain/lifecycle/errors"
	"github.com/webapp-demo/envctl/internal/appdeploy"
	"github.com/webapp-demo/envctl/internal/cleanup"
	"github.com/webapp-demo/envctl/internal/cost"
	"github.com/webapp-demo/envctl/internal/lock"
	"github.com/webapp-demo/envctl/internal/metrics"
	"github.com/webapp-demo/envctl/internal/notify"
	"github.com/webapp-demo/envctl/internal/provisioner"
)

var logger = loggo.GetLogger("envctl.lifecycle.service")

// State persists deployment records and cleanup schedules.
type State interface {
	Deployment(ctx context.Context, env environment.Name) (lifecycle.DeploymentRecord, error)
	SaveDeployment(ctx context.Context, rec lifecycle.DeploymentRecord) error
	Schedule(ctx context.Context, env environment.Name) (lifecycle.CleanupSchedule, error)
	SaveSchedule(ctx context.Context, sched lifecycle.CleanupSchedule) error
	RemoveSchedule(ctx context.Context, env environment.Name) error
	AllSchedules(ctx context.Context) ([]lifecycle.CleanupSchedule, error)
	CostReportPath() string
}

// Locks hands out the per environment lock.
type Locks interface {
	TryAcquire(ctx context.Context, env environment.Name) (lock.Releaser, error)
	Acquire(ctx context.Context, env environment.Name) (lock.Releaser, error)
}

// EnvironmentResolver returns the environment called name.
type EnvironmentResolver func(name environment.Name) (environment.Environment, error)

// Discovery builds resource inventories.
type Discovery interface {
	Discover(ctx context.Context, env environment.Environment) (inventory.Inventory, error)
}

// Backend bootstraps the terraform state store.
type Backend interface {
	EnsureBackend(ctx context.Context, env environment.Environment) (environment.BackendConfig, error)
}

// Provisioner plans and applies infrastructure.
type Provisioner interface {
	Plan(ctx context.Context, env environment.Environment) (provisioner.ChangeSet, error)
	Apply(ctx context.Context, cs provisioner.ChangeSet) (provisioner.Outputs, error)
}

// AppDeployer ships and checks the application.
type AppDeployer interface {
	BuildAndPush(ctx context.Context, spec appdeploy.ImageSpec) (appdeploy.ImageRef, error)
	UpdateCompute(ctx context.Context, target appdeploy.Target, ref appdeploy.ImageRef) error
	CheckHealth(ctx context.Context, baseURL string) error
	Validate(ctx context.Context, baseURL string) error
}

// Destroyer tears environments down.
type Destroyer interface {
	Destroy(ctx context.Context, env environment.Environment, before inventory.Inventory) (cleanup.DestroyResult, error)
}

// CostMonitor estimates and measures spend.
type CostMonitor interface {
	Estimate(env environment.Environment, hours float64) cost.Snapshot
	Actual(ctx context.Context, env environment.Environment) (cost.Snapshot, error)
}

// Metrics records operations.
type Metrics interface {
	ObserveOperation(operation, env, outcome string, d time.Duration)
	SetState(env string, st status.Status)
	AddDeleted(env string, n int)
	SetCost(env, source string, amount float64)
}

// ImageSettings describes how the application image is built.
type ImageSettings struct {
	Repository string
	Context    string
	Dockerfile string
}

// Config holds the dependencies of a Service.
type Config struct {
	Project      string
	Environments EnvironmentResolver
	Image        ImageSettings
	Policy       lifecycle.ValidatePolicy

	State       State
	Locks       Locks
	Discovery   Discovery
	Backend     Backend
	Provisioner Provisioner
	App         AppDeployer
	Cleanup     Destroyer
	Cost        CostMonitor
	Notifier    notify.Notifier
	Metrics     Metrics
	Clock       clock.Clock

	// NewID returns identifiers for records and schedules. It defaults
	// to random UUIDs.
	NewID func() string
}

// Validate returns an error if config cannot drive a Service.
func (config Config) Validate() error {
	if err := environment.ValidateProject(config.Project); err != nil {
		return errors.Trace(err)
	}
	if config.Environments == nil {
		return errors.NotValidf("nil Environments")
	}
	if config.Image.Repository == "" {
		return errors.NotValidf("empty image repository")
	}
	if err := config.Policy.Validate(); err != nil {
		return errors.Trace(err)
	}
	if config.State == nil {
		return errors.NotValidf("nil State")
	}
	if config.Locks == nil {
		return errors.NotValidf("nil Locks")
	}
	if config.Discovery == nil {
		return errors.NotValidf("nil Discovery")
	}
	if config.Backend == nil {
		return errors.NotValidf("nil Backend")
	}
	if config.Provisioner == nil {
		return errors.NotValidf("nil Provisioner")
	}
	if config.App == nil {
		return errors.NotValidf("nil App")
	}
	if config.Cleanup == nil {
		return errors.NotValidf("nil Cleanup")
	}
	if config.Cost == nil {
		return errors.NotValidf("nil Cost")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	return nil
}

// Service is the lifecycle orchestrator. All mutating operations on an
// environment are serialized through its lock.
type Service struct {
	config Config
}

// NewService returns a Service.
func NewService(config Config) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if config.Notifier == nil {
		config.Notifier = notify.Nop{}
	}
	if config.Metrics == nil {
		config.Metrics = nopMetrics{}
	}
	if config.NewID == nil {
		config.NewID = uuid.NewString
	}
	return &Service{config: config}, nil
}

// Status reports the record, schedule and live resources of an
// environment. It takes no lock and changes nothing.
func (s *Service) Status(ctx context.Context, name environment.Name) (lifecycle.Report, error) {
	env, err := s.config.Environments(name)
	if err != nil {
		return lifecycle.Report{}, errors.Trace(err)
	}
	report := lifecycle.Report{Environment: name}

	rec, err := s.config.State.Deployment(ctx, name)
	if err == nil {
		report.Deployment = &rec
	} else if !errors.Is(err, lifecycleerrors.DeploymentNotFound) {
		return lifecycle.Report{}, errors.Trace(err)
	}

	sched, err := s.config.State.Schedule(ctx, name)
	if err == nil {
		report.Schedule = &sched
	} else if !errors.Is(err, lifecycleerrors.ScheduleNotFound) {
		return lifecycle.Report{}, errors.Trace(err)
	}

	inv, err := s.config.Discovery.Discover(ctx, env)
	if err != nil {
		return lifecycle.Report{}, errors.Annotatef(err, "discovering %s", name)
	}
	report.Inventory = inv
	report.Summary = inv.Summary()
	return report, nil
}

// BootstrapBackend creates the terraform state store of an environment.
func (s *Service) BootstrapBackend(ctx context.Context, name environment.Name) (environment.BackendConfig, error) {
	env, err := s.config.Environments(name)
	if err != nil {
		return environment.BackendConfig{}, errors.Trace(err)
	}
	releaser, err := s.tryLock(ctx, name)
	if err != nil {
		return environment.BackendConfig{}, errors.Trace(err)
	}
	defer releaser.Release()

	cfg, err := s.config.Backend.EnsureBackend(ctx, env)
	if err != nil {
		return environment.BackendConfig{}, &lifecycle.OperationError{
			Operation:   "bootstrap-backend",
			Environment: name,
			Err:         err,
		}
	}
	return cfg, nil
}

// Schedules returns every persisted cleanup schedule.
func (s *Service) Schedules(ctx context.Context) ([]lifecycle.CleanupSchedule, error) {
	scheds, err := s.config.State.AllSchedules(ctx)
	return scheds, errors.Trace(err)
}

// tryLock takes the lock of name without waiting.
func (s *Service) tryLock(ctx context.Context, name environment.Name) (lock.Releaser, error) {
	releaser, err := s.config.Locks.TryAcquire(ctx, name)
	if errors.Is(err, lock.ErrLocked) {
		return nil, errors.Annotatef(lifecycleerrors.DeploymentInProgress, "%s", name)
	}
	return releaser, errors.Trace(err)
}

// loadRecord returns the record of name, if there is one.
func (s *Service) loadRecord(ctx context.Context, name environment.Name) (lifecycle.DeploymentRecord, bool, error) {
	rec, err := s.config.State.Deployment(ctx, name)
	if errors.Is(err, lifecycleerrors.DeploymentNotFound) {
		return lifecycle.DeploymentRecord{}, false, nil
	} else if err != nil {
		return lifecycle.DeploymentRecord{}, false, errors.Trace(err)
	}
	return rec, true, nil
}

// transition moves rec to next and persists it.
func (s *Service) transition(ctx context.Context, rec *lifecycle.DeploymentRecord, next status.Status) error {
	if err := rec.Transition(next, s.config.Clock.Now()); err != nil {
		return errors.Trace(err)
	}
	logger.Debugf("%s: %s", rec.Environment, next)
	s.config.Metrics.SetState(string(rec.Environment), next)
	return errors.Trace(s.config.State.SaveDeployment(ctx, *rec))
}

// fail records err against rec and returns the error reported to the
// operator.
func (s *Service) fail(ctx context.Context, rec *lifecycle.DeploymentRecord, operation string, err error) error {
	rec.Fail(err, s.config.Clock.Now())
	s.config.Metrics.SetState(string(rec.Environment), rec.Status)
	// The record is best effort here: the original failure matters more.
	if saveErr := s.config.State.SaveDeployment(context.WithoutCancel(ctx), *rec); saveErr != nil {
		logger.Errorf("cannot save failed deployment record of %s: %v", rec.Environment, saveErr)
	}
	opErr := &lifecycle.OperationError{
		Operation:      operation,
		Environment:    rec.Environment,
		LastGoodStatus: rec.LastGoodStatus,
		Err:            err,
	}
	s.notify(ctx, rec.Environment, operation, notify.Failure, opErr.Error())
	return opErr
}

func (s *Service) notify(ctx context.Context, name environment.Name, operation string, level notify.Level, msg string) {
	s.config.Notifier.Notify(context.WithoutCancel(ctx), notify.Event{
		Project:     s.config.Project,
		Environment: string(name),
		Operation:   operation,
		Level:       level,
		Message:     msg,
		Time:        s.config.Clock.Now(),
	})
}

// observe records the outcome of an operation started at start.
func (s *Service) observe(operation string, name environment.Name, start time.Time, err error, warned bool) {
	outcome := metrics.OutcomeSuccess
	switch {
	case err != nil:
		outcome = metrics.OutcomeFailure
	case warned:
		outcome = metrics.OutcomeWarning
	}
	s.config.Metrics.ObserveOperation(operation, string(name), outcome, s.config.Clock.Now().Sub(start))
}

type nopMetrics struct{}

func (nopMetrics) ObserveOperation(string, string, string, time.Duration) {}
func (nopMetrics) SetState(string, status.Status)                         {}
func (nopMetrics) AddDeleted(string, int)                                 {}
func (nopMetrics) SetCost(string, string, float64)                        {}
