// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package lifecycle

import (
	"fmt"
	"time"

	"github.com/juju/errors"

	"github.com/webapp-demo/envctl/core/environment"
	"github.com/webapp-demo/envctl/core/failure"
	"github.com/webapp-demo/envctl/core/inventory"
	"github.com/webapp-demo/envctl/core/status"
	"github.com/webapp-demo/envctl/internal/cleanup"
	"github.com/webapp-demo/envctl/internal/cost"
)

// ValidatePolicy decides what happens to a deployment whose
// validation checks fail.
type ValidatePolicy string

const (
	// LeaveRunning keeps the deployment and records a warning.
	LeaveRunning ValidatePolicy = "leave_running"
	// AutoCleanup destroys the deployment.
	AutoCleanup ValidatePolicy = "auto_cleanup"
)

// Validate returns a NotValid error for unknown policies.
func (p ValidatePolicy) Validate() error {
	switch p {
	case LeaveRunning, AutoCleanup:
		return nil
	}
	return errors.NotValidf("validation failure policy %q", string(p))
}

// DeploymentRecord tracks a single deploy of an environment through the
// lifecycle. It is persisted after every transition.
type DeploymentRecord struct {
	ID             string            `yaml:"id" json:"id"`
	Project        string            `yaml:"project" json:"project"`
	Environment    environment.Name  `yaml:"environment" json:"environment"`
	StartedAt      time.Time         `yaml:"started-at" json:"started-at"`
	UpdatedAt      time.Time         `yaml:"updated-at" json:"updated-at"`
	Status         status.Status     `yaml:"status" json:"status"`
	LastGoodStatus status.Status     `yaml:"last-good-status" json:"last-good-status"`
	Operation      string            `yaml:"operation,omitempty" json:"operation,omitempty"`
	LastError      string            `yaml:"last-error,omitempty" json:"last-error,omitempty"`
	ErrorKind      string            `yaml:"error-kind,omitempty" json:"error-kind,omitempty"`
	Warnings       []string          `yaml:"warnings,omitempty" json:"warnings,omitempty"`
	Outputs        map[string]string `yaml:"outputs,omitempty" json:"outputs,omitempty"`
	Image          string            `yaml:"image,omitempty" json:"image,omitempty"`
}

// NewDeploymentRecord returns an idle record for env.
func NewDeploymentRecord(id string, env environment.Name, now time.Time) DeploymentRecord {
	return DeploymentRecord{
		ID:             id,
		Environment:    env,
		StartedAt:      now,
		UpdatedAt:      now,
		Status:         status.Idle,
		LastGoodStatus: status.Idle,
	}
}

// Transition moves the record to next, rejecting moves the lifecycle
// does not allow.
func (r *DeploymentRecord) Transition(next status.Status, now time.Time) error {
	if err := r.Status.ValidateTransition(next); err != nil {
		return errors.Trace(err)
	}
	r.Status = next
	r.UpdatedAt = now
	if next != status.Error && next != status.Destroying {
		r.LastGoodStatus = next
	}
	return nil
}

// Fail moves the record to the error state and records err.
func (r *DeploymentRecord) Fail(err error, now time.Time) {
	if r.Status.CanTransitionTo(status.Error) {
		r.Status = status.Error
	}
	r.UpdatedAt = now
	r.LastError = err.Error()
	r.ErrorKind = failure.Name(err)
}

// Warn records a non fatal problem.
func (r *DeploymentRecord) Warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Active reports whether the record still describes resources that
// may exist in the cloud.
func (r DeploymentRecord) Active() bool {
	return !r.Status.IsTerminal()
}

// CleanupSchedule is a pending destroy of an environment at a given
// time. At most one exists per environment, and only while the
// environment has an active deployment record.
type CleanupSchedule struct {
	ID          string           `yaml:"id" json:"id"`
	Project     string           `yaml:"project" json:"project"`
	Environment environment.Name `yaml:"environment" json:"environment"`
	CreatedAt   time.Time        `yaml:"created-at" json:"created-at"`
	FireAt      time.Time        `yaml:"fire-at" json:"fire-at"`
	// Handle identifies the timer that owns the schedule.
	Handle    string `yaml:"handle" json:"handle"`
	Cancelled bool   `yaml:"cancelled,omitempty" json:"cancelled,omitempty"`
	// Firing is set, under the environment lock, before destroy starts.
	// Once set the schedule can no longer be cancelled.
	Firing bool `yaml:"firing,omitempty" json:"firing,omitempty"`
}

// LocalHandle returns the handle of a schedule owned by the local
// scheduler worker.
func LocalHandle(id string) string {
	return "local:" + id
}

// Due reports whether the schedule should fire at now.
func (s CleanupSchedule) Due(now time.Time) bool {
	return !s.Cancelled && !s.FireAt.After(now)
}

// Pending reports whether the schedule is waiting to fire.
func (s CleanupSchedule) Pending() bool {
	return !s.Cancelled && !s.Firing
}

// DeployOptions holds the arguments of a deploy.
type DeployOptions struct {
	// CleanupAfter schedules a cleanup this long after a successful
	// deploy. Zero schedules nothing.
	CleanupAfter time.Duration
	// Budget in USD. Zero disables the budget check.
	Budget float64
	// SkipTests skips the validation checks.
	SkipTests bool
	// Force resumes an interrupted deploy and ignores a critical
	// cost estimate.
	Force bool
}

// Validate checks the options.
func (o DeployOptions) Validate() error {
	if o.CleanupAfter < 0 {
		return errors.NotValidf("negative cleanup delay %v", o.CleanupAfter)
	}
	if o.Budget < 0 {
		return errors.NotValidf("negative budget %v", o.Budget)
	}
	return nil
}

// CleanupOptions holds the arguments of a cleanup.
type CleanupOptions struct {
	// Force skips the confirmation.
	Force bool
	// CostReport records a cost snapshot once resources are gone.
	CostReport bool
	// Confirm is called with the resources about to be destroyed,
	// unless Force is set. A non nil error aborts the cleanup.
	Confirm func(inventory.Inventory) error
}

// CleanupResult describes a completed cleanup.
type CleanupResult struct {
	Environment    environment.Name      `yaml:"environment" json:"environment"`
	NothingToClean bool                  `yaml:"nothing-to-clean" json:"nothing-to-clean"`
	Before         inventory.Inventory   `yaml:"before" json:"before"`
	After          inventory.Inventory   `yaml:"after" json:"after"`
	Destroy        cleanup.DestroyResult `yaml:"destroy" json:"destroy"`
	Cost           *cost.Snapshot        `yaml:"cost,omitempty" json:"cost,omitempty"`
}

// Report describes the current state of an environment.
type Report struct {
	Environment environment.Name    `yaml:"environment" json:"environment"`
	Deployment  *DeploymentRecord   `yaml:"deployment,omitempty" json:"deployment,omitempty"`
	Schedule    *CleanupSchedule    `yaml:"schedule,omitempty" json:"schedule,omitempty"`
	Inventory   inventory.Inventory `yaml:"inventory" json:"inventory"`
	Summary     inventory.Summary   `yaml:"summary" json:"summary"`
}

// OperationError wraps the failure of a lifecycle operation with what
// the operator needs to recover from it.
type OperationError struct {
	Operation      string
	Environment    environment.Name
	LastGoodStatus status.Status
	Err            error
}

// Error implements error.
func (e *OperationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Operation, e.Environment, e.Err)
}

// Unwrap returns the underlying failure.
func (e *OperationError) Unwrap() error {
	return e.Err
}

// Kind returns the short name of the failure kind.
func (e *OperationError) Kind() string {
	return failure.Name(e.Err)
}

// Remediation returns the command that recovers from the failure.
func (e *OperationError) Remediation() string {
	return failure.Remediation(e.Err, e.Operation, string(e.Environment))
}
