// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package errors

import "github.com/juju/errors"

const (
	// DeploymentInProgress is raised when another operation holds the
	// environment lock.
	DeploymentInProgress = errors.ConstError("deployment in progress")

	// InterruptedDeployment is raised when a previous deploy stopped
	// part way through and the caller did not ask to resume it.
	InterruptedDeployment = errors.ConstError("interrupted deployment")

	// DeploymentNotFound is raised when no deployment record exists for
	// an environment.
	DeploymentNotFound = errors.ConstError("deployment not found")

	// ScheduleNotFound is raised when no cleanup is scheduled for an
	// environment.
	ScheduleNotFound = errors.ConstError("cleanup schedule not found")

	// CleanupAlreadyStarted is raised when cancelling a scheduled
	// cleanup that has begun destroying resources.
	CleanupAlreadyStarted = errors.ConstError("too late: cleanup already started")

	// ScheduleCancelled is raised when a scheduled cleanup fires after
	// it was cancelled or replaced.
	ScheduleCancelled = errors.ConstError("cleanup schedule cancelled")

	// ProjectMismatch is raised when a stored record or schedule
	// belongs to another project.
	ProjectMismatch = errors.ConstError("record of another project")

	// BudgetExceeded is raised when the estimated cost of a deployment
	// is critical with respect to its budget.
	BudgetExceeded = errors.ConstError("budget exceeded")

	// ConfirmationDeclined is raised when the operator did not confirm
	// a destructive operation.
	ConfirmationDeclined = errors.ConstError("confirmation declined")
)
