// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package status

import (
	"github.com/juju/errors"
)

// Status is the lifecycle state of a deployment of one environment.
type Status string

// String returns a string representation of the Status.
func (s Status) String() string {
	return string(s)
}

const (
	// Idle is set when a deployment record has been created but no
	// step has completed yet.
	Idle Status = "idle"

	// BackendReady is set once the terraform state backend exists.
	BackendReady Status = "backend-ready"

	// Provisioned is set once terraform apply has succeeded and its
	// outputs have been recorded.
	Provisioned Status = "provisioned"

	// AppDeployed is set once the application image has been pushed
	// and the web app points at it.
	AppDeployed Status = "app-deployed"

	// Validated is set once post-deploy validation has run. Warnings
	// raised during validation do not prevent this state.
	Validated Status = "validated"

	// CleanupScheduled is set while a cleanup is pending for the
	// environment.
	CleanupScheduled Status = "cleanup-scheduled"

	// Destroying is set for the duration of a cleanup.
	Destroying Status = "destroying"

	// Destroyed is the terminal state.
	Destroyed Status = "destroyed"

	// Error means the last operation failed and requires human
	// intervention.
	Error Status = "error"
)

// All lists every status in lifecycle order.
var All = []Status{
	Idle,
	BackendReady,
	Provisioned,
	AppDeployed,
	Validated,
	CleanupScheduled,
	Destroying,
	Destroyed,
	Error,
}

// transitions lists the states each state may move to.
var transitions = map[Status][]Status{
	Idle:             {BackendReady, Destroying, Error},
	BackendReady:     {Provisioned, Destroying, Error},
	Provisioned:      {AppDeployed, Destroying, Error},
	AppDeployed:      {Validated, Destroying, Error},
	Validated:        {CleanupScheduled, Destroying, Error},
	CleanupScheduled: {Validated, Destroying, Error},
	Destroying:       {Destroyed, Error},
	Error:            {Destroying},
	Destroyed:        nil,
}

// KnownStatus returns true if the status has a known value.
func (s Status) KnownStatus() bool {
	_, ok := transitions[s]
	return ok
}

// Validate returns a NotValid error for unknown values.
func (s Status) Validate() error {
	if !s.KnownStatus() {
		return errors.NotValidf("deployment status %q", string(s))
	}
	return nil
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == Destroyed
}

// InFlight reports whether a deploy is still working its way towards
// Validated.
func (s Status) InFlight() bool {
	switch s {
	case Idle, BackendReady, Provisioned, AppDeployed:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	for _, candidate := range transitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ValidateTransition returns a NotValid error if moving from s to next
// is not allowed.
func (s Status) ValidateTransition(next Status) error {
	if err := next.Validate(); err != nil {
		return errors.Trace(err)
	}
	if !s.CanTransitionTo(next) {
		return errors.NotValidf("transition from %q to %q", s, next)
	}
	return nil
}
