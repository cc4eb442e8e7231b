// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package failure holds the error kinds shared by every lifecycle
// operation, and how each kind is reported to the operator.
package failure

import (
	"fmt"

	"github.com/juju/errors"
)

const (
	// AuthError describes missing or rejected credentials. Fatal.
	AuthError = errors.ConstError("authentication error")

	// TransientProviderError describes rate limiting, timeouts and
	// eventual consistency failures. Retried with backoff; fatal once
	// the retries are exhausted.
	TransientProviderError = errors.ConstError("transient provider error")

	// QuotaOrNamingCollision describes exhausted quota or a globally
	// unique name already taken by someone else. Fatal.
	QuotaOrNamingCollision = errors.ConstError("quota or naming collision")

	// DriftError describes recorded state that disagrees with the
	// provider. The provider view wins and the operation continues.
	DriftError = errors.ConstError("state drift")

	// ValidationWarning describes a failed post-deploy check. The
	// deployment is kept.
	ValidationWarning = errors.ConstError("validation warning")
)

var kinds = []errors.ConstError{
	AuthError,
	TransientProviderError,
	QuotaOrNamingCollision,
	DriftError,
	ValidationWarning,
}

type kindError struct {
	error
	kind errors.ConstError
}

// Unwrap returns the annotated error.
func (e *kindError) Unwrap() error {
	return e.error
}

// Is makes errors.Is match the attached kind.
func (e *kindError) Is(target error) bool {
	k, ok := target.(errors.ConstError)
	return ok && k == e.kind
}

// WithKind attaches kind to err, keeping err in the chain.
func WithKind(err error, kind errors.ConstError) error {
	if err == nil {
		return nil
	}
	return &kindError{error: err, kind: kind}
}

// KindOf returns the kind of err, if it has one.
func KindOf(err error) (errors.ConstError, bool) {
	if err == nil {
		return "", false
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k, true
		}
	}
	return "", false
}

// IsWarning reports whether err should be recorded and the operation
// continued rather than aborted.
func IsWarning(err error) bool {
	k, ok := KindOf(err)
	return ok && (k == DriftError || k == ValidationWarning)
}

// Name returns the short name of the kind of err, as printed to the
// operator.
func Name(err error) string {
	k, ok := KindOf(err)
	if !ok {
		return "Unknown"
	}
	switch k {
	case AuthError:
		return "AuthError"
	case TransientProviderError:
		return "TransientProviderError"
	case QuotaOrNamingCollision:
		return "QuotaOrNamingCollision"
	case DriftError:
		return "DriftError"
	case ValidationWarning:
		return "ValidationWarning"
	}
	return "Unknown"
}

// Exit codes returned by the CLI for each kind.
const (
	ExitGeneric    = 1
	ExitAuth       = 3
	ExitQuota      = 4
	ExitTransient  = 5
	ExitDrift      = 6
	ExitValidation = 7
	ExitInProgress = 8
)

// ExitCode returns the process exit code for err.
func ExitCode(err error) int {
	k, _ := KindOf(err)
	switch k {
	case AuthError:
		return ExitAuth
	case QuotaOrNamingCollision:
		return ExitQuota
	case TransientProviderError:
		return ExitTransient
	case DriftError:
		return ExitDrift
	case ValidationWarning:
		return ExitValidation
	}
	return ExitGeneric
}

// Remediation returns the command the operator should run after
// operation failed on env with err.
func Remediation(err error, operation, env string) string {
	retry := fmt.Sprintf("envctl %s --env %s", operation, env)
	if operation == "deploy" || operation == "cleanup" {
		retry += " --force"
	}
	k, _ := KindOf(err)
	switch k {
	case AuthError:
		return fmt.Sprintf("az login && envctl %s --env %s", operation, env)
	case QuotaOrNamingCollision:
		return "change 'project' in envctl.yaml or request more quota, then run: " + retry
	case TransientProviderError:
		return retry
	case DriftError, ValidationWarning:
		return fmt.Sprintf("envctl status --env %s", env)
	}
	if operation == "cleanup" {
		return fmt.Sprintf("envctl cleanup --env %s --force", env)
	}
	return fmt.Sprintf("envctl status --env %s && envctl cleanup --env %s", env, env)
}
