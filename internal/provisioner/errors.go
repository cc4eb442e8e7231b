// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package provisioner

import (
	"fmt"
	"strings"

	"github.com/juju/errors"

	"github.com/webapp-demo/envctl/core/environment"
	"github.com/webapp-demo/envctl/core/failure"
)

// Kind classifies a terraform failure.
type Kind string

const (
	KindAuth      Kind = "auth"
	KindQuota     Kind = "quota"
	KindDrift     Kind = "drift"
	KindTransient Kind = "transient"
	KindUnknown   Kind = "unknown"
)

// Diagnosed is implemented by errors carrying terraform's own
// diagnostics, usually its stderr.
type Diagnosed interface {
	error
	Diagnostics() string
}

// Error is returned by every failed provisioner operation.
type Error struct {
	Op          string
	Env         environment.Name
	Kind        Kind
	Diagnostics string
	Err         error
}

// Error implements error.
func (e *Error) Error() string {
	return fmt.Sprintf("terraform %s for %s failed (%s): %v", e.Op, e.Env, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the failure kind corresponding to e.Kind, so callers can
// test errors.Is(err, failure.AuthError) without knowing about terraform.
func (e *Error) Is(target error) bool {
	kind, ok := e.failureKind()
	return ok && target == kind
}

func (e *Error) failureKind() (errors.ConstError, bool) {
	switch e.Kind {
	case KindAuth:
		return failure.AuthError, true
	case KindQuota:
		return failure.QuotaOrNamingCollision, true
	case KindDrift:
		return failure.DriftError, true
	case KindTransient:
		return failure.TransientProviderError, true
	}
	return "", false
}

// Patterns are matched against lower cased diagnostics, in order.
var patterns = []struct {
	kind    Kind
	needles []string
}{{
	kind: KindAuth,
	needles: []string{
		"authorizationfailed",
		"authenticationfailed",
		"invalidauthenticationtoken",
		"please run 'az login'",
		"unable to build authorizer",
		"statuscode=401",
		"statuscode=403",
	},
}, {
	kind: KindQuota,
	needles: []string{
		"quotaexceeded",
		"exceeding approved",
		"operation could not be completed as it results in exceeding",
		"storageaccountalreadytaken",
		"nameunavailable",
		"name is already in use",
		"already exists - to be managed via terraform",
		"vaultalreadyexists",
		"conflictingservernamealreadyexists",
		"statuscode=409",
	},
}, {
	kind: KindTransient,
	needles: []string{
		"error acquiring the state lock",
		"statuscode=429",
		"toomanyrequests",
		"statuscode=503",
		"statuscode=502",
		"retryable",
		"connection reset by peer",
		"i/o timeout",
		"tls handshake timeout",
		"context deadline exceeded",
		"anotheroperationinprogress",
	},
}, {
	kind: KindDrift,
	needles: []string{
		"provider produced inconsistent result",
		"statuscode=404",
		"was not found",
		"resource not found",
		"has been deleted outside of terraform",
	},
}}

// Classify returns the kind of failure described by diagnostics.
func Classify(diagnostics string) Kind {
	lower := strings.ToLower(diagnostics)
	for _, p := range patterns {
		for _, needle := range p.needles {
			if strings.Contains(lower, needle) {
				return p.kind
			}
		}
	}
	return KindUnknown
}

func newError(op string, env environment.Name, err error) error {
	if err == nil {
		return nil
	}
	var already *Error
	if errors.As(err, &already) {
		return err
	}
	diagnostics := err.Error()
	var d Diagnosed
	if errors.As(err, &d) && d.Diagnostics() != "" {
		diagnostics = d.Diagnostics()
	}
	return &Error{
		Op:          op,
		Env:         env,
		Kind:        Classify(diagnostics),
		Diagnostics: diagnostics,
		Err:         err,
	}
}
