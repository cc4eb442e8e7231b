// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package backoff wraps calls to the cloud provider and terraform with
// a per-call timeout and exponential backoff on transient failures.
package backoff

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/retry"

	"github.com/webapp-demo/envctl/core/failure"
)

var logger = loggo.GetLogger("envctl.backoff")

// Policy bounds the retries of a single logical call.
type Policy struct {
	// Attempts is the maximum number of calls made.
	Attempts int
	// Delay is the wait before the first retry. It doubles on every
	// further retry, up to MaxDelay.
	Delay    time.Duration
	MaxDelay time.Duration
	// CallTimeout bounds every attempt. Zero means no bound beyond the
	// caller's context.
	CallTimeout time.Duration
}

// DefaultPolicy is used for provider control plane calls.
var DefaultPolicy = Policy{
	Attempts:    5,
	Delay:       2 * time.Second,
	MaxDelay:    30 * time.Second,
	CallTimeout: 2 * time.Minute,
}

// Validate returns an error if the policy cannot drive retry.Call.
func (p Policy) Validate() error {
	if p.Attempts < 1 {
		return errors.NotValidf("%d attempts", p.Attempts)
	}
	if p.Delay <= 0 {
		return errors.NotValidf("non-positive delay")
	}
	if p.CallTimeout < 0 {
		return errors.NotValidf("negative call timeout")
	}
	return nil
}

// Caller calls functions under a Policy.
type Caller struct {
	Clock  clock.Clock
	Policy Policy
}

// NewCaller returns a Caller using DefaultPolicy.
func NewCaller(clk clock.Clock) Caller {
	return Caller{Clock: clk, Policy: DefaultPolicy}
}

// Call calls f until it succeeds, fails with an error that is not a
// TransientProviderError, or the attempts run out. An attempt that
// exceeds the call timeout is itself transient. what names the call in
// logs and errors.
func (c Caller) Call(ctx context.Context, what string, f func(context.Context) error) error {
	if err := c.Policy.Validate(); err != nil {
		return errors.Trace(err)
	}
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			return c.attempt(ctx, what, f)
		},
		IsFatalError: func(err error) bool {
			return !errors.Is(err, failure.TransientProviderError)
		},
		NotifyFunc: func(err error, attempt int) {
			logger.Debugf("%s: attempt %d: %v", what, attempt, err)
		},
		Attempts:    c.Policy.Attempts,
		Delay:       c.Policy.Delay,
		MaxDelay:    c.Policy.MaxDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       c.Clock,
		Stop:        ctx.Done(),
	})
	if retry.IsRetryStopped(err) && ctx.Err() != nil {
		return errors.Trace(ctx.Err())
	}
	if retry.IsAttemptsExceeded(err) {
		err = errors.Annotatef(retry.LastError(err), "%s failed after %d attempts", what, c.Policy.Attempts)
	}
	return err
}

func (c Caller) attempt(ctx context.Context, what string, f func(context.Context) error) error {
	if c.Policy.CallTimeout == 0 {
		return f(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.Policy.CallTimeout)
	defer cancel()
	err := f(callCtx)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return failure.WithKind(
			errors.Annotatef(err, "%s exceeded %v", what, c.Policy.CallTimeout),
			failure.TransientProviderError,
		)
	}
	return err
}
