// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package lock serializes operations on an environment, both between
// goroutines and between envctl processes on the same machine.
package lock

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/mutex/v2"

	"github.com/webapp-demo/envctl/core/environment"
)

// ErrLocked is returned when the lock is held elsewhere and the caller
// asked not to wait.
const ErrLocked = errors.ConstError("environment is locked by another operation")

const (
	acquireDelay = 50 * time.Millisecond
	tryTimeout   = 250 * time.Millisecond
	maxNameLen   = 40
)

var invalidChars = regexp.MustCompile(`[^a-z0-9.-]`)

// Releaser releases a held lock.
type Releaser interface {
	Release()
}

// Registry hands out the named lock of each environment of a project.
type Registry struct {
	prefix string
	clock  clock.Clock
}

// NewRegistry returns a Registry whose lock names start with prefix.
func NewRegistry(prefix string, clk clock.Clock) *Registry {
	return &Registry{prefix: prefix, clock: clk}
}

// Name returns the machine wide mutex name for env.
func (r *Registry) Name(env environment.Name) string {
	name := invalidChars.ReplaceAllString(strings.ToLower(fmt.Sprintf("envctl-%s-%s", r.prefix, env)), "-")
	if len(name) > maxNameLen {
		// Keep the environment suffix so that names stay distinct.
		suffix := "-" + string(env)
		name = name[:maxNameLen-len(suffix)] + suffix
	}
	return name
}

// TryAcquire takes the lock of env, returning ErrLocked if it is held
// elsewhere.
func (r *Registry) TryAcquire(ctx context.Context, env environment.Name) (Releaser, error) {
	releaser, err := r.acquire(ctx, env, tryTimeout)
	if errors.Is(err, mutex.ErrTimeout) {
		return nil, errors.Annotatef(ErrLocked, "%s", env)
	}
	return releaser, errors.Trace(err)
}

// Acquire waits until the lock of env is free or ctx is done.
func (r *Registry) Acquire(ctx context.Context, env environment.Name) (Releaser, error) {
	releaser, err := r.acquire(ctx, env, 0)
	return releaser, errors.Trace(err)
}

func (r *Registry) acquire(ctx context.Context, env environment.Name, timeout time.Duration) (Releaser, error) {
	releaser, err := mutex.Acquire(mutex.Spec{
		Name:    r.Name(env),
		Clock:   r.clock,
		Delay:   acquireDelay,
		Timeout: timeout,
		Cancel:  ctx.Done(),
	})
	if errors.Is(err, mutex.ErrCancelled) {
		return nil, errors.Annotatef(ctx.Err(), "waiting for %s lock", env)
	} else if err != nil {
		return nil, err
	}
	return releaser, nil
}
