// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package discovery answers "what exists for this environment right
// now". It never mutates anything.
package discovery

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/webapp-demo/envctl/core/environment"
	"github.com/webapp-demo/envctl/core/failure"
	"github.com/webapp-demo/envctl/core/inventory"
	"github.com/webapp-demo/envctl/internal/backoff"
)

var logger = loggo.GetLogger("envctl.discovery")

// DefaultCallTimeout bounds every individual provider call.
const DefaultCallTimeout = 10 * time.Second

// DefaultPolicy retries transient provider failures of discovery calls.
var DefaultPolicy = backoff.Policy{
	Attempts:    4,
	Delay:       time.Second,
	MaxDelay:    8 * time.Second,
	CallTimeout: DefaultCallTimeout,
}

// StateReader reads the resources recorded in terraform state.
type StateReader interface {
	StateResources(ctx context.Context, env environment.Environment) ([]inventory.Entry, error)
}

// ResourceLister queries the cloud provider directly.
type ResourceLister interface {
	// ResourceGroup returns the named resource group, or a NotFound
	// error if it does not exist.
	ResourceGroup(ctx context.Context, name string) (inventory.Entry, error)

	// ListResources returns every resource in the named resource group.
	ListResources(ctx context.Context, resourceGroup string) ([]inventory.Entry, error)
}

// Config holds the dependencies of a Discoverer.
type Config struct {
	State    StateReader
	Provider ResourceLister
	Clock    clock.Clock
	// Caller retries provider calls. It defaults to DefaultPolicy on
	// Clock.
	Caller backoff.Caller
}

// Validate returns an error if config cannot drive a Discoverer.
func (config Config) Validate() error {
	if config.State == nil {
		return errors.NotValidf("nil State")
	}
	if config.Provider == nil {
		return errors.NotValidf("nil Provider")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.Caller.Clock != nil {
		if err := config.Caller.Policy.Validate(); err != nil {
			return errors.Annotate(err, "Caller")
		}
	}
	return nil
}

// Discoverer builds resource inventories.
type Discoverer struct {
	config Config
}

// NewDiscoverer returns a Discoverer backed by config.
func NewDiscoverer(config Config) (*Discoverer, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if config.Caller.Clock == nil {
		config.Caller = backoff.Caller{Clock: config.Clock, Policy: DefaultPolicy}
	}
	return &Discoverer{config: config}, nil
}

// Discover returns the inventory of env. Terraform state is consulted
// first; when it is unreadable, empty, or disagrees with the provider
// about the environment's resource group, the provider is listed
// instead. An environment without resources yields an empty inventory,
// not an error.
func (d *Discoverer) Discover(ctx context.Context, env environment.Environment) (inventory.Inventory, error) {
	var entries []inventory.Entry
	err := d.call(ctx, "reading terraform state", func(ctx context.Context) error {
		var err error
		entries, err = d.config.State.StateResources(ctx, env)
		return err
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return inventory.Inventory{}, errors.Trace(ctxErr)
		}
		logger.Debugf("terraform state of %s unavailable, listing provider: %v", env.Name, err)
		return d.DiscoverLive(ctx, env)
	}
	if len(entries) == 0 {
		return d.DiscoverLive(ctx, env)
	}

	_, err = d.resourceGroup(ctx, env)
	if errors.Is(err, errors.NotFound) {
		drift := failure.WithKind(errors.Errorf(
			"terraform state lists %d resources but resource group %q does not exist", len(entries), env.ResourceGroup,
		), failure.DriftError)
		logger.Warningf("%v; using provider view", drift)
		return d.DiscoverLive(ctx, env)
	} else if err != nil {
		// The state is the best answer available.
		logger.Warningf("cannot confirm resource group %q: %v", env.ResourceGroup, err)
	}
	return inventory.Inventory{
		Environment: env.Name,
		Source:      inventory.FromState,
		ObservedAt:  d.config.Clock.Now(),
		Entries:     entries,
	}, nil
}

// DiscoverLive returns the inventory of env as listed by the provider,
// ignoring terraform state.
func (d *Discoverer) DiscoverLive(ctx context.Context, env environment.Environment) (inventory.Inventory, error) {
	now := d.config.Clock.Now()
	group, err := d.resourceGroup(ctx, env)
	if errors.Is(err, errors.NotFound) {
		return inventory.Empty(env.Name, inventory.FromProvider, now), nil
	} else if err != nil {
		return inventory.Inventory{}, errors.Annotatef(err, "looking up resource group %q", env.ResourceGroup)
	}

	var resources []inventory.Entry
	err = d.call(ctx, "listing resources", func(ctx context.Context) error {
		var err error
		resources, err = d.config.Provider.ListResources(ctx, env.ResourceGroup)
		return err
	})
	if errors.Is(err, errors.NotFound) {
		// Deleted between the two calls.
		return inventory.Empty(env.Name, inventory.FromProvider, now), nil
	} else if err != nil {
		return inventory.Inventory{}, errors.Annotatef(err, "listing resources in %q", env.ResourceGroup)
	}

	return inventory.Inventory{
		Environment: env.Name,
		Source:      inventory.FromProvider,
		ObservedAt:  now,
		Entries:     append([]inventory.Entry{group}, resources...),
	}, nil
}

func (d *Discoverer) resourceGroup(ctx context.Context, env environment.Environment) (inventory.Entry, error) {
	var group inventory.Entry
	err := d.call(ctx, "resource group lookup", func(ctx context.Context) error {
		var err error
		group, err = d.config.Provider.ResourceGroup(ctx, env.ResourceGroup)
		return err
	})
	return group, err
}

// call makes a provider call, retrying transient failures.
func (d *Discoverer) call(ctx context.Context, what string, f func(context.Context) error) error {
	return d.config.Caller.Call(ctx, what, f)
}
