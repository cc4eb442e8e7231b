// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package cleanup tears an environment down completely: terraform
// destroy first, then a direct sweep of whatever terraform missed.
package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/webapp-demo/envctl/core/environment"
	"github.com/webapp-demo/envctl/core/failure"
	"github.com/webapp-demo/envctl/core/inventory"
	"github.com/webapp-demo/envctl/internal/backoff"
)

var logger = loggo.GetLogger("envctl.cleanup")

// DefaultDeleteTimeout bounds the deletion of a resource group.
const DefaultDeleteTimeout = 10 * time.Minute

// Destroyer removes everything terraform manages for an environment.
type Destroyer interface {
	Destroy(ctx context.Context, env environment.Environment) error
}

// Sweeper deletes resources directly through the provider. Deleting
// something that does not exist returns a NotFound error.
type Sweeper interface {
	DeleteResourceGroup(ctx context.Context, name string) error
	DeleteResource(ctx context.Context, id string) error

	// PurgeDeletedVaults purges soft-deleted key vaults owned by env
	// and returns their names.
	PurgeDeletedVaults(ctx context.Context, env environment.Environment) ([]string, error)
}

// InventoryReader lists what the provider holds for an environment.
type InventoryReader interface {
	DiscoverLive(ctx context.Context, env environment.Environment) (inventory.Inventory, error)
}

// DestroyResult reports the outcome of a teardown.
type DestroyResult struct {
	DeletedCount int               `yaml:"deleted" json:"deleted"`
	Remaining    []inventory.Entry `yaml:"remaining" json:"remaining"`
	Errors       []string          `yaml:"errors,omitempty" json:"errors,omitempty"`
	PurgedVaults []string          `yaml:"purged-vaults,omitempty" json:"purged-vaults,omitempty"`
}

// Complete reports whether nothing is left behind.
func (r DestroyResult) Complete() bool {
	return len(r.Remaining) == 0
}

func (r *DestroyResult) addError(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	logger.Warningf("%s", msg)
	r.Errors = append(r.Errors, msg)
}

// Config holds the dependencies of an Executor.
type Config struct {
	Destroyer     Destroyer
	Sweeper       Sweeper
	Inventory     InventoryReader
	Caller        backoff.Caller
	DeleteTimeout time.Duration
}

// Validate returns an error if config cannot drive an Executor.
func (config Config) Validate() error {
	if config.Destroyer == nil {
		return errors.NotValidf("nil Destroyer")
	}
	if config.Sweeper == nil {
		return errors.NotValidf("nil Sweeper")
	}
	if config.Inventory == nil {
		return errors.NotValidf("nil Inventory")
	}
	if config.Caller.Clock == nil {
		return errors.NotValidf("nil Caller.Clock")
	}
	if config.DeleteTimeout < 0 {
		return errors.NotValidf("negative DeleteTimeout")
	}
	return nil
}

// Executor is the CleanupExecutor.
type Executor struct {
	config Config
}

// NewExecutor returns an Executor.
func NewExecutor(config Config) (*Executor, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if config.DeleteTimeout == 0 {
		config.DeleteTimeout = DefaultDeleteTimeout
	}
	return &Executor{config: config}, nil
}

// Destroy removes every resource of env. before is the inventory taken
// prior to the teardown and is what DeletedCount is measured against.
// Resources that are already gone count as deleted. The returned error
// is only set when the outcome could not be verified or the credentials
// were rejected; partial teardowns are reported through Remaining.
func (e *Executor) Destroy(ctx context.Context, env environment.Environment, before inventory.Inventory) (DestroyResult, error) {
	var result DestroyResult

	logger.Infof("destroying %s: %d resources", env.Name, before.Len())
	if err := e.config.Destroyer.Destroy(ctx, env); err != nil {
		if errors.Is(err, failure.AuthError) || ctx.Err() != nil {
			return result, errors.Trace(err)
		}
		result.addError("terraform destroy: %v", err)
	}

	after, err := e.live(ctx, env)
	if err != nil {
		return result, errors.Trace(err)
	}
	if !after.IsEmpty() {
		logger.Infof("%d resources of %s left after terraform, sweeping", after.Len(), env.Name)
		if err := e.sweep(ctx, env, after, &result); err != nil {
			return result, errors.Trace(err)
		}
	}

	purged, err := e.config.Sweeper.PurgeDeletedVaults(ctx, env)
	if err != nil {
		result.addError("purging deleted key vaults: %v", err)
	}
	result.PurgedVaults = purged

	final, err := e.live(ctx, env)
	if err != nil {
		return result, errors.Annotate(err, "verifying cleanup")
	}
	result.Remaining = final.Sorted()
	result.DeletedCount = len(before.Missing(final))
	if len(result.Remaining) == 0 {
		logger.Infof("%s destroyed: %d resources deleted", env.Name, result.DeletedCount)
	} else {
		logger.Warningf("%s partially destroyed: %d resources remain", env.Name, len(result.Remaining))
	}
	return result, nil
}

// sweep deletes the resource group, falling back to deleting the
// leftover resources one by one.
func (e *Executor) sweep(ctx context.Context, env environment.Environment, left inventory.Inventory, result *DestroyResult) error {
	err := e.config.Caller.Call(ctx, "delete resource group", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, e.config.DeleteTimeout)
		defer cancel()
		return e.config.Sweeper.DeleteResourceGroup(ctx, env.ResourceGroup)
	})
	if err == nil || errors.Is(err, errors.NotFound) {
		return nil
	}
	if errors.Is(err, failure.AuthError) || ctx.Err() != nil {
		return errors.Trace(err)
	}
	result.addError("deleting resource group %q: %v", env.ResourceGroup, err)

	for _, entry := range left.Sorted() {
		if entry.Type == inventory.TypeResourceGroup || entry.ID == "" {
			continue
		}
		err := e.config.Caller.Call(ctx, "delete resource", func(ctx context.Context) error {
			return e.config.Sweeper.DeleteResource(ctx, entry.ID)
		})
		if err == nil || errors.Is(err, errors.NotFound) {
			continue
		}
		if ctx.Err() != nil {
			return errors.Trace(ctx.Err())
		}
		result.addError("deleting %s %q: %v", entry.Type, entry.Name, err)
	}
	return nil
}

func (e *Executor) live(ctx context.Context, env environment.Environment) (inventory.Inventory, error) {
	var inv inventory.Inventory
	err := e.config.Caller.Call(ctx, "list resources", func(ctx context.Context) error {
		var err error
		inv, err = e.config.Inventory.DiscoverLive(ctx, env)
		return err
	})
	return inv, errors.Trace(err)
}
