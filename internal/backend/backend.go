// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package backend bootstraps the remote terraform state store shared by
// every environment of a project.
package backend

import (
	"context"
	"fmt"

	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/webapp-demo/envctl/core/environment"
	"github.com/webapp-demo/envctl/core/failure"
	"github.com/webapp-demo/envctl/internal/backoff"
)

var logger = loggo.GetLogger("envctl.backend")

const (
	// RetentionDays is how long deleted state blobs are kept.
	RetentionDays = 7

	// PurposeTag marks the state storage account.
	PurposeTag   = "purpose"
	purposeValue = "terraform-state"
)

// Account describes an existing storage account.
type Account struct {
	ID   string
	Name string
	Tags map[string]string
}

// AccountSpec describes a storage account to create. Accounts are
// always created HTTPS only with TLS 1.2, without public blob access,
// and encrypted at rest.
type AccountSpec struct {
	ResourceGroup string
	Name          string
	Location      string
	Tags          map[string]string
}

// StorageAPI is the part of the provider used to hold terraform state.
type StorageAPI interface {
	// EnsureResourceGroup creates the resource group if it does not
	// exist. An existing group is left as it is.
	EnsureResourceGroup(ctx context.Context, name, location string, tags map[string]string) error

	// StorageAccount returns the named account in resourceGroup, or a
	// NotFound error.
	StorageAccount(ctx context.Context, resourceGroup, name string) (Account, error)

	// NameAvailable reports whether a storage account name is free
	// globally, and the provider's reason when it is not.
	NameAvailable(ctx context.Context, name string) (bool, string, error)

	// CreateStorageAccount creates an account and waits for it.
	CreateStorageAccount(ctx context.Context, spec AccountSpec) error

	// EnableBlobProtection turns on blob versioning and delete
	// retention for retentionDays.
	EnableBlobProtection(ctx context.Context, resourceGroup, account string, retentionDays int32) error

	// EnsureContainer creates the blob container if needed.
	EnsureContainer(ctx context.Context, resourceGroup, account, container string) error
}

// Bootstrapper creates the state backend on demand.
type Bootstrapper struct {
	api    StorageAPI
	caller backoff.Caller
}

// NewBootstrapper returns a Bootstrapper calling api through caller.
func NewBootstrapper(api StorageAPI, caller backoff.Caller) (*Bootstrapper, error) {
	if api == nil {
		return nil, errors.NotValidf("nil StorageAPI")
	}
	if caller.Clock == nil {
		return nil, errors.NotValidf("nil Clock")
	}
	return &Bootstrapper{api: api, caller: caller}, nil
}

// EnsureBackend makes sure the state backend of env exists, creating
// whatever is missing, and returns its configuration. It is safe to call
// repeatedly. A storage account name held by somebody else is a
// QuotaOrNamingCollision.
func (b *Bootstrapper) EnsureBackend(ctx context.Context, env environment.Environment) (environment.BackendConfig, error) {
	cfg := env.Backend
	if err := cfg.Validate(); err != nil {
		return environment.BackendConfig{}, errors.Trace(err)
	}
	tags := map[string]string{
		environment.ManagedByTag: environment.ManagedByValue,
		environment.ProjectTag:   env.Project,
		PurposeTag:               purposeValue,
	}

	err := b.caller.Call(ctx, "ensure resource group", func(ctx context.Context) error {
		return b.api.EnsureResourceGroup(ctx, cfg.ResourceGroup, env.Location, tags)
	})
	if err != nil {
		return environment.BackendConfig{}, errors.Annotatef(err, "creating resource group %q", cfg.ResourceGroup)
	}

	if err := b.ensureAccount(ctx, env, cfg, tags); err != nil {
		return environment.BackendConfig{}, errors.Trace(err)
	}

	err = b.caller.Call(ctx, "enable blob protection", func(ctx context.Context) error {
		return b.api.EnableBlobProtection(ctx, cfg.ResourceGroup, cfg.StorageAccount, RetentionDays)
	})
	if err != nil {
		return environment.BackendConfig{}, errors.Annotatef(err, "protecting storage account %q", cfg.StorageAccount)
	}

	err = b.caller.Call(ctx, "ensure container", func(ctx context.Context) error {
		return b.api.EnsureContainer(ctx, cfg.ResourceGroup, cfg.StorageAccount, cfg.Container)
	})
	if err != nil {
		return environment.BackendConfig{}, errors.Annotatef(err, "creating container %q", cfg.Container)
	}
	logger.Debugf("state backend for %s ready: %s/%s/%s", env.Name, cfg.StorageAccount, cfg.Container, cfg.Key)
	return cfg, nil
}

func (b *Bootstrapper) ensureAccount(
	ctx context.Context, env environment.Environment, cfg environment.BackendConfig, tags map[string]string,
) error {
	var account Account
	err := b.caller.Call(ctx, "get storage account", func(ctx context.Context) error {
		var err error
		account, err = b.api.StorageAccount(ctx, cfg.ResourceGroup, cfg.StorageAccount)
		return err
	})
	if err == nil {
		if account.Tags[environment.ManagedByTag] != environment.ManagedByValue ||
			account.Tags[environment.ProjectTag] != env.Project {
			return failure.WithKind(errors.Errorf(
				"storage account %q exists but is not managed by %s for project %q",
				cfg.StorageAccount, environment.ManagedByValue, env.Project,
			), failure.QuotaOrNamingCollision)
		}
		return nil
	}
	if !errors.Is(err, errors.NotFound) {
		return errors.Annotatef(err, "looking up storage account %q", cfg.StorageAccount)
	}

	var (
		available bool
		reason    string
	)
	err = b.caller.Call(ctx, "check storage account name", func(ctx context.Context) error {
		var err error
		available, reason, err = b.api.NameAvailable(ctx, cfg.StorageAccount)
		return err
	})
	if err != nil {
		return errors.Annotatef(err, "checking storage account name %q", cfg.StorageAccount)
	}
	if !available {
		msg := fmt.Sprintf("storage account name %q is not available", cfg.StorageAccount)
		if reason != "" {
			msg += ": " + reason
		}
		return failure.WithKind(errors.New(msg), failure.QuotaOrNamingCollision)
	}

	logger.Infof("creating state storage account %q in %s", cfg.StorageAccount, env.Location)
	err = b.caller.Call(ctx, "create storage account", func(ctx context.Context) error {
		return b.api.CreateStorageAccount(ctx, AccountSpec{
			ResourceGroup: cfg.ResourceGroup,
			Name:          cfg.StorageAccount,
			Location:      env.Location,
			Tags:          tags,
		})
	})
	return errors.Annotatef(err, "creating storage account %q", cfg.StorageAccount)
}
