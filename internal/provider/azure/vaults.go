// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package azure

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/keyvault/armkeyvault"
	"github.com/juju/errors"

	"github.com/webapp-demo/envctl/core/environment"
)

// PurgeDeletedVaults purges the soft deleted key vaults of env, so the
// next deploy can reuse their names. Vaults with purge protection are
// left alone.
func (p *Provider) PurgeDeletedVaults(ctx context.Context, env environment.Environment) ([]string, error) {
	var owned []*armkeyvault.DeletedVault
	pager := p.vaults.NewListDeletedPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, classify(err, "listing deleted vaults")
		}
		for _, vault := range page.Value {
			if ownedVault(env, vault) {
				owned = append(owned, vault)
			}
		}
	}

	var purged []string
	for _, vault := range owned {
		name := toValue(vault.Name)
		if toValue(vault.Properties.PurgeProtectionEnabled) {
			logger.Warningf("deleted vault %q has purge protection, leaving it", name)
			continue
		}
		logger.Infof("purging deleted vault %q", name)
		poller, err := p.vaults.BeginPurgeDeleted(ctx, name, toValue(vault.Properties.Location), nil)
		if err == nil {
			_, err = poller.PollUntilDone(ctx, nil)
		}
		if err = classify(err, "purging vault "+name); err != nil && !errors.Is(err, errors.NotFound) {
			return purged, err
		}
		purged = append(purged, name)
	}
	return purged, nil
}

// ownedVault reports whether a deleted vault belonged to env, by its
// tags or failing those by its name.
func ownedVault(env environment.Environment, vault *armkeyvault.DeletedVault) bool {
	if vault == nil || vault.Properties == nil {
		return false
	}
	tags := toTags(vault.Properties.Tags)
	if len(tags) > 0 {
		for k, v := range env.Tags() {
			if tags[k] != v {
				return false
			}
		}
		return true
	}
	return env.Owns(toValue(vault.Name))
}
