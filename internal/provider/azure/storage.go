// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package azure

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/storage/armstorage"
	"github.com/juju/errors"

	"github.com/webapp-demo/envctl/internal/backend"
)

const storageAccountType = "Microsoft.Storage/storageAccounts"

// StorageAccount returns the named account, or a NotFound error.
func (p *Provider) StorageAccount(ctx context.Context, resourceGroup, name string) (backend.Account, error) {
	resp, err := p.accounts.GetProperties(ctx, resourceGroup, name, nil)
	if err != nil {
		return backend.Account{}, classify(err, "getting storage account "+name)
	}
	return backend.Account{
		ID:   toValue(resp.ID),
		Name: toValue(resp.Name),
		Tags: toTags(resp.Tags),
	}, nil
}

// NameAvailable reports whether name is free across Azure.
func (p *Provider) NameAvailable(ctx context.Context, name string) (bool, string, error) {
	resp, err := p.accounts.CheckNameAvailability(ctx, armstorage.AccountCheckNameAvailabilityParameters{
		Name: to.Ptr(name),
		Type: to.Ptr(storageAccountType),
	}, nil)
	if err != nil {
		return false, "", classify(err, "checking storage account name "+name)
	}
	return toValue(resp.NameAvailable), toValue(resp.Message), nil
}

// CreateStorageAccount creates a hardened StorageV2 account and waits
// for it to be provisioned.
func (p *Provider) CreateStorageAccount(ctx context.Context, spec backend.AccountSpec) error {
	logger.Infof("creating storage account %s in %s", spec.Name, spec.ResourceGroup)
	poller, err := p.accounts.BeginCreate(ctx, spec.ResourceGroup, spec.Name, armstorage.AccountCreateParameters{
		Kind:     to.Ptr(armstorage.KindStorageV2),
		Location: to.Ptr(spec.Location),
		SKU: &armstorage.SKU{
			Name: to.Ptr(armstorage.SKUNameStandardLRS),
		},
		Tags: toTagPtrs(spec.Tags),
		Properties: &armstorage.AccountPropertiesCreateParameters{
			AllowBlobPublicAccess:  to.Ptr(false),
			EnableHTTPSTrafficOnly: to.Ptr(true),
			MinimumTLSVersion:      to.Ptr(armstorage.MinimumTLSVersionTLS12),
			Encryption: &armstorage.Encryption{
				KeySource: to.Ptr(armstorage.KeySourceMicrosoftStorage),
				Services: &armstorage.EncryptionServices{
					Blob: &armstorage.EncryptionService{Enabled: to.Ptr(true)},
				},
			},
		},
	}, nil)
	if err == nil {
		_, err = poller.PollUntilDone(ctx, nil)
	}
	return classify(err, "creating storage account "+spec.Name)
}

// EnableBlobProtection turns on versioning and soft delete of blobs
// and containers.
func (p *Provider) EnableBlobProtection(ctx context.Context, resourceGroup, account string, retentionDays int32) error {
	retention := &armstorage.DeleteRetentionPolicy{
		Enabled: to.Ptr(true),
		Days:    to.Ptr(retentionDays),
	}
	_, err := p.blobServices.SetServiceProperties(ctx, resourceGroup, account, armstorage.BlobServiceProperties{
		BlobServiceProperties: &armstorage.BlobServicePropertiesProperties{
			IsVersioningEnabled:            to.Ptr(true),
			DeleteRetentionPolicy:          retention,
			ContainerDeleteRetentionPolicy: retention,
		},
	}, nil)
	return classify(err, "protecting blobs of "+account)
}

// EnsureContainer creates a private blob container unless it exists.
func (p *Provider) EnsureContainer(ctx context.Context, resourceGroup, account, container string) error {
	_, err := p.containers.Get(ctx, resourceGroup, account, container, nil)
	if err == nil {
		return nil
	}
	if err = classify(err, "getting container "+container); !errors.Is(err, errors.NotFound) {
		return err
	}
	_, err = p.containers.Create(ctx, resourceGroup, account, container, armstorage.BlobContainer{
		ContainerProperties: &armstorage.ContainerProperties{
			PublicAccess: to.Ptr(armstorage.PublicAccessNone),
		},
	}, nil)
	return classify(err, "creating container "+container)
}
