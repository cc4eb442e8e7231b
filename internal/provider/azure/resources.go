// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package azure

import (
	"context"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"github.com/juju/errors"

	"github.com/webapp-demo/envctl/core/inventory"
)

// ResourceGroup returns the named resource group, or a NotFound error.
func (p *Provider) ResourceGroup(ctx context.Context, name string) (inventory.Entry, error) {
	resp, err := p.groups.Get(ctx, name, nil)
	if err != nil {
		return inventory.Entry{}, classify(err, "getting resource group "+name)
	}
	return inventory.Entry{
		Type: inventory.TypeResourceGroup,
		Name: toValue(resp.Name),
		ID:   toValue(resp.ID),
	}, nil
}

// ListResources returns the resources held by a resource group.
func (p *Provider) ListResources(ctx context.Context, resourceGroup string) ([]inventory.Entry, error) {
	var entries []inventory.Entry
	pager := p.resources.NewListByResourceGroupPager(resourceGroup, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, classify(err, "listing resources of "+resourceGroup)
		}
		for _, res := range page.Value {
			if res == nil {
				continue
			}
			entries = append(entries, inventory.Entry{
				Type: toValue(res.Type),
				Name: toValue(res.Name),
				ID:   toValue(res.ID),
			})
		}
	}
	return entries, nil
}

// EnsureResourceGroup creates the resource group unless it exists.
func (p *Provider) EnsureResourceGroup(ctx context.Context, name, location string, tags map[string]string) error {
	exists, err := p.groups.CheckExistence(ctx, name, nil)
	if err != nil {
		return classify(err, "checking resource group "+name)
	}
	if exists.Success {
		return nil
	}
	logger.Infof("creating resource group %s in %s", name, location)
	_, err = p.groups.CreateOrUpdate(ctx, name, armresources.ResourceGroup{
		Location: to.Ptr(location),
		Tags:     toTagPtrs(tags),
	}, nil)
	return classify(err, "creating resource group "+name)
}

// DeleteResourceGroup deletes a resource group and everything in it,
// waiting for the deletion to finish.
func (p *Provider) DeleteResourceGroup(ctx context.Context, name string) error {
	logger.Infof("deleting resource group %s", name)
	poller, err := p.groups.BeginDelete(ctx, name, nil)
	if err == nil {
		_, err = poller.PollUntilDone(ctx, nil)
	}
	return classify(err, "deleting resource group "+name)
}

// DeleteResource deletes a single resource by id.
func (p *Provider) DeleteResource(ctx context.Context, id string) error {
	version, err := p.apiVersion(ctx, id)
	if err != nil {
		return errors.Trace(err)
	}
	logger.Infof("deleting %s", id)
	poller, err := p.resources.BeginDeleteByID(ctx, id, version, nil)
	if err == nil {
		_, err = poller.PollUntilDone(ctx, nil)
	}
	return classify(err, "deleting "+id)
}

// apiVersion returns the newest stable API version of the resource
// type of id. Versions are looked up once per type.
func (p *Provider) apiVersion(ctx context.Context, id string) (string, error) {
	rid, err := arm.ParseResourceID(id)
	if err != nil {
		return "", errors.NewNotValid(err, "resource id "+id)
	}
	namespace := rid.ResourceType.Namespace
	resourceType := strings.Join(rid.ResourceType.Types, "/")
	key := strings.ToLower(namespace + "/" + resourceType)

	p.mu.Lock()
	version, ok := p.apiVersions[key]
	p.mu.Unlock()
	if ok {
		return version, nil
	}

	resp, err := p.providers.Get(ctx, namespace, nil)
	if err != nil {
		return "", classify(err, "getting resource provider "+namespace)
	}
	for _, rt := range resp.ResourceTypes {
		if rt == nil || !strings.EqualFold(toValue(rt.ResourceType), resourceType) {
			continue
		}
		version = newestStable(rt.APIVersions)
		break
	}
	if version == "" {
		return "", errors.NotFoundf("api version of %s", key)
	}
	p.mu.Lock()
	p.apiVersions[key] = version
	p.mu.Unlock()
	return version, nil
}

// newestStable picks the newest version without a preview suffix,
// falling back to the newest of all.
func newestStable(versions []*string) string {
	var newest, newestStable string
	for _, v := range versions {
		version := toValue(v)
		if version > newest {
			newest = version
		}
		if !strings.Contains(version, "-preview") && version > newestStable {
			newestStable = version
		}
	}
	if newestStable != "" {
		return newestStable
	}
	return newest
}
