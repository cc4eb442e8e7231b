// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package azure talks to the Azure Resource Manager on behalf of the
// lifecycle components: resource listing and deletion, the terraform
// state account, web app updates, key vault purges and billing.
package azure

import (
	"context"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/appservice/armappservice/v2"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/costmanagement/armcostmanagement"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/keyvault/armkeyvault"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armsubscriptions"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/storage/armstorage"
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/webapp-demo/envctl/core/failure"
)

// Logger for the Azure provider.
var logger = loggo.GetLogger("envctl.provider.azure")

// clientVersion is reported in the telemetry of clients envctl builds
// itself rather than taking from an SDK module.
const clientVersion = "v1.0.0"

// Config holds what is needed to reach a subscription.
type Config struct {
	SubscriptionID string
	Credential     azcore.TokenCredential

	// ClientOptions are passed to every client. Tests use them to
	// replace the transport.
	ClientOptions *arm.ClientOptions
}

// Validate returns an error if config cannot be used.
func (config Config) Validate() error {
	if config.SubscriptionID == "" {
		return errors.NotValidf("empty SubscriptionID")
	}
	if config.Credential == nil {
		return errors.NotValidf("nil Credential")
	}
	return nil
}

// Provider implements the cloud facing interfaces of discovery,
// backend, appdeploy, cleanup and cost.
type Provider struct {
	subscriptionID string

	groups       *armresources.ResourceGroupsClient
	resources    *armresources.Client
	providers    *armresources.ProvidersClient
	accounts     *armstorage.AccountsClient
	blobServices *armstorage.BlobServicesClient
	containers   *armstorage.BlobContainersClient
	webApps      *armappservice.WebAppsClient
	vaults       *armkeyvault.VaultsClient
	costs        *armcostmanagement.QueryClient
	usage        *arm.Client

	mu          sync.Mutex
	apiVersions map[string]string
}

// New returns a Provider for the configured subscription.
func New(config Config) (*Provider, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	sub, cred, opts := config.SubscriptionID, config.Credential, config.ClientOptions
	p := &Provider{
		subscriptionID: sub,
		apiVersions:    make(map[string]string),
	}
	var err error
	if p.groups, err = armresources.NewResourceGroupsClient(sub, cred, opts); err != nil {
		return nil, errors.Trace(err)
	}
	if p.resources, err = armresources.NewClient(sub, cred, opts); err != nil {
		return nil, errors.Trace(err)
	}
	if p.providers, err = armresources.NewProvidersClient(sub, cred, opts); err != nil {
		return nil, errors.Trace(err)
	}
	storage, err := armstorage.NewClientFactory(sub, cred, opts)
	if err != nil {
		return nil, errors.Trace(err)
	}
	p.accounts = storage.NewAccountsClient()
	p.blobServices = storage.NewBlobServicesClient()
	p.containers = storage.NewBlobContainersClient()
	if p.webApps, err = armappservice.NewWebAppsClient(sub, cred, opts); err != nil {
		return nil, errors.Trace(err)
	}
	if p.vaults, err = armkeyvault.NewVaultsClient(sub, cred, opts); err != nil {
		return nil, errors.Trace(err)
	}
	if p.costs, err = armcostmanagement.NewQueryClient(cred, opts); err != nil {
		return nil, errors.Trace(err)
	}
	if p.usage, err = arm.NewClient("envctl/consumption", clientVersion, cred, opts); err != nil {
		return nil, errors.Trace(err)
	}
	return p, nil
}

// SubscriptionID returns the subscription the provider works in.
func (p *Provider) SubscriptionID() string {
	return p.subscriptionID
}

// NewCredential returns the default credential chain: environment,
// workload identity, managed identity, then the az CLI login.
func NewCredential() (azcore.TokenCredential, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, failure.WithKind(errors.Annotate(err, "creating azure credential"), failure.AuthError)
	}
	return cred, nil
}

// DefaultSubscription returns the only enabled subscription the
// credential can see.
func DefaultSubscription(ctx context.Context, cred azcore.TokenCredential, opts *arm.ClientOptions) (string, error) {
	client, err := armsubscriptions.NewClient(cred, opts)
	if err != nil {
		return "", errors.Trace(err)
	}
	var enabled []string
	pager := client.NewListPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return "", classify(err, "listing subscriptions")
		}
		for _, sub := range page.Value {
			if sub == nil || toValue(sub.State) != armsubscriptions.SubscriptionStateEnabled {
				continue
			}
			enabled = append(enabled, toValue(sub.SubscriptionID))
		}
	}
	switch len(enabled) {
	case 0:
		return "", failure.WithKind(errors.New("no enabled azure subscription for this login"), failure.AuthError)
	case 1:
		logger.Debugf("using subscription %s", enabled[0])
		return enabled[0], nil
	}
	return "", errors.NotValidf("%d enabled subscriptions without subscription-id", len(enabled))
}
