// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package azure

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/appservice/armappservice/v2"
)

// linuxFxVersion is the site setting naming the container a Linux web
// app runs.
func linuxFxVersion(image string) string {
	return "DOCKER|" + image
}

// SetContainerImage points the web app at image. The whole site
// configuration is written back, so the rest of it is kept.
func (p *Provider) SetContainerImage(ctx context.Context, resourceGroup, webApp, image string) error {
	current, err := p.webApps.GetConfiguration(ctx, resourceGroup, webApp, nil)
	if err != nil {
		return classify(err, "getting configuration of "+webApp)
	}
	cfg := current.SiteConfigResource
	if cfg.Properties == nil {
		cfg.Properties = &armappservice.SiteConfig{}
	}
	cfg.Properties.LinuxFxVersion = to.Ptr(linuxFxVersion(image))
	logger.Infof("setting %s container to %s", webApp, image)
	_, err = p.webApps.CreateOrUpdateConfiguration(ctx, resourceGroup, webApp, cfg, nil)
	return classify(err, "updating configuration of "+webApp)
}

// Restart restarts the web app.
func (p *Provider) Restart(ctx context.Context, resourceGroup, webApp string) error {
	_, err := p.webApps.Restart(ctx, resourceGroup, webApp, nil)
	return classify(err, "restarting "+webApp)
}
