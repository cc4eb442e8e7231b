// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package azure

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/juju/errors"

	"github.com/webapp-demo/envctl/internal/cost"
)

const consumptionAPIVersion = "2023-05-01"

type usageDetailsPage struct {
	Value    []usageDetail `json:"value"`
	NextLink string        `json:"nextLink"`
}

type usageDetail struct {
	Properties struct {
		// Modern usage records carry the billing currency cost,
		// legacy ones the pre tax cost.
		CostInBillingCurrency *float64 `json:"costInBillingCurrency"`
		PretaxCost            *float64 `json:"pretaxCost"`
		Cost                  *float64 `json:"cost"`
		BillingCurrency       string   `json:"billingCurrency"`
		BillingCurrencyCode   string   `json:"billingCurrencyCode"`
	} `json:"properties"`
}

func (d usageDetail) amount() (float64, string) {
	props := d.Properties
	currency := props.BillingCurrency
	if currency == "" {
		currency = props.BillingCurrencyCode
	}
	for _, v := range []*float64{props.CostInBillingCurrency, props.PretaxCost, props.Cost} {
		if v != nil {
			return *v, currency
		}
	}
	return 0, currency
}

// UsageCost returns the cost of the consumption usage records of a
// resource group between from and until. Usage records are published
// before cost management has aggregated them.
func (p *Provider) UsageCost(ctx context.Context, resourceGroup string, from, until time.Time) (cost.Amount, error) {
	what := "listing usage of " + resourceGroup
	query := url.Values{}
	query.Set("api-version", consumptionAPIVersion)
	query.Set("$filter", fmt.Sprintf("properties/usageStart ge '%s' and properties/usageEnd le '%s'",
		from.UTC().Format("2006-01-02"), until.UTC().Format("2006-01-02")))
	next := runtime.JoinPaths(p.usage.Endpoint(),
		"subscriptions", url.PathEscape(p.subscriptionID),
		"resourceGroups", url.PathEscape(resourceGroup),
		"providers/Microsoft.Consumption/usageDetails") + "?" + query.Encode()

	amount := cost.Amount{Currency: "USD"}
	for next != "" {
		req, err := runtime.NewRequest(ctx, http.MethodGet, next)
		if err != nil {
			return cost.Amount{}, errors.Annotate(err, what)
		}
		req.Raw().Header.Set("Accept", "application/json")
		resp, err := p.usage.Pipeline().Do(req)
		if err != nil {
			return cost.Amount{}, classify(err, what)
		}
		if !runtime.HasStatusCode(resp, http.StatusOK) {
			return cost.Amount{}, classify(runtime.NewResponseError(resp), what)
		}
		var page usageDetailsPage
		if err := runtime.UnmarshalAsJSON(resp, &page); err != nil {
			return cost.Amount{}, errors.Annotate(err, what)
		}
		for _, detail := range page.Value {
			value, currency := detail.amount()
			amount.Value += value
			if currency != "" {
				amount.Currency = currency
			}
		}
		next = page.NextLink
	}
	return amount, nil
}
