// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package azure

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/costmanagement/armcostmanagement"
	"github.com/juju/errors"

	"github.com/webapp-demo/envctl/internal/cost"
)

const totalCostColumn = "totalCost"

// ActualCost returns the pre tax cost billed to a resource group
// between from and until.
func (p *Provider) ActualCost(ctx context.Context, resourceGroup string, from, until time.Time) (cost.Amount, error) {
	scope := fmt.Sprintf("/subscriptions/%s/resourceGroups/%s", p.subscriptionID, resourceGroup)
	resp, err := p.costs.Usage(ctx, scope, armcostmanagement.QueryDefinition{
		Type:      to.Ptr(armcostmanagement.ExportTypeActualCost),
		Timeframe: to.Ptr(armcostmanagement.TimeframeTypeCustom),
		TimePeriod: &armcostmanagement.QueryTimePeriod{
			From: to.Ptr(from.UTC()),
			To:   to.Ptr(until.UTC()),
		},
		Dataset: &armcostmanagement.QueryDataset{
			Aggregation: map[string]*armcostmanagement.QueryAggregation{
				totalCostColumn: {
					Name:     to.Ptr("PreTaxCost"),
					Function: to.Ptr(armcostmanagement.FunctionTypeSum),
				},
			},
		},
	}, nil)
	if err != nil {
		return cost.Amount{}, classify(err, "querying cost of "+resourceGroup)
	}
	return sumCost(resp.Properties)
}

// sumCost adds up the cost column of a query result.
func sumCost(props *armcostmanagement.QueryProperties) (cost.Amount, error) {
	amount := cost.Amount{Currency: "USD"}
	if props == nil {
		return amount, nil
	}
	costCol, currencyCol := -1, -1
	for i, col := range props.Columns {
		if col == nil {
			continue
		}
		switch name := toValue(col.Name); {
		case strings.EqualFold(name, totalCostColumn), strings.EqualFold(name, "PreTaxCost"), strings.EqualFold(name, "Cost"):
			costCol = i
		case strings.EqualFold(name, "Currency"):
			currencyCol = i
		}
	}
	if costCol < 0 {
		if len(props.Rows) == 0 {
			return amount, nil
		}
		return cost.Amount{}, errors.NotFoundf("cost column in query result")
	}
	for _, row := range props.Rows {
		if costCol >= len(row) {
			continue
		}
		switch v := row[costCol].(type) {
		case float64:
			amount.Value += v
		case int:
			amount.Value += float64(v)
		default:
			return cost.Amount{}, errors.NotValidf("cost value %v", row[costCol])
		}
		if currencyCol >= 0 && currencyCol < len(row) {
			if currency, ok := row[currencyCol].(string); ok && currency != "" {
				amount.Currency = currency
			}
		}
	}
	return amount, nil
}
