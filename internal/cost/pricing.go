// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cost

import (
	"strings"

	"github.com/webapp-demo/envctl/core/environment"
	"github.com/webapp-demo/envctl/core/inventory"
)

// HoursPerMonth is used to turn hourly prices into monthly ones.
const HoursPerMonth = 730

// Item is a priced component of an environment.
type Item struct {
	Resource string
	SKU      string
	// Hourly is the pay-as-you-go price in USD.
	Hourly float64
}

// pricing holds the static hourly prices used for estimates. They
// need no network access and are refreshed by hand.
var pricing = map[environment.Name][]Item{
	environment.Dev: {
		{Resource: "App Service Plan", SKU: "S1", Hourly: 0.05},
		{Resource: "SQL Database", SKU: "S0", Hourly: 0.0202},
		{Resource: "Container Registry", SKU: "Basic", Hourly: 0.0069},
		{Resource: "Key Vault", SKU: "Standard", Hourly: 0.0001},
	},
	environment.Staging: {
		{Resource: "App Service Plan", SKU: "S2", Hourly: 0.10},
		{Resource: "SQL Database", SKU: "S1", Hourly: 0.0403},
		{Resource: "Container Registry", SKU: "Standard", Hourly: 0.0278},
		{Resource: "Key Vault", SKU: "Standard", Hourly: 0.0001},
	},
	environment.Prod: {
		{Resource: "App Service Plan", SKU: "P1v3", Hourly: 0.20},
		{Resource: "SQL Database", SKU: "S2", Hourly: 0.1008},
		{Resource: "Container Registry", SKU: "Premium", Hourly: 0.0694},
		{Resource: "Key Vault", SKU: "Standard", Hourly: 0.0001},
	},
}

// regionalMultipliers adjust the eastus prices for other regions.
var regionalMultipliers = map[string]float64{
	"eastus":         1.0,
	"westus":         1.05,
	"westus2":        1.02,
	"centralus":      1.0,
	"southcentralus": 1.03,
}

// Items returns the priced components of env.
func Items(env environment.Name) []Item {
	return append([]Item(nil), pricing[env]...)
}

// RegionalMultiplier returns the price multiplier for location.
// Unknown regions are priced as eastus.
func RegionalMultiplier(location string) float64 {
	if m, ok := regionalMultipliers[strings.ToLower(location)]; ok {
		return m
	}
	return 1.0
}

// monthlyByType holds rough monthly prices per Azure resource type,
// used when no billing data is available.
var monthlyByType = map[string]float64{
	strings.ToLower(inventory.TypeSQLServer):     0,
	strings.ToLower(inventory.TypeDatabase):      5.0,
	strings.ToLower(inventory.TypeAppPlan):       13.0,
	strings.ToLower(inventory.TypeWebApp):        0,
	strings.ToLower(inventory.TypeRegistry):      5.0,
	strings.ToLower(inventory.TypeVault):         0.03,
	strings.ToLower(inventory.TypeInsights):      2.3,
	strings.ToLower(inventory.TypeWorkspace):     2.3,
	"microsoft.insights/actiongroups":            0,
	strings.ToLower(inventory.TypeResourceGroup): 0,
}

// unknownMonthly is charged for resource types without a price.
const unknownMonthly = 1.0

// MonthlyEstimate returns the heuristic monthly price of a resource type.
func MonthlyEstimate(resourceType string) float64 {
	if price, ok := monthlyByType[strings.ToLower(resourceType)]; ok {
		return price
	}
	return unknownMonthly
}

// fallbackMonthly is reported when neither billing data nor an
// inventory is available.
var fallbackMonthly = map[environment.Name]float64{
	environment.Dev:     25,
	environment.Staging: 50,
	environment.Prod:    100,
}
