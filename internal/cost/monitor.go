// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cost

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/webapp-demo/envctl/core/environment"
	"github.com/webapp-demo/envctl/core/inventory"
)

var logger = loggo.GetLogger("envctl.cost")

// Amount is a sum of money.
type Amount struct {
	Value    float64
	Currency string
}

// BillingAPI returns billed cost for the resources of a resource group.
type BillingAPI interface {
	// ActualCost returns the cost aggregated by cost management.
	ActualCost(ctx context.Context, resourceGroup string, from, to time.Time) (Amount, error)

	// UsageCost returns the cost of the raw consumption usage
	// records, which appear before cost management aggregates them.
	UsageCost(ctx context.Context, resourceGroup string, from, to time.Time) (Amount, error)
}

// InventoryReader lists the live resources of an environment.
type InventoryReader interface {
	Discover(ctx context.Context, env environment.Environment) (inventory.Inventory, error)
}

// MonitorConfig holds the dependencies of a Monitor.
type MonitorConfig struct {
	Project   string
	Billing   BillingAPI
	Inventory InventoryReader
	Clock     clock.Clock
}

// Validate returns an error if config cannot drive a Monitor.
func (config MonitorConfig) Validate() error {
	if config.Project == "" {
		return errors.NotValidf("empty Project")
	}
	if config.Billing == nil {
		return errors.NotValidf("nil Billing")
	}
	if config.Inventory == nil {
		return errors.NotValidf("nil Inventory")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	return nil
}

// Monitor estimates and measures what environments cost.
type Monitor struct {
	config MonitorConfig
}

// NewMonitor returns a Monitor backed by config.
func NewMonitor(config MonitorConfig) (*Monitor, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Monitor{config: config}, nil
}

// Estimate returns the cost of running env for the given number of
// hours, from the static pricing table. It makes no network calls.
func Estimate(project string, env environment.Environment, hours float64, now time.Time) Snapshot {
	multiplier := RegionalMultiplier(env.Location)
	snap := Snapshot{
		Project:     project,
		Environment: env.Name,
		ObservedAt:  now,
		Currency:    "USD",
		Status:      OK,
		Source:      Estimated,
		Period:      fmt.Sprintf("%s of runtime", formatHours(hours)),
	}
	for _, item := range Items(env.Name) {
		amount := item.Hourly * hours * multiplier
		snap.Amount += amount
		snap.Breakdown = append(snap.Breakdown, Line{
			Name:   item.Resource,
			Type:   item.SKU,
			Amount: amount,
		})
	}
	return snap
}

// Estimate returns the cost of running env for the given number of hours.
func (m *Monitor) Estimate(env environment.Environment, hours float64) Snapshot {
	return Estimate(m.config.Project, env, hours, m.config.Clock.Now())
}

// Actual returns the month to date cost of env. When cost management
// has nothing yet (it lags by a day or two) the consumption usage
// records are summed instead. Without either the cost is derived from
// the live inventory, and failing that from a per environment default.
// An error is only returned if ctx is done.
func (m *Monitor) Actual(ctx context.Context, env environment.Environment) (Snapshot, error) {
	now := m.config.Clock.Now().UTC()
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		Project:     m.config.Project,
		Environment: env.Name,
		ObservedAt:  now,
		Currency:    "USD",
		Status:      OK,
		Period:      fmt.Sprintf("%s to %s", from.Format("2006-01-02"), now.Format("2006-01-02")),
	}

	billed, err := m.config.Billing.ActualCost(ctx, env.ResourceGroup, from, now)
	if err == nil && billed.Value > 0 {
		snap.Amount = billed.Value
		if billed.Currency != "" {
			snap.Currency = billed.Currency
		}
		snap.Source = Actual
		snap.Breakdown = []Line{{Name: env.ResourceGroup, Type: inventory.TypeResourceGroup, Amount: billed.Value}}
		return snap, nil
	}
	if err := ctx.Err(); err != nil {
		return Snapshot{}, errors.Trace(err)
	}
	if err != nil {
		logger.Warningf("billing data unavailable for %s: %v", env.Name, err)
	}

	used, err := m.config.Billing.UsageCost(ctx, env.ResourceGroup, from, now)
	if err == nil && used.Value > 0 {
		snap.Amount = used.Value
		if used.Currency != "" {
			snap.Currency = used.Currency
		}
		snap.Source = Usage
		snap.Breakdown = []Line{{Name: env.ResourceGroup, Type: inventory.TypeResourceGroup, Amount: used.Value}}
		return snap, nil
	}
	if err := ctx.Err(); err != nil {
		return Snapshot{}, errors.Trace(err)
	}
	if err != nil {
		logger.Warningf("usage data unavailable for %s: %v", env.Name, err)
	}

	snap.Source = Heuristic
	snap.Period = "monthly estimate"
	inv, err := m.config.Inventory.Discover(ctx, env)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Snapshot{}, errors.Trace(ctxErr)
		}
		logger.Warningf("inventory unavailable for %s, using default estimate: %v", env.Name, err)
		snap.Amount = fallbackMonthly[env.Name]
		return snap, nil
	}
	for _, e := range inv.Sorted() {
		amount := MonthlyEstimate(e.Type)
		snap.Amount += amount
		snap.Breakdown = append(snap.Breakdown, Line{Name: e.Name, Type: e.Type, Amount: amount})
	}
	return snap, nil
}

func formatHours(hours float64) string {
	if hours == float64(int64(hours)) {
		return fmt.Sprintf("%dh", int64(hours))
	}
	return fmt.Sprintf("%.1fh", hours)
}
