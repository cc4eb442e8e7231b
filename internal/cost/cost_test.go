// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cost_test

import (
	"bytes"
	"context"
	"path/filepath"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"go.uber.org/mock/gomock"
	gc "gopkg.in/check.v1"

	"github.com/webapp-demo/envctl/core/environment"
	"github.com/webapp-demo/envctl/core/inventory"
	"github.com/webapp-demo/envctl/internal/cost"
)

type costSuite struct {
	testing.IsolationSuite

	clock     *testclock.Clock
	billing   *MockBillingAPI
	inventory *MockInventoryReader
	env       environment.Environment
}

var _ = gc.Suite(&costSuite{})

func (s *costSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.clock = testclock.NewClock(time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC))
	env, err := environment.New("webapp-demo", environment.Dev, "eastus", "sub")
	c.Assert(err, jc.ErrorIsNil)
	s.env = env
}

func (s *costSuite) setupMocks(c *gc.C) *gomock.Controller {
	ctrl := gomock.NewController(c)
	s.billing = NewMockBillingAPI(ctrl)
	s.inventory = NewMockInventoryReader(ctrl)
	return ctrl
}

func (s *costSuite) newMonitor(c *gc.C) *cost.Monitor {
	m, err := cost.NewMonitor(cost.MonitorConfig{
		Project:   "webapp-demo",
		Billing:   s.billing,
		Inventory: s.inventory,
		Clock:     s.clock,
	})
	c.Assert(err, jc.ErrorIsNil)
	return m
}

func (s *costSuite) TestEstimateTwoHoursDev(c *gc.C) {
	snap := cost.Estimate("webapp-demo", s.env, 2, s.clock.Now())
	c.Check(snap.Amount > 0.14 && snap.Amount < 0.16, jc.IsTrue, gc.Commentf("got %v", snap.Amount))
	c.Check(snap.Source, gc.Equals, cost.Estimated)
	c.Check(snap.Currency, gc.Equals, "USD")
	c.Check(snap.Breakdown, gc.HasLen, 4)
	c.Check(snap.Period, gc.Equals, "2h of runtime")
}

func (s *costSuite) TestEstimateRegionalMultiplier(c *gc.C) {
	west := s.env
	west.Location = "westus"
	base := cost.Estimate("webapp-demo", s.env, 10, s.clock.Now())
	priced := cost.Estimate("webapp-demo", west, 10, s.clock.Now())
	c.Check(priced.Amount, jc.GreaterThan, base.Amount)
	c.Check(cost.RegionalMultiplier("nowhere"), gc.Equals, 1.0)
}

func (s *costSuite) TestEstimateScalesWithEnvironment(c *gc.C) {
	prod := s.env
	prod.Name = environment.Prod
	c.Check(cost.Estimate("p", prod, 1, s.clock.Now()).Amount, jc.GreaterThan, cost.Estimate("p", s.env, 1, s.clock.Now()).Amount)
}

func (s *costSuite) TestClassify(c *gc.C) {
	c.Check(cost.Classify(10, 0), gc.Equals, cost.OK)
	c.Check(cost.Classify(79.9, 100), gc.Equals, cost.OK)
	c.Check(cost.Classify(80, 100), gc.Equals, cost.Warning)
	c.Check(cost.Classify(99.99, 100), gc.Equals, cost.Warning)
	c.Check(cost.Classify(100, 100), gc.Equals, cost.Critical)
	c.Check(cost.Classify(250, 100), gc.Equals, cost.Critical)
}

func (s *costSuite) TestWithBudget(c *gc.C) {
	snap := cost.Snapshot{Amount: 45}
	classified := snap.WithBudget(50)
	c.Check(classified.Status, gc.Equals, cost.Warning)
	c.Check(classified.Percent(), gc.Equals, 90.0)
	c.Check(snap.Budget, gc.Equals, 0.0)
}

func (s *costSuite) TestActualFromBilling(c *gc.C) {
	defer s.setupMocks(c).Finish()

	from := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	s.billing.EXPECT().ActualCost(gomock.Any(), "webapp-demo-dev-rg", from, s.clock.Now()).
		Return(cost.Amount{Value: 12.5, Currency: "USD"}, nil)

	snap, err := s.newMonitor(c).Actual(context.Background(), s.env)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(snap.Amount, gc.Equals, 12.5)
	c.Check(snap.Source, gc.Equals, cost.Actual)
	c.Check(snap.Period, gc.Equals, "2026-10-01 to 2026-10-15")
}

func (s *costSuite) TestActualFallsBackToUsage(c *gc.C) {
	defer s.setupMocks(c).Finish()

	from := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	s.billing.EXPECT().ActualCost(gomock.Any(), "webapp-demo-dev-rg", from, s.clock.Now()).Return(cost.Amount{}, nil)
	s.billing.EXPECT().UsageCost(gomock.Any(), "webapp-demo-dev-rg", from, s.clock.Now()).
		Return(cost.Amount{Value: 3.2, Currency: "EUR"}, nil)

	snap, err := s.newMonitor(c).Actual(context.Background(), s.env)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(snap.Amount, gc.Equals, 3.2)
	c.Check(snap.Currency, gc.Equals, "EUR")
	c.Check(snap.Source, gc.Equals, cost.Usage)
	c.Check(snap.Period, gc.Equals, "2026-10-01 to 2026-10-15")
}

func (s *costSuite) TestActualFallsBackToInventory(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.billing.EXPECT().ActualCost(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(cost.Amount{}, errors.New("cost management unavailable"))
	s.billing.EXPECT().UsageCost(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(cost.Amount{}, errors.New("consumption unavailable"))
	s.inventory.EXPECT().Discover(gomock.Any(), s.env).Return(inventory.Inventory{
		Entries: []inventory.Entry{
			{Type: inventory.TypeDatabase, Name: "db"},
			{Type: inventory.TypeAppPlan, Name: "plan"},
			{Type: "Microsoft.Cache/redis", Name: "cache"},
		},
	}, nil)

	snap, err := s.newMonitor(c).Actual(context.Background(), s.env)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(snap.Source, gc.Equals, cost.Heuristic)
	c.Check(snap.Amount, gc.Equals, 19.0)
	c.Check(snap.Breakdown, gc.HasLen, 3)
}

func (s *costSuite) TestActualZeroBillingFallsBack(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.billing.EXPECT().ActualCost(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(cost.Amount{}, nil)
	s.billing.EXPECT().UsageCost(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(cost.Amount{}, nil)
	s.inventory.EXPECT().Discover(gomock.Any(), s.env).Return(inventory.Empty(environment.Dev, inventory.FromProvider, s.clock.Now()), nil)

	snap, err := s.newMonitor(c).Actual(context.Background(), s.env)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(snap.Source, gc.Equals, cost.Heuristic)
	c.Check(snap.Amount, gc.Equals, 0.0)
}

func (s *costSuite) TestActualDefaultWhenNothingWorks(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.billing.EXPECT().ActualCost(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(cost.Amount{}, errors.New("boom"))
	s.billing.EXPECT().UsageCost(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(cost.Amount{}, errors.New("boom"))
	s.inventory.EXPECT().Discover(gomock.Any(), s.env).Return(inventory.Inventory{}, errors.New("boom"))

	snap, err := s.newMonitor(c).Actual(context.Background(), s.env)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(snap.Amount, gc.Equals, 25.0)
	c.Check(snap.Source, gc.Equals, cost.Heuristic)
}

func (s *costSuite) TestActualCancelled(c *gc.C) {
	defer s.setupMocks(c).Finish()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.billing.EXPECT().ActualCost(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(cost.Amount{}, context.Canceled)

	_, err := s.newMonitor(c).Actual(ctx, s.env)
	c.Check(errors.Is(err, context.Canceled), jc.IsTrue)
}

func (s *costSuite) TestNewMonitorValidates(c *gc.C) {
	_, err := cost.NewMonitor(cost.MonitorConfig{Project: "p"})
	c.Check(err, gc.ErrorMatches, "nil Billing not valid")
}

func (s *costSuite) TestAppendReport(c *gc.C) {
	path := filepath.Join(c.MkDir(), "costs.json")
	first := cost.Estimate("webapp-demo", s.env, 2, s.clock.Now()).WithBudget(1)
	c.Assert(cost.AppendReport(path, first), jc.ErrorIsNil)
	second := cost.Snapshot{
		Project: "webapp-demo", Environment: environment.Prod, ObservedAt: s.clock.Now(),
		Amount: 120.456, Currency: "USD", Source: cost.Actual,
	}.WithBudget(100)
	c.Assert(cost.AppendReport(path, second), jc.ErrorIsNil)

	entries, err := cost.ReadReport(path)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(entries, gc.HasLen, 2)
	c.Check(entries[0].Environment, gc.Equals, "dev")
	c.Check(entries[0].Status, gc.Equals, cost.OK)
	c.Check(entries[1], jc.DeepEquals, cost.ReportEntry{
		Timestamp:   s.clock.Now(),
		Project:     "webapp-demo",
		Environment: "prod",
		Amount:      120.46,
		Budget:      100,
		Status:      cost.Critical,
		Currency:    "USD",
		Source:      cost.Actual,
	})
}

func (s *costSuite) TestReadReportMissing(c *gc.C) {
	_, err := cost.ReadReport(filepath.Join(c.MkDir(), "missing.json"))
	c.Check(err, jc.Satisfies, errors.IsNotFound)
}

func (s *costSuite) TestFormatReport(c *gc.C) {
	var buf bytes.Buffer
	snap := cost.Snapshot{
		Environment: environment.Dev, Amount: 42, Currency: "USD", Status: cost.Warning,
		Source: cost.Heuristic, Period: "monthly estimate", Budget: 50,
		Breakdown: []cost.Line{{Name: "webapp-demo-dev-sql/db", Type: inventory.TypeDatabase, Amount: 5}},
	}
	c.Assert(cost.FormatReport(&buf, []cost.Snapshot{snap}), jc.ErrorIsNil)
	out := buf.String()
	c.Check(out, jc.Contains, "$42")
	c.Check(out, jc.Contains, "84.0%")
	c.Check(out, jc.Contains, "warning")
	c.Check(out, jc.Contains, "databases")
	c.Check(out, jc.Contains, "Note: some costs are estimated")
}
