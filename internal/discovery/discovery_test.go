// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package discovery_test

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/webapp-demo/envctl/core/environment"
	"github.com/webapp-demo/envctl/core/failure"
	"github.com/webapp-demo/envctl/core/inventory"
	"github.com/webapp-demo/envctl/internal/backoff"
	"github.com/webapp-demo/envctl/internal/discovery"
)

type discoverySuite struct {
	testing.IsolationSuite

	state    *fakeState
	provider *fakeProvider
	env      environment.Environment
	d        *discovery.Discoverer
}

var _ = gc.Suite(&discoverySuite{})

func (s *discoverySuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	env, err := environment.New("webapp-demo", environment.Dev, "eastus", "sub")
	c.Assert(err, jc.ErrorIsNil)
	s.env = env
	s.state = &fakeState{}
	s.provider = &fakeProvider{}
	s.d, err = discovery.NewDiscoverer(discovery.Config{
		State:    s.state,
		Provider: s.provider,
		Clock:    testclock.NewClock(time.Now()),
		Caller: backoff.Caller{
			Clock: clock.WallClock,
			Policy: backoff.Policy{
				Attempts:    3,
				Delay:       time.Millisecond,
				CallTimeout: time.Second,
			},
		},
	})
	c.Assert(err, jc.ErrorIsNil)
}

var (
	groupEntry = inventory.Entry{
		Type: inventory.TypeResourceGroup,
		Name: "webapp-demo-dev-rg",
		ID:   "/subscriptions/sub/resourceGroups/webapp-demo-dev-rg",
	}
	appEntry = inventory.Entry{
		Type: inventory.TypeWebApp,
		Name: "webapp-demo-dev-app",
		ID:   "/subscriptions/sub/resourceGroups/webapp-demo-dev-rg/providers/Microsoft.Web/sites/webapp-demo-dev-app",
	}
)

func (s *discoverySuite) TestEmptyEnvironment(c *gc.C) {
	inv, err := s.d.Discover(context.Background(), s.env)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(inv.IsEmpty(), jc.IsTrue)
	c.Check(inv.Entries, gc.NotNil)
	c.Check(inv.Source, gc.Equals, inventory.FromProvider)
	c.Check(inv.Environment, gc.Equals, environment.Dev)
	s.state.CheckCallNames(c, "StateResources")
	s.provider.CheckCallNames(c, "ResourceGroup")
}

func (s *discoverySuite) TestFastPath(c *gc.C) {
	s.state.entries = []inventory.Entry{groupEntry, appEntry}
	s.provider.group = &groupEntry

	inv, err := s.d.Discover(context.Background(), s.env)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(inv.Source, gc.Equals, inventory.FromState)
	c.Check(inv.Entries, jc.DeepEquals, []inventory.Entry{groupEntry, appEntry})
	s.provider.CheckCallNames(c, "ResourceGroup")
}

func (s *discoverySuite) TestStateUnavailableFallsBack(c *gc.C) {
	s.state.SetErrors(errors.New("backend not initialised"))
	s.provider.group = &groupEntry
	s.provider.resources = []inventory.Entry{appEntry}

	inv, err := s.d.Discover(context.Background(), s.env)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(inv.Source, gc.Equals, inventory.FromProvider)
	c.Check(inv.Entries, jc.DeepEquals, []inventory.Entry{groupEntry, appEntry})
	s.provider.CheckCalls(c, []testing.StubCall{
		{FuncName: "ResourceGroup", Args: []interface{}{"webapp-demo-dev-rg"}},
		{FuncName: "ListResources", Args: []interface{}{"webapp-demo-dev-rg"}},
	})
}

func (s *discoverySuite) TestStaleStateProviderWins(c *gc.C) {
	s.state.entries = []inventory.Entry{groupEntry, appEntry}

	inv, err := s.d.Discover(context.Background(), s.env)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(inv.IsEmpty(), jc.IsTrue)
	c.Check(inv.Source, gc.Equals, inventory.FromProvider)
}

func (s *discoverySuite) TestProviderErrorOnLive(c *gc.C) {
	s.provider.SetErrors(errors.New("throttled"))
	_, err := s.d.DiscoverLive(context.Background(), s.env)
	c.Check(err, gc.ErrorMatches, `looking up resource group "webapp-demo-dev-rg": throttled`)
}

var errThrottled = failure.WithKind(errors.New("429 TooManyRequests"), failure.TransientProviderError)

func (s *discoverySuite) TestTransientErrorRetried(c *gc.C) {
	s.provider.group = &groupEntry
	s.provider.resources = []inventory.Entry{appEntry}
	s.provider.SetErrors(errThrottled, nil, errThrottled)

	inv, err := s.d.DiscoverLive(context.Background(), s.env)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(inv.Entries, jc.DeepEquals, []inventory.Entry{groupEntry, appEntry})
	s.provider.CheckCallNames(c, "ResourceGroup", "ResourceGroup", "ListResources", "ListResources")
}

func (s *discoverySuite) TestTransientErrorAttemptsBounded(c *gc.C) {
	s.provider.SetErrors(errThrottled, errThrottled, errThrottled)
	_, err := s.d.DiscoverLive(context.Background(), s.env)
	c.Check(err, gc.ErrorMatches, `looking up resource group "webapp-demo-dev-rg": resource group lookup failed after 3 attempts: 429 TooManyRequests`)
	c.Check(err, jc.ErrorIs, failure.TransientProviderError)
	s.provider.CheckCallNames(c, "ResourceGroup", "ResourceGroup", "ResourceGroup")
}

func (s *discoverySuite) TestGroupDeletedWhileListing(c *gc.C) {
	s.provider.group = &groupEntry
	s.provider.SetErrors(nil, errors.NotFoundf("resource group"))
	inv, err := s.d.DiscoverLive(context.Background(), s.env)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(inv.IsEmpty(), jc.IsTrue)
}

func (s *discoverySuite) TestCancelled(c *gc.C) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.state.SetErrors(context.Canceled)
	_, err := s.d.Discover(ctx, s.env)
	c.Check(errors.Is(err, context.Canceled), jc.IsTrue)
}

func (s *discoverySuite) TestConfigValidate(c *gc.C) {
	_, err := discovery.NewDiscoverer(discovery.Config{State: s.state})
	c.Check(err, gc.ErrorMatches, "nil Provider not valid")
}

type fakeState struct {
	testing.Stub
	entries []inventory.Entry
}

func (f *fakeState) StateResources(_ context.Context, env environment.Environment) ([]inventory.Entry, error) {
	f.AddCall("StateResources", env.Name)
	if err := f.NextErr(); err != nil {
		return nil, err
	}
	return f.entries, nil
}

type fakeProvider struct {
	testing.Stub
	group     *inventory.Entry
	resources []inventory.Entry
}

func (f *fakeProvider) ResourceGroup(_ context.Context, name string) (inventory.Entry, error) {
	f.AddCall("ResourceGroup", name)
	if err := f.NextErr(); err != nil {
		return inventory.Entry{}, err
	}
	if f.group == nil {
		return inventory.Entry{}, errors.NotFoundf("resource group %q", name)
	}
	return *f.group, nil
}

func (f *fakeProvider) ListResources(_ context.Context, resourceGroup string) ([]inventory.Entry, error) {
	f.AddCall("ListResources", resourceGroup)
	if err := f.NextErr(); err != nil {
		return nil, err
	}
	return f.resources, nil
}
