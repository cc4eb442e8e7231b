// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package azure

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/costmanagement/armcostmanagement"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/keyvault/armkeyvault"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/webapp-demo/envctl/core/environment"
	"github.com/webapp-demo/envctl/core/failure"
	"github.com/webapp-demo/envctl/core/inventory"
	"github.com/webapp-demo/envctl/internal/cost"
)

const (
	subscriptionID = "00000000-0000-0000-0000-000000000001"
	subPath        = "/subscriptions/" + subscriptionID
)

type providerSuite struct {
	testing.IsolationSuite

	transport *fakeTransport
	provider  *Provider
}

var _ = gc.Suite(&providerSuite{})

func (s *providerSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.transport = newFakeTransport()
	var err error
	s.provider, err = New(Config{
		SubscriptionID: subscriptionID,
		Credential:     fakeCredential{},
		ClientOptions:  s.transport.clientOptions(),
	})
	c.Assert(err, jc.ErrorIsNil)
}

func (s *providerSuite) TestConfigValidate(c *gc.C) {
	_, err := New(Config{Credential: fakeCredential{}})
	c.Check(err, gc.ErrorMatches, "empty SubscriptionID not valid")
	_, err = New(Config{SubscriptionID: subscriptionID})
	c.Check(err, gc.ErrorMatches, "nil Credential not valid")
}

func (s *providerSuite) TestResourceGroup(c *gc.C) {
	s.transport.respond("GET", subPath+"/resourcegroups/webapp-demo-dev-rg", http.StatusOK,
		`{"id":"`+subPath+`/resourceGroups/webapp-demo-dev-rg","name":"webapp-demo-dev-rg","location":"eastus"}`)

	entry, err := s.provider.ResourceGroup(context.Background(), "webapp-demo-dev-rg")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(entry, jc.DeepEquals, inventory.Entry{
		Type: inventory.TypeResourceGroup,
		Name: "webapp-demo-dev-rg",
		ID:   subPath + "/resourceGroups/webapp-demo-dev-rg",
	})
}

func (s *providerSuite) TestResourceGroupNotFound(c *gc.C) {
	_, err := s.provider.ResourceGroup(context.Background(), "webapp-demo-dev-rg")
	c.Check(err, jc.ErrorIs, errors.NotFound)
}

func (s *providerSuite) TestListResources(c *gc.C) {
	s.transport.respond("GET", subPath+"/resourcegroups/webapp-demo-dev-rg/resources", http.StatusOK, `{"value":[
		{"id":"`+subPath+`/resourceGroups/webapp-demo-dev-rg/providers/Microsoft.Web/sites/webapp-demo-dev-app","name":"webapp-demo-dev-app","type":"Microsoft.Web/sites"},
		{"id":"`+subPath+`/resourceGroups/webapp-demo-dev-rg/providers/Microsoft.KeyVault/vaults/webapp-demo-dev-kv","name":"webapp-demo-dev-kv","type":"Microsoft.KeyVault/vaults"}
	]}`)

	entries, err := s.provider.ListResources(context.Background(), "webapp-demo-dev-rg")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(entries, gc.HasLen, 2)
	c.Check(entries[0].Type, gc.Equals, inventory.TypeWebApp)
	c.Check(entries[1].Name, gc.Equals, "webapp-demo-dev-kv")
}

func (s *providerSuite) TestListResourcesForbidden(c *gc.C) {
	s.transport.respond("GET", subPath+"/resourcegroups/webapp-demo-dev-rg/resources", http.StatusForbidden,
		`{"error":{"code":"AuthorizationFailed","message":"no access"}}`)

	_, err := s.provider.ListResources(context.Background(), "webapp-demo-dev-rg")
	c.Check(err, jc.ErrorIs, failure.AuthError)
	c.Check(err, gc.ErrorMatches, "listing resources of webapp-demo-dev-rg: (.|\n)*")
}

func (s *providerSuite) TestDeleteResourceLooksUpAPIVersion(c *gc.C) {
	id := subPath + "/resourceGroups/webapp-demo-dev-rg/providers/Microsoft.Web/sites/webapp-demo-dev-app"
	s.transport.respond("GET", subPath+"/providers/microsoft.web", http.StatusOK, `{
		"namespace":"Microsoft.Web",
		"resourceTypes":[
			{"resourceType":"serverFarms","apiVersions":["2023-01-01"]},
			{"resourceType":"sites","apiVersions":["2024-01-01-preview","2023-12-01","2022-09-01"]}
		]}`)
	s.transport.respond("DELETE", id, http.StatusNoContent, ``)

	err := s.provider.DeleteResource(context.Background(), id)
	c.Assert(err, jc.ErrorIsNil)
	err = s.provider.DeleteResource(context.Background(), id)
	c.Assert(err, jc.ErrorIsNil)

	c.Check(s.transport.requests, jc.DeepEquals, []string{
		"GET " + strings.ToLower(subPath+"/providers/Microsoft.Web"),
		"DELETE " + strings.ToLower(id),
		"DELETE " + strings.ToLower(id),
	})
	c.Check(s.provider.apiVersions, jc.DeepEquals, map[string]string{"microsoft.web/sites": "2023-12-01"})
}

func (s *providerSuite) TestDeleteResourceGroupNotFound(c *gc.C) {
	err := s.provider.DeleteResourceGroup(context.Background(), "webapp-demo-dev-rg")
	c.Check(err, jc.ErrorIs, errors.NotFound)
}

func (s *providerSuite) TestSetContainerImage(c *gc.C) {
	path := subPath + "/resourceGroups/webapp-demo-dev-rg/providers/Microsoft.Web/sites/webapp-demo-dev-app/config/web"
	s.transport.respond("GET", path, http.StatusOK, `{"properties":{"alwaysOn":true,"linuxFxVersion":"DOCKER|old:1"}}`)
	s.transport.respond("PUT", path, http.StatusOK, `{"properties":{"alwaysOn":true,"linuxFxVersion":"DOCKER|acr.azurecr.io/webapp:2"}}`)

	err := s.provider.SetContainerImage(context.Background(), "webapp-demo-dev-rg", "webapp-demo-dev-app", "acr.azurecr.io/webapp:2")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.transport.requests, jc.DeepEquals, []string{
		"GET " + strings.ToLower(path),
		"PUT " + strings.ToLower(path),
	})
	c.Assert(s.transport.bodies, gc.Not(gc.HasLen), 0)
	body := s.transport.bodies[len(s.transport.bodies)-1]
	c.Check(body, jc.Contains, `"linuxFxVersion":"DOCKER|acr.azurecr.io/webapp:2"`)
	c.Check(body, jc.Contains, `"alwaysOn":true`)
}

func (s *providerSuite) TestUsageCost(c *gc.C) {
	path := subPath + "/resourceGroups/webapp-demo-dev-rg/providers/Microsoft.Consumption/usageDetails"
	s.transport.respond("GET", path, http.StatusOK, `{"value":[
		{"kind":"modern","properties":{"costInBillingCurrency":1.25,"billingCurrencyCode":"EUR"}},
		{"kind":"legacy","properties":{"pretaxCost":0.5,"billingCurrency":"EUR"}},
		{"kind":"legacy","properties":{}}
	]}`)

	from := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	amount, err := s.provider.UsageCost(context.Background(), "webapp-demo-dev-rg", from, from.AddDate(0, 0, 14))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(amount, jc.DeepEquals, cost.Amount{Value: 1.75, Currency: "EUR"})
	c.Check(s.transport.requests, jc.DeepEquals, []string{"GET " + strings.ToLower(path)})
}

func (s *providerSuite) TestUsageCostForbidden(c *gc.C) {
	path := subPath + "/resourceGroups/webapp-demo-dev-rg/providers/Microsoft.Consumption/usageDetails"
	s.transport.respond("GET", path, http.StatusForbidden, `{"error":{"code":"AuthorizationFailed","message":"no"}}`)

	from := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	_, err := s.provider.UsageCost(context.Background(), "webapp-demo-dev-rg", from, from.AddDate(0, 0, 14))
	c.Check(err, jc.ErrorIs, failure.AuthError)
	c.Check(err, gc.ErrorMatches, "listing usage of webapp-demo-dev-rg: (.|\n)*")
}

type classifySuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&classifySuite{})

func responseError(status int, code string) error {
	req, _ := http.NewRequest("GET", "https://management.azure.com"+subPath, nil)
	return runtime.NewResponseError(&http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(`{"error":{"code":"` + code + `","message":"x"}}`)),
		Request:    req,
	})
}

func (*classifySuite) TestClassify(c *gc.C) {
	c.Check(classify(nil, "x"), jc.ErrorIsNil)
	c.Check(classify(responseError(http.StatusNotFound, "ResourceGroupNotFound"), "x"), jc.ErrorIs, errors.NotFound)
	c.Check(classify(responseError(http.StatusBadRequest, "ParentResourceNotFound"), "x"), jc.ErrorIs, errors.NotFound)
	c.Check(classify(responseError(http.StatusUnauthorized, "InvalidAuthenticationToken"), "x"), jc.ErrorIs, failure.AuthError)
	c.Check(classify(responseError(http.StatusForbidden, "AuthorizationFailed"), "x"), jc.ErrorIs, failure.AuthError)
	c.Check(classify(responseError(http.StatusTooManyRequests, "TooManyRequests"), "x"), jc.ErrorIs, failure.TransientProviderError)
	c.Check(classify(responseError(http.StatusServiceUnavailable, "ServiceUnavailable"), "x"), jc.ErrorIs, failure.TransientProviderError)
	c.Check(classify(responseError(http.StatusConflict, "StorageAccountAlreadyTaken"), "x"), jc.ErrorIs, failure.QuotaOrNamingCollision)
	c.Check(classify(responseError(http.StatusBadRequest, "QuotaExceeded"), "x"), jc.ErrorIs, failure.QuotaOrNamingCollision)

	_, ok := failure.KindOf(classify(responseError(http.StatusBadRequest, "InvalidTemplate"), "x"))
	c.Check(ok, jc.IsFalse)

	err := classify(errors.New("DefaultAzureCredential: failed to acquire a token"), "listing")
	c.Check(err, jc.ErrorIs, failure.AuthError)
	c.Check(err, gc.ErrorMatches, "listing: DefaultAzureCredential: failed to acquire a token")
}

type helpersSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&helpersSuite{})

func (*helpersSuite) TestNewestStable(c *gc.C) {
	c.Check(newestStable(to.SliceOfPtrs("2022-09-01", "2024-01-01-preview", "2023-12-01")), gc.Equals, "2023-12-01")
	c.Check(newestStable(to.SliceOfPtrs("2024-01-01-preview")), gc.Equals, "2024-01-01-preview")
	c.Check(newestStable(nil), gc.Equals, "")
}

func (*helpersSuite) TestLinuxFxVersion(c *gc.C) {
	c.Check(linuxFxVersion("reg.azurecr.io/webapp:1"), gc.Equals, "DOCKER|reg.azurecr.io/webapp:1")
}

func (*helpersSuite) TestSumCost(c *gc.C) {
	amount, err := sumCost(&armcostmanagement.QueryProperties{
		Columns: []*armcostmanagement.QueryColumn{
			{Name: to.Ptr("totalCost")},
			{Name: to.Ptr("Currency")},
		},
		Rows: [][]any{{1.25, "EUR"}, {0.5, "EUR"}},
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(amount.Value, gc.Equals, 1.75)
	c.Check(amount.Currency, gc.Equals, "EUR")

	amount, err = sumCost(&armcostmanagement.QueryProperties{})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(amount.Value, gc.Equals, 0.0)
	c.Check(amount.Currency, gc.Equals, "USD")

	_, err = sumCost(&armcostmanagement.QueryProperties{
		Columns: []*armcostmanagement.QueryColumn{{Name: to.Ptr("totalCost")}},
		Rows:    [][]any{{"lots"}},
	})
	c.Check(err, jc.ErrorIs, errors.NotValid)
}

func (*helpersSuite) TestOwnedVault(c *gc.C) {
	env, err := environment.New("webapp-demo", environment.Dev, "eastus", subscriptionID)
	c.Assert(err, jc.ErrorIsNil)

	byName := &armkeyvault.DeletedVault{
		Name:       to.Ptr("webapp-demo-dev-kv"),
		Properties: &armkeyvault.DeletedVaultProperties{},
	}
	c.Check(ownedVault(env, byName), jc.IsTrue)

	other := &armkeyvault.DeletedVault{
		Name:       to.Ptr("webapp-demo-prod-kv"),
		Properties: &armkeyvault.DeletedVaultProperties{},
	}
	c.Check(ownedVault(env, other), jc.IsFalse)

	tagged := &armkeyvault.DeletedVault{
		Name: to.Ptr("kv-renamed"),
		Properties: &armkeyvault.DeletedVaultProperties{
			Tags: toTagPtrs(env.Tags()),
		},
	}
	c.Check(ownedVault(env, tagged), jc.IsTrue)

	foreign := &armkeyvault.DeletedVault{
		Name: to.Ptr("webapp-demo-dev-kv"),
		Properties: &armkeyvault.DeletedVaultProperties{
			Tags: map[string]*string{"owner": to.Ptr("someone")},
		},
	}
	c.Check(ownedVault(env, foreign), jc.IsFalse)
	c.Check(ownedVault(env, nil), jc.IsFalse)
}
