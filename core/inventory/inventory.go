// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package inventory

import (
	"sort"
	"strings"
	"time"

	"github.com/juju/collections/set"

	"github.com/webapp-demo/envctl/core/environment"
)

// Source records where an inventory was read from.
type Source string

const (
	// FromState means the inventory was read from terraform state.
	FromState Source = "state"
	// FromProvider means the inventory was listed from the cloud.
	FromProvider Source = "provider"
)

// Azure resource types of the resources that make up an environment.
const (
	TypeResourceGroup = "Microsoft.Resources/resourceGroups"
	TypeWebApp        = "Microsoft.Web/sites"
	TypeAppPlan       = "Microsoft.Web/serverFarms"
	TypeSQLServer     = "Microsoft.Sql/servers"
	TypeDatabase      = "Microsoft.Sql/servers/databases"
	TypeVault         = "Microsoft.KeyVault/vaults"
	TypeRegistry      = "Microsoft.ContainerRegistry/registries"
	TypeInsights      = "Microsoft.Insights/components"
	TypeWorkspace     = "Microsoft.OperationalInsights/workspaces"
)

// terraformTypes maps azurerm resource types onto Azure resource types.
var terraformTypes = map[string]string{
	"azurerm_resource_group":          TypeResourceGroup,
	"azurerm_linux_web_app":           TypeWebApp,
	"azurerm_app_service":             TypeWebApp,
	"azurerm_service_plan":            TypeAppPlan,
	"azurerm_app_service_plan":        TypeAppPlan,
	"azurerm_mssql_server":            TypeSQLServer,
	"azurerm_sql_server":              TypeSQLServer,
	"azurerm_mssql_database":          TypeDatabase,
	"azurerm_sql_database":            TypeDatabase,
	"azurerm_key_vault":               TypeVault,
	"azurerm_container_registry":      TypeRegistry,
	"azurerm_application_insights":    TypeInsights,
	"azurerm_log_analytics_workspace": TypeWorkspace,
}

// TypeFromTerraform returns the Azure type for a terraform resource
// type. Unknown types are returned unchanged.
func TypeFromTerraform(tfType string) string {
	if t, ok := terraformTypes[tfType]; ok {
		return t
	}
	return tfType
}

// Entry is a single cloud resource.
type Entry struct {
	Type string `yaml:"type" json:"type"`
	Name string `yaml:"name" json:"name"`
	ID   string `yaml:"id" json:"id"`
}

// key identifies the entry. Azure ids are case insensitive.
func (e Entry) key() string {
	if e.ID != "" {
		return strings.ToLower(e.ID)
	}
	return strings.ToLower(e.Type + "/" + e.Name)
}

// Inventory is the set of resources that exist for an environment at
// a point in time. It is recomputed on every discovery and never cached.
type Inventory struct {
	Environment environment.Name `yaml:"environment" json:"environment"`
	Source      Source           `yaml:"source" json:"source"`
	ObservedAt  time.Time        `yaml:"observed-at" json:"observed-at"`
	Entries     []Entry          `yaml:"entries" json:"entries"`
}

// Empty returns an inventory with no resources.
func Empty(env environment.Name, source Source, now time.Time) Inventory {
	return Inventory{
		Environment: env,
		Source:      source,
		ObservedAt:  now,
		Entries:     []Entry{},
	}
}

// Len returns the number of resources.
func (inv Inventory) Len() int {
	return len(inv.Entries)
}

// IsEmpty reports whether no resources exist.
func (inv Inventory) IsEmpty() bool {
	return len(inv.Entries) == 0
}

// Sorted returns the entries ordered by type then name.
func (inv Inventory) Sorted() []Entry {
	out := append([]Entry(nil), inv.Entries...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Has reports whether a resource of the given Azure type exists.
func (inv Inventory) Has(resourceType string) bool {
	for _, e := range inv.Entries {
		if strings.EqualFold(e.Type, resourceType) {
			return true
		}
	}
	return false
}

// Contains reports whether e is part of the inventory.
func (inv Inventory) Contains(e Entry) bool {
	return inv.keys().Contains(e.key())
}

func (inv Inventory) keys() set.Strings {
	keys := set.NewStrings()
	for _, e := range inv.Entries {
		keys.Add(e.key())
	}
	return keys
}

// Missing returns the entries of inv that are not part of other.
func (inv Inventory) Missing(other Inventory) []Entry {
	have := other.keys()
	var out []Entry
	for _, e := range inv.Entries {
		if !have.Contains(e.key()) {
			out = append(out, e)
		}
	}
	return out
}

// Summary reports presence of the well known resources of an environment.
type Summary struct {
	ResourceGroup bool `yaml:"resource-group" json:"resource-group"`
	WebApp        bool `yaml:"web-app" json:"web-app"`
	Database      bool `yaml:"database" json:"database"`
	Vault         bool `yaml:"vault" json:"vault"`
	Registry      bool `yaml:"registry" json:"registry"`
}

// Summary returns which well known resources are present. A missing
// optional resource is reported absent, never as an error.
func (inv Inventory) Summary() Summary {
	return Summary{
		ResourceGroup: inv.Has(TypeResourceGroup),
		WebApp:        inv.Has(TypeWebApp),
		Database:      inv.Has(TypeDatabase),
		Vault:         inv.Has(TypeVault),
		Registry:      inv.Has(TypeRegistry),
	}
}
