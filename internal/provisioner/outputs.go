// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package provisioner

import (
	"sort"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
)

// Terraform output names produced by the infrastructure module.
const (
	OutputResourceGroup  = "resource_group_name"
	OutputWebAppName     = "web_app_name"
	OutputWebAppURL      = "web_app_url"
	OutputRegistryServer = "registry_login_server"
	OutputRegistryName   = "registry_name"
	OutputSQLServerFQDN  = "sql_server_fqdn"
	OutputDatabaseName   = "database_name"
	OutputKeyVaultName   = "key_vault_name"
	OutputKeyVaultURI    = "key_vault_uri"
)

// ProducedOutputs is the output schema of the infrastructure module.
// Consumers may rely on any subset of it.
var ProducedOutputs = set.NewStrings(
	OutputResourceGroup,
	OutputWebAppName,
	OutputWebAppURL,
	OutputRegistryServer,
	OutputRegistryName,
	OutputSQLServerFQDN,
	OutputDatabaseName,
	OutputKeyVaultName,
	OutputKeyVaultURI,
)

// Outputs are the values produced by a successful apply.
type Outputs map[string]string

// Require returns an error naming every key that is missing or empty.
func (o Outputs) Require(keys ...string) error {
	var missing []string
	for _, k := range keys {
		if o[k] == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return errors.NotFoundf("terraform outputs %v", missing)
}
