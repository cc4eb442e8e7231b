// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package commands

import (
	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/webapp-demo/envctl/core/environment"
)

const bootstrapBackendDoc = `
Bootstrap-backend creates the storage that holds the terraform state of
an environment: a resource group, a storage account with blob
versioning and soft delete, and the state container. Existing pieces
are left as they are. Deploy does this itself; the command is useful
to prepare a backend for running terraform by hand.
`

// NewBootstrapBackendCommand returns a command that creates the
// terraform state backend of an environment.
func NewBootstrapBackendCommand() cmd.Command {
	return newBootstrapBackendCommand(nil)
}

func newBootstrapBackendCommand(open APIOpener) *bootstrapBackendCommand {
	return &bootstrapBackendCommand{baseCommand: newBaseCommand(open)}
}

type bootstrapBackendCommand struct {
	baseCommand

	out cmd.Output
	env environment.Name
}

// Info implements cmd.Command.
func (c *bootstrapBackendCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "bootstrap-backend",
		Purpose: "Create the terraform state backend of an environment.",
		Doc:     bootstrapBackendDoc,
		SeeAlso: []string{"deploy"},
	}
}

// SetFlags implements cmd.Command.
func (c *bootstrapBackendCommand) SetFlags(f *gnuflag.FlagSet) {
	c.baseCommand.SetFlags(f)
	envFlag(f, &c.env, "Environment whose backend to create (dev, staging or prod)")
	c.out.AddFlags(f, "yaml", map[string]cmd.Formatter{
		"json": cmd.FormatJson,
		"yaml": cmd.FormatYaml,
	})
}

// Init implements cmd.Command.
func (c *bootstrapBackendCommand) Init(args []string) error {
	if c.env == "" {
		return errors.New("--env is required")
	}
	return cmd.CheckEmpty(args)
}

// Run implements cmd.Command.
func (c *bootstrapBackendCommand) Run(ctx *cmd.Context) error {
	stdCtx, cancel := interruptible(ctx)
	defer cancel()

	_, api, err := c.api(stdCtx, ctx)
	if err != nil {
		return reportError(ctx, "bootstrap-backend", c.env, err)
	}
	defer closeAPI(api)

	backend, err := api.BootstrapBackend(stdCtx, c.env)
	if err != nil {
		return reportError(ctx, "bootstrap-backend", c.env, err)
	}
	return errors.Trace(c.out.Write(ctx, backend))
}
