// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package commands

import (
	"fmt"
	"os"

	"github.com/juju/cmd/v3"

	envctlcmd "github.com/webapp-demo/envctl/cmd"
)

var envctlDoc = `
envctl deploys, inspects and tears down the environments (dev, staging
and prod) of the webapp-demo project on Azure: an App Service web app
running the application container, an Azure SQL database, a Key Vault
and a Container Registry, all declared in terraform.

Every operation on an environment holds a lock, so concurrent runs
against the same environment fail fast while different environments
can be worked on in parallel. Failures report their kind, the last good
state of the deployment and the command that recovers from them.

The project is configured in envctl.yaml.
`

// Main registers subcommands for the envctl executable, and hands over
// control to the cmd package. This function is not redundant with main,
// because it provides an entry point for testing with arbitrary command
// line arguments.
func Main(args []string) int {
	ctx, err := cmd.DefaultContext()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	return cmd.Main(NewEnvctlCommand(), ctx, args[1:])
}

// NewEnvctlCommand returns the envctl super command.
func NewEnvctlCommand() cmd.Command {
	envctl := envctlcmd.NewSuperCommand(cmd.SuperCommandParams{
		Name:    "envctl",
		Purpose: "Deployment lifecycle orchestrator for webapp-demo environments.",
		Doc:     envctlDoc,
	})
	registerCommands(envctl)
	return envctl
}

type commandRegistry interface {
	Register(cmd.Command)
}

// registerCommands registers commands in the specified registry.
func registerCommands(r commandRegistry) {
	// Lifecycle commands.
	r.Register(NewBootstrapBackendCommand())
	r.Register(NewDeployCommand())
	r.Register(NewCleanupCommand())

	// Reporting commands.
	r.Register(NewStatusCommand())
	r.Register(NewCostCommand())

	// Background commands.
	r.Register(NewSchedulerCommand())
}
