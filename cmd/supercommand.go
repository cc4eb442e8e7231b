// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/juju/cmd/v3"
	"github.com/juju/loggo"

	"github.com/webapp-demo/envctl/config"
)

func init() {
	// If the environment key is empty, ConfigureLoggers returns nil and does
	// nothing.
	err := loggo.ConfigureLoggers(os.Getenv(config.LoggingConfigEnvKey))
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR parsing %s: %s\n\n", config.LoggingConfigEnvKey, err)
	}
}

var logger = loggo.GetLogger("envctl.cmd")

// Version is the envctl release. It is overridden at link time.
var Version = "0.1.0"

// NewSuperCommand is like cmd.NewSuperCommand but
// it adds envctl-specific functionality:
// - The default logging configuration is taken from the environment;
// - The version is configured to the current envctl version;
// - The command emits a log message when a command runs.
func NewSuperCommand(p cmd.SuperCommandParams) *cmd.SuperCommand {
	p.Log = &cmd.Log{
		DefaultConfig: os.Getenv(config.LoggingConfigEnvKey),
	}
	p.Version = Version
	p.NotifyRun = runNotifier
	return cmd.NewSuperCommand(p)
}

func runNotifier(name string) {
	logger.Infof("running %s [%s %s %s]", name, Version, runtime.Compiler, runtime.Version())
}
