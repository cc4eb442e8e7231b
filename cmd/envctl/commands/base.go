// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/juju/ansiterm"
	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo"
	"github.com/mattn/go-isatty"

	"github.com/webapp-demo/envctl/config"
	"github.com/webapp-demo/envctl/core/environment"
	"github.com/webapp-demo/envctl/core/failure"
	"github.com/webapp-demo/envctl/domain/lifecycle"
	lifecycleerrors "github.com/webapp-demo/envctl/domain/lifecycle/errors"
	"github.com/webapp-demo/envctl/internal/cost"
)

var logger = loggo.GetLogger("envctl.cmd.commands")

// LifecycleAPI is the part of the lifecycle service used by the
// commands.
type LifecycleAPI interface {
	Deploy(ctx context.Context, name environment.Name, opts lifecycle.DeployOptions) (lifecycle.DeploymentRecord, error)
	Status(ctx context.Context, name environment.Name) (lifecycle.Report, error)
	Cleanup(ctx context.Context, name environment.Name, opts lifecycle.CleanupOptions) (lifecycle.CleanupResult, error)
	CancelCleanup(ctx context.Context, name environment.Name) (bool, error)
	Schedules(ctx context.Context) ([]lifecycle.CleanupSchedule, error)
	BootstrapBackend(ctx context.Context, name environment.Name) (environment.BackendConfig, error)
	EstimateCost(name environment.Name, hours, budget float64) (cost.Snapshot, error)
	ActualCost(ctx context.Context, name environment.Name, budget float64) (cost.Snapshot, error)
	Close() error
}

// APIOpener returns the lifecycle API of the project described by cfg.
type APIOpener func(ctx context.Context, cfg *config.Config) (LifecycleAPI, error)

// baseCommand holds what every envctl command shares: the location of
// the project configuration and the way to reach the lifecycle API.
type baseCommand struct {
	cmd.CommandBase

	configPath string

	openAPI    APIOpener
	readConfig func(path string) (*config.Config, error)
}

func newBaseCommand(open APIOpener) baseCommand {
	if open == nil {
		open = OpenLifecycle
	}
	return baseCommand{
		openAPI:    open,
		readConfig: config.Read,
	}
}

// SetFlags implements cmd.Command.
func (c *baseCommand) SetFlags(f *gnuflag.FlagSet) {
	c.CommandBase.SetFlags(f)
	f.StringVar(&c.configPath, "config", "", "Project configuration file (default $ENVCTL_CONFIG, then ./envctl.yaml)")
}

// config reads the project configuration.
func (c *baseCommand) config(ctx *cmd.Context) (*config.Config, error) {
	return c.readConfig(ctx.AbsPath(config.Path(c.configPath)))
}

// api reads the project configuration and opens the lifecycle API.
func (c *baseCommand) api(stdCtx context.Context, ctx *cmd.Context) (*config.Config, LifecycleAPI, error) {
	cfg, err := c.config(ctx)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	api, err := c.openAPI(stdCtx, cfg)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	return cfg, api, nil
}

// interruptible returns a context that is cancelled when the command is
// interrupted, and a function releasing it.
func interruptible(ctx *cmd.Context) (context.Context, func()) {
	interrupted := make(chan os.Signal, 1)
	ctx.InterruptNotify(interrupted)

	stdCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-interrupted:
			ctx.Infof("interrupted, stopping")
			cancel()
		case <-stdCtx.Done():
		}
	}()
	return stdCtx, func() {
		ctx.StopInterruptNotify(interrupted)
		cancel()
	}
}

// envValue implements gnuflag.Value for the --env flag.
type envValue struct {
	name *environment.Name
}

// Set implements gnuflag.Value.
func (v envValue) Set(s string) error {
	name, err := environment.ParseName(s)
	if err != nil {
		return errors.Trace(err)
	}
	*v.name = name
	return nil
}

// String implements gnuflag.Value.
func (v envValue) String() string {
	if v.name == nil {
		return ""
	}
	return string(*v.name)
}

func envFlag(f *gnuflag.FlagSet, name *environment.Name, usage string) {
	f.Var(envValue{name: name}, "env", usage)
}

var allEnvironments = []environment.Name{environment.Dev, environment.Staging, environment.Prod}

// isTerminal reports whether r is an interactive terminal.
func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

var errorColor = ansiterm.Foreground(ansiterm.BrightRed)

// reportError prints what the operator needs to recover from err, and
// returns an error carrying the exit code of its kind.
func reportError(ctx *cmd.Context, operation string, env environment.Name, err error) error {
	if err == nil {
		return nil
	}
	w := ansiterm.NewWriter(ctx.Stderr)
	errorColor.Fprintf(w, "ERROR")
	fmt.Fprintf(w, " %v\n", err)

	if errors.Is(err, lifecycleerrors.DeploymentInProgress) {
		fmt.Fprintf(w, "another operation on %s is running; retry once it has finished\n", env)
		return cmd.NewRcPassthroughError(failure.ExitInProgress)
	}

	lastGood := "unknown"
	var opErr *lifecycle.OperationError
	if errors.As(err, &opErr) {
		operation, env = opErr.Operation, opErr.Environment
		if opErr.LastGoodStatus != "" {
			lastGood = string(opErr.LastGoodStatus)
		}
	}
	fmt.Fprintf(w, "kind: %s\n", failure.Name(err))
	fmt.Fprintf(w, "last good state: %s\n", lastGood)
	if env != "" {
		fmt.Fprintf(w, "remediation: %s\n", failure.Remediation(err, operation, string(env)))
	}
	logger.Debugf("%s failed: %s", operation, errors.ErrorStack(err))
	return cmd.NewRcPassthroughError(failure.ExitCode(err))
}

// joinWarnings renders warnings one per line.
func joinWarnings(warnings []string) string {
	return "  " + strings.Join(warnings, "\n  ")
}
