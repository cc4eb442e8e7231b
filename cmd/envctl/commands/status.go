// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/juju/clock"
	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"golang.org/x/sync/errgroup"

	envctlcmd "github.com/webapp-demo/envctl/cmd"
	"github.com/webapp-demo/envctl/core/environment"
	"github.com/webapp-demo/envctl/core/status"
	"github.com/webapp-demo/envctl/domain/lifecycle"
)

const statusDoc = `
Status reports the deployment record, the scheduled cleanup and the
live resources of an environment, or of every environment when --env
is not given. Nothing is changed.
`

const statusExamples = `
    envctl status
    envctl status --env dev --format yaml
`

// NewStatusCommand returns a command that reports environment status.
func NewStatusCommand() cmd.Command {
	return newStatusCommand(nil)
}

func newStatusCommand(open APIOpener) *statusCommand {
	return &statusCommand{
		baseCommand: newBaseCommand(open),
		clock:       clock.WallClock,
	}
}

type statusCommand struct {
	baseCommand

	out   cmd.Output
	env   environment.Name
	clock clock.Clock
}

// Info implements cmd.Command.
func (c *statusCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:     "status",
		Purpose:  "Report the state and resources of environments.",
		Doc:      statusDoc,
		Examples: statusExamples,
		SeeAlso:  []string{"deploy", "cleanup"},
	}
}

// SetFlags implements cmd.Command.
func (c *statusCommand) SetFlags(f *gnuflag.FlagSet) {
	c.baseCommand.SetFlags(f)
	envFlag(f, &c.env, "Only report this environment")
	c.out.AddFlags(f, "tabular", map[string]cmd.Formatter{
		"tabular": c.formatTabular,
		"json":    cmd.FormatJson,
		"yaml":    cmd.FormatYaml,
	})
}

// Init implements cmd.Command.
func (c *statusCommand) Init(args []string) error {
	return cmd.CheckEmpty(args)
}

// Run implements cmd.Command.
func (c *statusCommand) Run(ctx *cmd.Context) error {
	stdCtx, cancel := interruptible(ctx)
	defer cancel()

	_, api, err := c.api(stdCtx, ctx)
	if err != nil {
		return reportError(ctx, "status", c.env, err)
	}
	defer closeAPI(api)

	envs := allEnvironments
	if c.env != "" {
		envs = []environment.Name{c.env}
	}
	reports := make([]lifecycle.Report, len(envs))
	g, gctx := errgroup.WithContext(stdCtx)
	for i, name := range envs {
		i, name := i, name
		g.Go(func() error {
			report, err := api.Status(gctx, name)
			if err != nil {
				return errors.Annotatef(err, "status of %s", name)
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return reportError(ctx, "status", c.env, err)
	}
	return errors.Trace(c.out.Write(ctx, reports))
}

// formatTabular writes one row per environment, followed by the errors
// and warnings of their deployments.
func (c *statusCommand) formatTabular(writer io.Writer, value interface{}) error {
	reports, ok := value.([]lifecycle.Report)
	if !ok {
		return errors.Errorf("expected value of type %T, got %T", reports, value)
	}
	now := c.clock.Now()

	tw := envctlcmd.TabWriter(writer)
	w := envctlcmd.Wrapper{TabWriter: tw}
	w.Println("Environment", "State", "Last good", "Resources", "Web app", "Database", "Vault", "Registry", "Cleanup", "Updated")
	for _, r := range reports {
		w.Print(r.Environment)
		state, lastGood, updated := status.Idle, status.Idle, "-"
		if r.Deployment != nil {
			state, lastGood = r.Deployment.Status, r.Deployment.LastGoodStatus
			updated = humanize.RelTime(r.Deployment.UpdatedAt, now, "ago", "from now")
		}
		w.PrintStatus(state)
		w.Print(lastGood, r.Inventory.Len(), presence(r.Summary.WebApp), presence(r.Summary.Database),
			presence(r.Summary.Vault), presence(r.Summary.Registry))
		cleanup := "-"
		if r.Schedule != nil && r.Schedule.Pending() {
			cleanup = humanize.RelTime(r.Schedule.FireAt, now, "ago", "from now")
		}
		w.Println(cleanup, updated)
	}
	if err := tw.Flush(); err != nil {
		return errors.Trace(err)
	}

	var notes []string
	for _, r := range reports {
		if r.Deployment == nil {
			continue
		}
		if r.Deployment.LastError != "" {
			notes = append(notes, fmt.Sprintf("%s: %s: %s", r.Environment, r.Deployment.ErrorKind, r.Deployment.LastError))
		}
		for _, warning := range r.Deployment.Warnings {
			notes = append(notes, fmt.Sprintf("%s: warning: %s", r.Environment, warning))
		}
	}
	if len(notes) > 0 {
		fmt.Fprintf(writer, "\n%s\n", strings.Join(notes, "\n"))
	}
	return nil
}

func presence(present bool) string {
	if present {
		return "yes"
	}
	return "no"
}
