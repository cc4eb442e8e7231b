// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package commands

import (
	"io"

	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"golang.org/x/sync/errgroup"

	"github.com/webapp-demo/envctl/core/environment"
	"github.com/webapp-demo/envctl/core/failure"
	"github.com/webapp-demo/envctl/internal/cost"
)

const costDoc = `
Cost reports what environments cost, or would cost.

--estimate (the default) prices the resources of an environment for
--hours from a static pricing table. --actual reports the month to
date cost from Azure Cost Management, falling back to the consumption
usage records; while neither has data yet it is derived from the live
resources.

With --budget (default from envctl.yaml) every figure is classified as
ok, warning (80% of the budget) or critical (100%). --export writes the
figures to a JSON report. The command exits 1 when any environment is
critical, after reporting every figure.
`

const costExamples = `
    envctl cost --estimate --env dev --hours 2
    envctl cost --actual --budget 50 --export costs.json
`

// NewCostCommand returns a command that reports environment cost.
func NewCostCommand() cmd.Command {
	return newCostCommand(nil)
}

func newCostCommand(open APIOpener) *costCommand {
	return &costCommand{baseCommand: newBaseCommand(open)}
}

type costCommand struct {
	baseCommand

	out      cmd.Output
	env      environment.Name
	estimate bool
	actual   bool
	hours    float64
	budget   float64
	export   string
}

// Info implements cmd.Command.
func (c *costCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:     "cost",
		Purpose:  "Report the estimated or actual cost of environments.",
		Doc:      costDoc,
		Examples: costExamples,
		SeeAlso:  []string{"deploy", "status"},
	}
}

// SetFlags implements cmd.Command.
func (c *costCommand) SetFlags(f *gnuflag.FlagSet) {
	c.baseCommand.SetFlags(f)
	envFlag(f, &c.env, "Only report this environment")
	f.BoolVar(&c.estimate, "estimate", false, "Estimate the cost from the pricing table (default)")
	f.BoolVar(&c.actual, "actual", false, "Report the month to date cost")
	f.Float64Var(&c.hours, "hours", cost.HoursPerMonth, "Hours to estimate the cost of")
	f.Float64Var(&c.budget, "budget", 0, "Budget in USD (default from envctl.yaml)")
	f.StringVar(&c.export, "export", "", "Write the figures to this JSON file")
	c.out.AddFlags(f, "tabular", map[string]cmd.Formatter{
		"tabular": formatCostTabular,
		"json":    cmd.FormatJson,
		"yaml":    cmd.FormatYaml,
	})
}

// Init implements cmd.Command.
func (c *costCommand) Init(args []string) error {
	if c.estimate && c.actual {
		return errors.New("--estimate and --actual are mutually exclusive")
	}
	if !c.actual {
		c.estimate = true
	}
	if c.hours <= 0 {
		return errors.NotValidf("--hours %v", c.hours)
	}
	if c.budget < 0 {
		return errors.NotValidf("--budget %v", c.budget)
	}
	return cmd.CheckEmpty(args)
}

// Run implements cmd.Command.
func (c *costCommand) Run(ctx *cmd.Context) error {
	stdCtx, cancel := interruptible(ctx)
	defer cancel()

	cfg, api, err := c.api(stdCtx, ctx)
	if err != nil {
		return reportError(ctx, "cost", c.env, err)
	}
	defer closeAPI(api)

	budget := c.budget
	if budget == 0 {
		budget = cfg.Budget
	}
	envs := allEnvironments
	if c.env != "" {
		envs = []environment.Name{c.env}
	}

	snaps := make([]cost.Snapshot, len(envs))
	g, gctx := errgroup.WithContext(stdCtx)
	for i, name := range envs {
		i, name := i, name
		g.Go(func() error {
			var err error
			if c.actual {
				snaps[i], err = api.ActualCost(gctx, name, budget)
			} else {
				snaps[i], err = api.EstimateCost(name, c.hours, budget)
			}
			return errors.Trace(err)
		})
	}
	if err := g.Wait(); err != nil {
		return reportError(ctx, "cost", c.env, err)
	}

	critical := false
	for _, snap := range snaps {
		switch snap.Status {
		case cost.Critical:
			critical = true
			ctx.Warningf("%s: $%.2f is over the $%.2f budget", snap.Environment, snap.Amount, snap.Budget)
		case cost.Warning:
			ctx.Warningf("%s: $%.2f is %.0f%% of the $%.2f budget", snap.Environment, snap.Amount, snap.Percent(), snap.Budget)
		}
	}
	if c.export != "" {
		path := ctx.AbsPath(c.export)
		if err := cost.WriteReport(path, snaps...); err != nil {
			return errors.Trace(err)
		}
		ctx.Infof("Cost report written to %s", path)
	}
	if err := c.out.Write(ctx, snaps); err != nil {
		return errors.Trace(err)
	}
	if critical {
		return cmd.NewRcPassthroughError(failure.ExitGeneric)
	}
	return nil
}

func formatCostTabular(writer io.Writer, value interface{}) error {
	snaps, ok := value.([]cost.Snapshot)
	if !ok {
		return errors.Errorf("expected value of type %T, got %T", snaps, value)
	}
	return errors.Trace(cost.FormatReport(writer, snaps))
}
