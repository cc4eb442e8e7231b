// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/juju/clock"
	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/webapp-demo/envctl/config"
	"github.com/webapp-demo/envctl/core/environment"
	"github.com/webapp-demo/envctl/core/status"
	"github.com/webapp-demo/envctl/domain/lifecycle"
	"github.com/webapp-demo/envctl/internal/provisioner"
)

const deployDoc = `
Deploy provisions an environment and ships the application to it.

The terraform state backend is created if it does not exist, the
infrastructure is planned and applied, the application image is built,
pushed and rolled out to the web app, and the deployment is validated.

With --cleanup-hours the environment is destroyed automatically once
that many hours have passed. The cleanup is run by a detached
"envctl scheduler" process started by deploy, unless --no-scheduler is
given, in which case a scheduler must be run separately.

A deploy left part way through by an earlier run is only resumed with
--force. --force also deploys when the estimated cost exceeds the
budget.
`

const deployExamples = `
    envctl deploy --env dev
    envctl deploy --env dev --cleanup-hours 2 --budget 5
    envctl deploy --env staging --skip-tests --force
`

// NewDeployCommand returns a command that deploys an environment.
func NewDeployCommand() cmd.Command {
	return newDeployCommand(nil, nil)
}

func newDeployCommand(open APIOpener, spawn schedulerSpawner) *deployCommand {
	if spawn == nil {
		spawn = spawnScheduler
	}
	return &deployCommand{
		baseCommand: newBaseCommand(open),
		spawn:       spawn,
		clock:       clock.WallClock,
	}
}

type deployCommand struct {
	baseCommand

	env          environment.Name
	cleanupHours float64
	budget       float64
	skipTests    bool
	force        bool
	noScheduler  bool

	spawn schedulerSpawner
	clock clock.Clock
}

// Info implements cmd.Command.
func (c *deployCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:     "deploy",
		Purpose:  "Deploy infrastructure and application to an environment.",
		Doc:      deployDoc,
		Examples: deployExamples,
		SeeAlso:  []string{"status", "cleanup", "cost"},
	}
}

// SetFlags implements cmd.Command.
func (c *deployCommand) SetFlags(f *gnuflag.FlagSet) {
	c.baseCommand.SetFlags(f)
	envFlag(f, &c.env, "Environment to deploy (dev, staging or prod)")
	f.Float64Var(&c.cleanupHours, "cleanup-hours", 0, "Destroy the environment after this many hours (0 keeps it)")
	f.Float64Var(&c.budget, "budget", 0, "Budget in USD checked against the estimated cost (default from envctl.yaml)")
	f.BoolVar(&c.skipTests, "skip-tests", false, "Skip the post-deploy validation checks")
	f.BoolVar(&c.force, "force", false, "Resume an interrupted deploy and ignore the budget")
	f.BoolVar(&c.noScheduler, "no-scheduler", false, "Do not start a scheduler process for the automatic cleanup")
}

// Init implements cmd.Command.
func (c *deployCommand) Init(args []string) error {
	if c.env == "" {
		return errors.New("--env is required")
	}
	if c.cleanupHours < 0 {
		return errors.NotValidf("--cleanup-hours %v", c.cleanupHours)
	}
	if c.budget < 0 {
		return errors.NotValidf("--budget %v", c.budget)
	}
	return cmd.CheckEmpty(args)
}

// Run implements cmd.Command.
func (c *deployCommand) Run(ctx *cmd.Context) error {
	stdCtx, cancel := interruptible(ctx)
	defer cancel()

	cfg, api, err := c.api(stdCtx, ctx)
	if err != nil {
		return reportError(ctx, "deploy", c.env, err)
	}
	defer closeAPI(api)

	opts := lifecycle.DeployOptions{
		CleanupAfter: time.Duration(c.cleanupHours * float64(time.Hour)),
		Budget:       c.budget,
		SkipTests:    c.skipTests,
		Force:        c.force,
	}
	if opts.Budget == 0 {
		opts.Budget = cfg.Budget
	}

	ctx.Infof("Deploying %s", c.env)
	started := c.clock.Now()
	rec, err := api.Deploy(stdCtx, c.env, opts)
	if err != nil {
		return reportError(ctx, "deploy", c.env, err)
	}

	fmt.Fprintf(ctx.Stdout, "Deployed %s: %s\n", c.env, rec.Status)
	if url := rec.Outputs[provisioner.OutputWebAppURL]; url != "" {
		fmt.Fprintf(ctx.Stdout, "URL: %s\n", url)
	}
	if rec.Image != "" {
		fmt.Fprintf(ctx.Stdout, "Image: %s\n", rec.Image)
	}
	if len(rec.Warnings) > 0 {
		ctx.Warningf("deployment of %s finished with warnings:\n%s", c.env, joinWarnings(rec.Warnings))
	}

	if rec.Status != status.CleanupScheduled {
		return nil
	}
	var requested time.Time
	if opts.CleanupAfter > 0 {
		requested = started.Add(opts.CleanupAfter)
	}
	if fireAt, ok := c.cleanupFireAt(stdCtx, api, requested); ok {
		fmt.Fprintf(ctx.Stdout, "Cleanup scheduled %s\n", humanize.RelTime(fireAt, c.clock.Now(), "ago", "from now"))
	} else {
		fmt.Fprintln(ctx.Stdout, "Cleanup scheduled")
	}
	if c.noScheduler {
		ctx.Infof("No scheduler started; run \"envctl scheduler\" to perform the cleanup")
		return nil
	}
	if err := c.spawn(ctx, cfg, c.configPath); err != nil {
		ctx.Warningf("cannot start the cleanup scheduler: %v", err)
		ctx.Warningf("run \"envctl scheduler --exit-when-idle\" to perform the cleanup")
	}
	return nil
}

// cleanupFireAt returns when the pending cleanup of the environment
// fires. A deploy without --cleanup-hours keeps an earlier schedule,
// so the stored schedule wins over the requested time.
func (c *deployCommand) cleanupFireAt(ctx context.Context, api LifecycleAPI, requested time.Time) (time.Time, bool) {
	schedules, err := api.Schedules(ctx)
	if err != nil {
		logger.Warningf("reading cleanup schedules: %v", err)
	}
	for _, sched := range schedules {
		if sched.Environment == c.env && !sched.Cancelled {
			return sched.FireAt, true
		}
	}
	return requested, !requested.IsZero()
}

// schedulerSpawner starts a scheduler process that outlives the
// command.
type schedulerSpawner func(ctx *cmd.Context, cfg *config.Config, configPath string) error

func closeAPI(api LifecycleAPI) {
	if err := api.Close(); err != nil {
		logger.Warningf("closing lifecycle API: %v", err)
	}
}
