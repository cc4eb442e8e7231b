// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package commands

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/juju/cmd/v3"
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	envctlcmd "github.com/webapp-demo/envctl/cmd"
	"github.com/webapp-demo/envctl/core/environment"
	"github.com/webapp-demo/envctl/core/inventory"
	"github.com/webapp-demo/envctl/domain/lifecycle"
	lifecycleerrors "github.com/webapp-demo/envctl/domain/lifecycle/errors"
)

const cleanupDoc = `
Cleanup destroys every resource of an environment: terraform destroys
what it manages, then anything left in the resource group is deleted
directly and soft-deleted key vaults of the environment are purged.
The environment is inventoried again afterwards to verify that nothing
remains. Cleaning an environment that is already empty succeeds.

Unless --force is given, the resources are listed and the environment
name must be typed back to confirm. Without a terminal, --force is
required.

--cancel-auto cancels the scheduled automatic cleanup of the
environment, or of every environment when --env is not given. It
always succeeds; a cleanup that has already started cannot be
cancelled.
`

const cleanupExamples = `
    envctl cleanup --env dev
    envctl cleanup --env dev --force --cost-report
    envctl cleanup --cancel-auto
`

// NewCleanupCommand returns a command that destroys an environment.
func NewCleanupCommand() cmd.Command {
	return newCleanupCommand(nil)
}

func newCleanupCommand(open APIOpener) *cleanupCommand {
	return &cleanupCommand{
		baseCommand: newBaseCommand(open),
		isTerminal:  isTerminal,
	}
}

type cleanupCommand struct {
	baseCommand

	env        environment.Name
	force      bool
	costReport bool
	cancelAuto bool

	isTerminal func(io.Reader) bool
}

// Info implements cmd.Command.
func (c *cleanupCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:     "cleanup",
		Purpose:  "Destroy an environment, or cancel its scheduled cleanup.",
		Doc:      cleanupDoc,
		Examples: cleanupExamples,
		SeeAlso:  []string{"deploy", "status", "scheduler"},
	}
}

// SetFlags implements cmd.Command.
func (c *cleanupCommand) SetFlags(f *gnuflag.FlagSet) {
	c.baseCommand.SetFlags(f)
	envFlag(f, &c.env, "Environment to clean up (dev, staging or prod)")
	f.BoolVar(&c.force, "force", false, "Do not ask for confirmation")
	f.BoolVar(&c.costReport, "cost-report", false, "Append the cost of the environment to the cost report")
	f.BoolVar(&c.cancelAuto, "cancel-auto", false, "Cancel the scheduled automatic cleanup instead")
}

// Init implements cmd.Command.
func (c *cleanupCommand) Init(args []string) error {
	if c.cancelAuto {
		if c.force || c.costReport {
			return errors.New("--cancel-auto cannot be combined with --force or --cost-report")
		}
	} else if c.env == "" {
		return errors.New("--env is required")
	}
	return cmd.CheckEmpty(args)
}

// Run implements cmd.Command.
func (c *cleanupCommand) Run(ctx *cmd.Context) error {
	if c.cancelAuto {
		c.cancel(ctx)
		return nil
	}

	stdCtx, cancel := interruptible(ctx)
	defer cancel()

	_, api, err := c.api(stdCtx, ctx)
	if err != nil {
		return reportError(ctx, "cleanup", c.env, err)
	}
	defer closeAPI(api)

	opts := lifecycle.CleanupOptions{
		Force:      c.force,
		CostReport: c.costReport,
	}
	if !c.force {
		opts.Confirm = c.confirm(ctx)
	}
	result, err := api.Cleanup(stdCtx, c.env, opts)
	if errors.Is(err, lifecycleerrors.ConfirmationDeclined) {
		fmt.Fprintf(ctx.Stderr, "Cleanup of %s aborted: %v\n", c.env, err)
		return cmd.ErrSilent
	} else if err != nil {
		return reportError(ctx, "cleanup", c.env, err)
	}
	printCleanup(ctx.Stdout, result)
	return nil
}

// cancel cancels scheduled cleanups. Problems are reported as warnings:
// cancelling never fails.
func (c *cleanupCommand) cancel(ctx *cmd.Context) {
	stdCtx, cancel := interruptible(ctx)
	defer cancel()

	_, api, err := c.api(stdCtx, ctx)
	if err != nil {
		ctx.Warningf("cannot cancel scheduled cleanups: %v", err)
		return
	}
	defer closeAPI(api)

	envs := []environment.Name{c.env}
	if c.env == "" {
		scheds, err := api.Schedules(stdCtx)
		if err != nil {
			ctx.Warningf("cannot list scheduled cleanups: %v", err)
			return
		}
		names := set.NewStrings()
		for _, sched := range scheds {
			names.Add(string(sched.Environment))
		}
		envs = envs[:0]
		for _, name := range names.SortedValues() {
			envs = append(envs, environment.Name(name))
		}
	}
	if len(envs) == 0 {
		fmt.Fprintln(ctx.Stdout, "No cleanup is scheduled")
		return
	}

	for _, name := range envs {
		cancelled, err := api.CancelCleanup(stdCtx, name)
		switch {
		case errors.Is(err, lifecycleerrors.CleanupAlreadyStarted):
			ctx.Warningf("too late to cancel the cleanup of %s: it has already started", name)
		case err != nil:
			ctx.Warningf("cannot cancel the cleanup of %s: %v", name, err)
		case cancelled:
			fmt.Fprintf(ctx.Stdout, "Cancelled the scheduled cleanup of %s\n", name)
		default:
			fmt.Fprintf(ctx.Stdout, "No cleanup is scheduled for %s\n", name)
		}
	}
}

// confirm lists what is about to be destroyed and requires the name of
// the environment to be typed back.
func (c *cleanupCommand) confirm(ctx *cmd.Context) func(inventory.Inventory) error {
	return func(inv inventory.Inventory) error {
		if !c.isTerminal(ctx.Stdin) {
			return errors.Annotate(lifecycleerrors.ConfirmationDeclined, "no terminal to confirm on, use --force")
		}
		fmt.Fprintf(ctx.Stderr, "The following %d resources of %s will be destroyed:\n", inv.Len(), c.env)
		printInventory(ctx.Stderr, inv)
		fmt.Fprintf(ctx.Stderr, "\nType %q to continue: ", c.env)

		line, err := bufio.NewReader(ctx.Stdin).ReadString('\n')
		if err != nil && err != io.EOF {
			return errors.Annotate(err, "reading confirmation")
		}
		if strings.TrimSpace(line) != string(c.env) {
			return errors.Annotatef(lifecycleerrors.ConfirmationDeclined, "%q typed", strings.TrimSpace(line))
		}
		return nil
	}
}

func printInventory(writer io.Writer, inv inventory.Inventory) {
	tw := envctlcmd.TabWriter(writer)
	w := envctlcmd.Wrapper{TabWriter: tw}
	w.Println("Name", "Type")
	for _, e := range inv.Sorted() {
		w.Println(e.Name, e.Type)
	}
	_ = tw.Flush()
}

func printCleanup(writer io.Writer, result lifecycle.CleanupResult) {
	if result.NothingToClean {
		fmt.Fprintf(writer, "Nothing to clean in %s\n", result.Environment)
		return
	}
	fmt.Fprintf(writer, "Deleted %d resources of %s\n", result.Destroy.DeletedCount, result.Environment)
	for _, vault := range result.Destroy.PurgedVaults {
		fmt.Fprintf(writer, "Purged key vault %s\n", vault)
	}
	if result.Cost != nil {
		fmt.Fprintf(writer, "Cost this month: $%.2f %s (%s)\n", result.Cost.Amount, result.Cost.Currency, result.Cost.Source)
	}
}
