// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package commands

import (
	"context"
	"io"

	"github.com/juju/clock"
	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo"
	"github.com/juju/lumberjack/v2"
	"github.com/juju/worker/v4"

	"github.com/webapp-demo/envctl/config"
	"github.com/webapp-demo/envctl/worker/cleanupscheduler"
)

const schedulerDoc = `
Scheduler runs the cleanups scheduled by "deploy --cleanup-hours" when
they are due. Schedules added, replaced or cancelled while it runs are
picked up immediately.

Deploy starts a scheduler with --exit-when-idle by itself; run one by
hand after "deploy --no-scheduler", or to keep one running.

With --log-file the output goes to a file rotated once it grows past
10 MB.
`

const (
	logFileMaxSizeMB  = 10
	logFileMaxBackups = 2
)

// SchedulerOpener starts a cleanup scheduler for the project described
// by cfg. The closer is called once the worker has stopped.
type SchedulerOpener func(ctx context.Context, cfg *config.Config, exitWhenIdle bool) (worker.Worker, io.Closer, error)

// NewSchedulerCommand returns a command that runs scheduled cleanups.
func NewSchedulerCommand() cmd.Command {
	return newSchedulerCommand(nil)
}

func newSchedulerCommand(open SchedulerOpener) *schedulerCommand {
	if open == nil {
		open = OpenScheduler
	}
	return &schedulerCommand{
		baseCommand:   newBaseCommand(nil),
		openScheduler: open,
	}
}

type schedulerCommand struct {
	baseCommand

	exitWhenIdle  bool
	logFile       string
	openScheduler SchedulerOpener
}

// Info implements cmd.Command.
func (c *schedulerCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "scheduler",
		Purpose: "Run scheduled cleanups when they are due.",
		Doc:     schedulerDoc,
		SeeAlso: []string{"deploy", "cleanup"},
	}
}

// SetFlags implements cmd.Command.
func (c *schedulerCommand) SetFlags(f *gnuflag.FlagSet) {
	c.baseCommand.SetFlags(f)
	f.BoolVar(&c.exitWhenIdle, "exit-when-idle", false, "Exit once no cleanup is pending")
	f.StringVar(&c.logFile, "log-file", "", "Write output to this rotated log file")
}

// Init implements cmd.Command.
func (c *schedulerCommand) Init(args []string) error {
	return cmd.CheckEmpty(args)
}

// Run implements cmd.Command.
func (c *schedulerCommand) Run(ctx *cmd.Context) error {
	if c.logFile != "" {
		restore, err := c.redirectLog(ctx)
		if err != nil {
			return errors.Trace(err)
		}
		defer restore()
	}

	stdCtx, cancel := interruptible(ctx)
	defer cancel()

	cfg, err := c.config(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	w, closer, err := c.openScheduler(stdCtx, cfg, c.exitWhenIdle)
	if err != nil {
		return errors.Trace(err)
	}
	defer func() {
		if err := closer.Close(); err != nil {
			logger.Warningf("closing scheduler: %v", err)
		}
	}()

	ctx.Infof("Cleanup scheduler running")
	done := make(chan error, 1)
	go func() {
		done <- w.Wait()
	}()
	select {
	case err = <-done:
	case <-stdCtx.Done():
		w.Kill()
		err = <-done
	}
	if err != nil {
		return errors.Annotate(err, "cleanup scheduler")
	}
	ctx.Infof("Cleanup scheduler stopped")
	return nil
}

// redirectLog sends the command output and the log to a rotating log
// file, and returns a function undoing it.
func (c *schedulerCommand) redirectLog(ctx *cmd.Context) (func(), error) {
	ljLogger := &lumberjack.Logger{
		Filename:   ctx.AbsPath(c.logFile),
		MaxSize:    logFileMaxSizeMB,
		MaxBackups: logFileMaxBackups,
		Compress:   true,
	}
	previous, err := loggo.ReplaceDefaultWriter(loggo.NewSimpleWriter(ljLogger, loggo.DefaultFormatter))
	if err != nil {
		return nil, errors.Annotate(err, "redirecting log")
	}
	stdout, stderr := ctx.Stdout, ctx.Stderr
	ctx.Stdout, ctx.Stderr = ljLogger, ljLogger
	logger.Debugf("logging to %q, rotated at %d MB", ljLogger.Filename, ljLogger.MaxSize)
	return func() {
		ctx.Stdout, ctx.Stderr = stdout, stderr
		_, _ = loggo.ReplaceDefaultWriter(previous)
		_ = ljLogger.Close()
	}, nil
}

// OpenScheduler starts the cleanup scheduler of the project described
// by cfg, firing cleanups through the lifecycle service.
func OpenScheduler(ctx context.Context, cfg *config.Config, exitWhenIdle bool) (worker.Worker, io.Closer, error) {
	s, err := newStack(ctx, cfg)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	w, err := cleanupscheduler.New(cleanupscheduler.Config{
		Source: s.state,
		Watch: func() (cleanupscheduler.NotifyWatcher, error) {
			watcher, err := s.state.WatchSchedules()
			if err != nil {
				return nil, errors.Trace(err)
			}
			return watcher, nil
		},
		Firer:        s.Service,
		Clock:        clock.WallClock,
		Logger:       loggo.GetLogger("envctl.worker.cleanupscheduler"),
		ExitWhenIdle: exitWhenIdle,
	})
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	return w, s, nil
}
