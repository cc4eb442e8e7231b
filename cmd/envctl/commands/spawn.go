// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package commands

import (
	"os"
	"os/exec"
	"path/filepath"

	"github.com/juju/cmd/v3"
	"github.com/juju/errors"

	"github.com/webapp-demo/envctl/config"
)

const schedulerLog = "scheduler.log"

// spawnScheduler starts "envctl scheduler --exit-when-idle" detached
// from the terminal, logging to the state directory. The process exits
// once no cleanup is pending.
func spawnScheduler(ctx *cmd.Context, cfg *config.Config, configPath string) error {
	self, err := os.Executable()
	if err != nil {
		return errors.Annotate(err, "locating envctl")
	}
	logPath := filepath.Join(cfg.StateDirPath(), schedulerLog)
	command := exec.Command(self, schedulerArgs(ctx, configPath, logPath)...)
	command.Dir = ctx.Dir
	detach(command)
	if err := command.Start(); err != nil {
		return errors.Annotate(err, "starting scheduler")
	}
	ctx.Infof("Started cleanup scheduler (pid %d), logging to %s", command.Process.Pid, logPath)
	return errors.Trace(command.Process.Release())
}

func schedulerArgs(ctx *cmd.Context, configPath, logPath string) []string {
	args := []string{"scheduler", "--exit-when-idle", "--log-file", logPath}
	if configPath != "" {
		args = append(args, "--config", ctx.AbsPath(configPath))
	}
	return args
}
