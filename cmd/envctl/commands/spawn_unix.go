// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

//go:build !windows

package commands

import (
	"os/exec"
	"syscall"
)

// detach puts the command in its own session so that it survives the
// terminal closing.
func detach(command *exec.Cmd) {
	command.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
