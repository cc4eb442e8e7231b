// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package commands

import (
	"github.com/juju/cmd/v3"
	"github.com/juju/collections/set"
	"github.com/juju/testing"
	gc "gopkg.in/check.v1"
)

type mainSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&mainSuite{})

type recordingRegistry struct {
	names []string
}

func (r *recordingRegistry) Register(c cmd.Command) {
	r.names = append(r.names, c.Info().Name)
}

func (s *mainSuite) TestRegisteredCommands(c *gc.C) {
	var r recordingRegistry
	registerCommands(&r)
	c.Check(set.NewStrings(r.names...).SortedValues(), gc.DeepEquals, []string{
		"bootstrap-backend",
		"cleanup",
		"cost",
		"deploy",
		"scheduler",
		"status",
	})
}

func (s *mainSuite) TestHelpCommands(c *gc.C) {
	code := Main([]string{"envctl", "help", "commands"})
	c.Check(code, gc.Equals, 0)
}

func (s *mainSuite) TestUnknownCommand(c *gc.C) {
	code := Main([]string{"envctl", "upgrade"})
	c.Check(code, gc.Equals, 2)
}
