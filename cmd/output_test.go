// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cmd_test

import (
	"bytes"

	"github.com/juju/cmd/v3"
	"github.com/juju/cmd/v3/cmdtesting"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	envctlcmd "github.com/webapp-demo/envctl/cmd"
	"github.com/webapp-demo/envctl/core/status"
)

type outputSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&outputSuite{})

func (s *outputSuite) TestWrapper(c *gc.C) {
	var buf bytes.Buffer
	tw := envctlcmd.TabWriter(&buf)
	w := envctlcmd.Wrapper{TabWriter: tw}
	w.Println("Environment", "State", "Resources")
	w.Print("dev")
	w.PrintStatus(status.Validated)
	w.Println(9)
	w.Print("staging")
	w.PrintColor(nil, "idle")
	w.Println(0)
	c.Assert(tw.Flush(), jc.ErrorIsNil)
	c.Check(buf.String(), gc.Equals, ""+
		"Environment  State      Resources\n"+
		"dev          validated  9\n"+
		"staging      idle       0\n")
}

func (s *outputSuite) TestEveryStatusHasAColour(c *gc.C) {
	for _, st := range status.All {
		c.Check(envctlcmd.StatusColor[st], gc.NotNil, gc.Commentf("%s", st))
	}
}

type versionSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&versionSuite{})

func (s *versionSuite) TestVersion(c *gc.C) {
	super := envctlcmd.NewSuperCommand(cmd.SuperCommandParams{Name: "envctl"})
	ctx, err := cmdtesting.RunCommand(c, super, "version")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cmdtesting.Stdout(ctx), gc.Equals, envctlcmd.Version+"\n")
}
