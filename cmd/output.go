// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cmd

import (
	"fmt"
	"io"

	"github.com/juju/ansiterm"

	"github.com/webapp-demo/envctl/core/status"
)

// StatusColor is the colour each lifecycle state is printed in.
var StatusColor = map[status.Status]*ansiterm.Context{
	status.Idle:             ansiterm.Foreground(ansiterm.Default),
	status.BackendReady:     ansiterm.Foreground(ansiterm.BrightBlue),
	status.Provisioned:      ansiterm.Foreground(ansiterm.BrightBlue),
	status.AppDeployed:      ansiterm.Foreground(ansiterm.BrightBlue),
	status.Validated:        ansiterm.Foreground(ansiterm.Green),
	status.CleanupScheduled: ansiterm.Foreground(ansiterm.Yellow),
	status.Destroying:       ansiterm.Foreground(ansiterm.Yellow),
	status.Destroyed:        ansiterm.Foreground(ansiterm.Default),
	status.Error:            ansiterm.Foreground(ansiterm.BrightRed),
}

// TabWriter returns a writer aligning tab separated columns, with
// colour when the underlying writer is a terminal.
func TabWriter(writer io.Writer) *ansiterm.TabWriter {
	const (
		minwidth = 0
		tabwidth = 1
		padding  = 2
		padchar  = ' '
		flags    = 0
	)
	return ansiterm.NewTabWriter(writer, minwidth, tabwidth, padding, padchar, flags)
}

// Wrapper prints rows of cells to a TabWriter.
type Wrapper struct {
	*ansiterm.TabWriter
}

// Print writes each value as a cell.
func (w *Wrapper) Print(values ...interface{}) {
	for _, v := range values {
		fmt.Fprintf(w, "%v\t", v)
	}
}

// PrintColor writes value as a cell in the colour of ctx.
func (w *Wrapper) PrintColor(ctx *ansiterm.Context, value interface{}) {
	if ctx == nil {
		w.Print(value)
		return
	}
	ctx.Fprintf(w.TabWriter, "%v\t", value)
}

// PrintStatus writes st as a cell in its colour.
func (w *Wrapper) PrintStatus(st status.Status) {
	w.PrintColor(StatusColor[st], st)
}

// Println writes values as cells and ends the row.
func (w *Wrapper) Println(values ...interface{}) {
	for i, v := range values {
		if i != len(values)-1 {
			fmt.Fprintf(w, "%v\t", v)
		} else {
			fmt.Fprintf(w, "%v", v)
		}
	}
	fmt.Fprintln(w)
}
