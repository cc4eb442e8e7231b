// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cost

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"
	"github.com/juju/errors"
	"github.com/juju/utils/v4"
)

// ReportEntry is the exported form of a snapshot.
type ReportEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	Project     string    `json:"project"`
	Environment string    `json:"environment"`
	Amount      float64   `json:"amount"`
	Budget      float64   `json:"budget"`
	Status      Status    `json:"status"`
	Currency    string    `json:"currency"`
	Source      Source    `json:"source"`
}

// Entry returns the exported form of s.
func (s Snapshot) Entry() ReportEntry {
	return ReportEntry{
		Timestamp:   s.ObservedAt.UTC(),
		Project:     s.Project,
		Environment: string(s.Environment),
		Amount:      round(s.Amount),
		Budget:      s.Budget,
		Status:      s.Status,
		Currency:    s.Currency,
		Source:      s.Source,
	}
}

func round(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

// WriteReport replaces the report at path with snapshots.
func WriteReport(path string, snapshots ...Snapshot) error {
	entries := make([]ReportEntry, len(snapshots))
	for i, s := range snapshots {
		entries[i] = s.Entry()
	}
	return errors.Trace(writeEntries(path, entries))
}

// AppendReport adds snapshots to the report at path, creating it if
// necessary.
func AppendReport(path string, snapshots ...Snapshot) error {
	entries, err := ReadReport(path)
	if err != nil && !errors.Is(err, errors.NotFound) {
		return errors.Trace(err)
	}
	for _, s := range snapshots {
		entries = append(entries, s.Entry())
	}
	return errors.Trace(writeEntries(path, entries))
}

// ReadReport returns the entries of the report at path.
func ReadReport(path string) ([]ReportEntry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.NotFoundf("cost report %q", path)
	} else if err != nil {
		return nil, errors.Annotatef(err, "reading cost report")
	}
	var entries []ReportEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.Annotatef(err, "parsing cost report %q", path)
	}
	return entries, nil
}

func writeEntries(path string, entries []ReportEntry) error {
	if entries == nil {
		entries = []ReportEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return errors.Trace(err)
	}
	if err := utils.AtomicWriteFile(path, append(data, '\n'), 0644); err != nil {
		return errors.Annotatef(err, "writing cost report %q", path)
	}
	return nil
}

// FormatReport writes a human readable report of snapshots.
func FormatReport(w io.Writer, snapshots []Snapshot) error {
	table := uitable.New()
	table.MaxColWidth = 50
	table.Wrap = true

	table.AddRow("Environment", "Cost", "Budget", "Usage", "Status", "Source", "Period")
	for _, s := range snapshots {
		budget, usage := "-", "-"
		if s.Budget > 0 {
			budget = money(s.Budget, s.Currency)
			usage = fmt.Sprintf("%.1f%%", s.Percent())
		}
		table.AddRow(s.Environment, money(s.Amount, s.Currency), budget, usage, s.Status, s.Source, s.Period)
	}
	if _, err := fmt.Fprintln(w, table); err != nil {
		return errors.Trace(err)
	}

	for _, s := range snapshots {
		if len(s.Breakdown) == 0 {
			continue
		}
		detail := uitable.New()
		detail.MaxColWidth = 40
		detail.RightAlign(2)
		detail.AddRow("Resource", "Type", "Cost")
		for _, line := range s.Breakdown {
			detail.AddRow(line.Name, lastSegment(line.Type), money(line.Amount, s.Currency))
		}
		if _, err := fmt.Fprintf(w, "\n%s:\n%s\n", s.Environment, detail); err != nil {
			return errors.Trace(err)
		}
	}

	for _, s := range snapshots {
		if s.Source == Heuristic {
			_, err := fmt.Fprintln(w, "\nNote: some costs are estimated from deployed resources. Billing data may take 24-48 hours to appear.")
			return errors.Trace(err)
		}
	}
	return nil
}

func money(v float64, currency string) string {
	symbol := "$"
	if currency != "" && currency != "USD" {
		symbol = currency + " "
	}
	return symbol + humanize.FormatFloat("#,###.##", v)
}

func lastSegment(resourceType string) string {
	if i := strings.LastIndex(resourceType, "/"); i >= 0 {
		return resourceType[i+1:]
	}
	return resourceType
}
