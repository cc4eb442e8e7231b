// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cost

import (
	"time"

	"github.com/webapp-demo/envctl/core/environment"
)

// Status classifies spend against a budget.
type Status string

const (
	OK       Status = "ok"
	Warning  Status = "warning"
	Critical Status = "critical"
)

const (
	// WarningPercent is the share of the budget at which spend is a warning.
	WarningPercent = 80.0
	// CriticalPercent is the share of the budget at which spend is critical.
	CriticalPercent = 100.0
)

// Classify returns the status of amount against budget. A zero budget
// disables the check.
func Classify(amount, budget float64) Status {
	if budget <= 0 {
		return OK
	}
	percent := amount / budget * 100
	switch {
	case percent >= CriticalPercent:
		return Critical
	case percent >= WarningPercent:
		return Warning
	}
	return OK
}

// Source records how a snapshot amount was obtained.
type Source string

const (
	// Estimated amounts come from the static pricing table.
	Estimated Source = "estimate"
	// Actual amounts come from billing data.
	Actual Source = "actual"
	// Usage amounts are summed from consumption usage records.
	Usage Source = "usage"
	// Heuristic amounts are derived from the live resource inventory,
	// or from a per environment default when that is unavailable.
	Heuristic Source = "heuristic"
)

// Line is one priced component of a snapshot.
type Line struct {
	Name   string  `yaml:"name" json:"name"`
	Type   string  `yaml:"type" json:"type"`
	Amount float64 `yaml:"amount" json:"amount"`
}

// Snapshot is the cost of an environment at a point in time. Snapshots
// are never modified once taken.
type Snapshot struct {
	Project     string           `yaml:"project" json:"project"`
	Environment environment.Name `yaml:"environment" json:"environment"`
	ObservedAt  time.Time        `yaml:"observed-at" json:"observed-at"`
	Amount      float64          `yaml:"amount" json:"amount"`
	Currency    string           `yaml:"currency" json:"currency"`
	Budget      float64          `yaml:"budget,omitempty" json:"budget,omitempty"`
	Status      Status           `yaml:"status" json:"status"`
	Source      Source           `yaml:"source" json:"source"`
	Period      string           `yaml:"period" json:"period"`
	Breakdown   []Line           `yaml:"breakdown,omitempty" json:"breakdown,omitempty"`
}

// WithBudget returns a copy of s classified against budget.
func (s Snapshot) WithBudget(budget float64) Snapshot {
	s.Budget = budget
	s.Status = Classify(s.Amount, budget)
	s.Breakdown = append([]Line(nil), s.Breakdown...)
	return s
}

// Percent returns the share of the budget spent, or zero without one.
func (s Snapshot) Percent() float64 {
	if s.Budget <= 0 {
		return 0
	}
	return s.Amount / s.Budget * 100
}
