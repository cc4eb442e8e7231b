// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package service

import (
	"context"

	"github.com/juju/errors"

	"github.com/webapp-demo/envctl/core/environment"
	"github.com/webapp-demo/envctl/internal/cost"
)

// EstimateCost returns what running the environment for hours would
// cost, classified against budget. A zero budget classifies nothing.
func (s *Service) EstimateCost(name environment.Name, hours, budget float64) (cost.Snapshot, error) {
	if hours <= 0 {
		return cost.Snapshot{}, errors.NotValidf("cost window of %v hours", hours)
	}
	if budget < 0 {
		return cost.Snapshot{}, errors.NotValidf("negative budget %v", budget)
	}
	env, err := s.config.Environments(name)
	if err != nil {
		return cost.Snapshot{}, errors.Trace(err)
	}
	return s.config.Cost.Estimate(env, hours).WithBudget(budget), nil
}

// ActualCost returns the month to date cost of the environment,
// classified against budget.
func (s *Service) ActualCost(ctx context.Context, name environment.Name, budget float64) (cost.Snapshot, error) {
	if budget < 0 {
		return cost.Snapshot{}, errors.NotValidf("negative budget %v", budget)
	}
	env, err := s.config.Environments(name)
	if err != nil {
		return cost.Snapshot{}, errors.Trace(err)
	}
	snap, err := s.config.Cost.Actual(ctx, env)
	if err != nil {
		return cost.Snapshot{}, errors.Annotatef(err, "measuring cost of %s", name)
	}
	snap = snap.WithBudget(budget)
	s.config.Metrics.SetCost(string(name), string(snap.Source), snap.Amount)
	if snap.Status != cost.OK {
		logger.Warningf("%s has spent $%.2f, %.0f%% of the $%.2f budget", name, snap.Amount, snap.Percent(), budget)
	}
	return snap, nil
}
