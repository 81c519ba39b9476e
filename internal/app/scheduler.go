/**
 * @description
 * Cron scheduler setup for the two sweep jobs.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
	"github.com/wealthos/recurring-service/internal/config"
)

// Scheduler manages the cron entries for the sweeps.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config config.Config
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Start registers the sweeps and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.config.RecurringSweepSchedule, s.jobs.TriggerRecurringTransactions); err != nil {
		s.logger.Error("failed to schedule recurring transaction sweep", "error", err)
	} else {
		s.logger.Info("scheduled recurring transaction sweep", "schedule", s.config.RecurringSweepSchedule)
	}

	if _, err := s.cron.AddFunc(s.config.BudgetSweepSchedule, s.jobs.CheckBudgetAlerts); err != nil {
		s.logger.Error("failed to schedule budget alert sweep", "error", err)
	} else {
		s.logger.Info("scheduled budget alert sweep", "schedule", s.config.BudgetSweepSchedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler. The returned context is done once
// any in-flight sweep has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
