/**
 * @description
 * Cron scheduler for the daily billing sweep.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/dineflow/billing-service/internal/config"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron    *cron.Cron
	sweeper *Sweeper
	logger  *slog.Logger
	config  config.Config
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(sweeper *Sweeper, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:    c,
		sweeper: sweeper,
		logger:  logger,
		config:  cfg,
	}
}

// Start registers the sweep job and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.config.SweepSchedule, s.runSweep); err != nil {
		s.logger.Error("failed to schedule billing sweep", "error", err)
	} else {
		s.logger.Info("scheduled billing sweep", "schedule", s.config.SweepSchedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) runSweep() {
	s.logger.Info("starting scheduled billing sweep")
	ctx := context.Background()

	if _, err := s.sweeper.RunSweep(ctx); err != nil {
		s.logger.Error("billing sweep failed", "error", err)
	}
}
