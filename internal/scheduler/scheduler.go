// Package scheduler runs unattended full pipeline executions on a cron
// schedule.
package scheduler

import (
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// RunFunc executes one full pipeline run and returns its run ID.
type RunFunc func() (string, error)

// Scheduler triggers pipeline runs on a cron schedule. At most one
// scheduled run is in flight at a time: a tick that lands while the
// previous run is still going is skipped, never queued, since stacked
// runs would fight over the same job names and shared volume.
type Scheduler struct {
	cron    *cron.Cron
	log     zerolog.Logger
	running atomic.Bool
}

// New creates a new scheduler.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops the scheduler and waits for a running tick to return.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// SchedulePipeline registers run on a cron schedule, e.g. "@daily" or
// "0 3 * * *".
func (s *Scheduler) SchedulePipeline(schedule string, run RunFunc) error {
	if _, err := s.cron.AddFunc(schedule, s.tick(run)); err != nil {
		return err
	}

	s.log.Info().Str("schedule", schedule).Msg("Pipeline runs scheduled")
	return nil
}

// tick wraps a pipeline run with the single-flight guard and outcome
// logging.
func (s *Scheduler) tick(run RunFunc) func() {
	return func() {
		if !s.running.CompareAndSwap(false, true) {
			s.log.Warn().Msg("Previous scheduled run still in flight, skipping this tick")
			return
		}
		defer s.running.Store(false)

		start := time.Now()
		s.log.Info().Msg("Scheduled pipeline run starting")

		runID, err := run()
		if err != nil {
			s.log.Error().
				Err(err).
				Str("run_id", runID).
				Dur("elapsed", time.Since(start)).
				Msg("Scheduled pipeline run failed")
			return
		}

		s.log.Info().
			Str("run_id", runID).
			Dur("elapsed", time.Since(start)).
			Msg("Scheduled pipeline run completed")
	}
}
