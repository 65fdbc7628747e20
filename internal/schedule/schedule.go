// Package schedule drives the collection cadence: hourly cycles, minute
// live sampling staggered across exchanges, and the per-second refresher
// check. All times are UTC.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	// Cycles fire at second 5 so venues that settle exactly on the hour
	// have published the fresh point by the time we ask.
	hourlySpec = "5 0 * * * *"

	tickSpec = "* * * * * *"
)

// Scheduler wraps the cron runner. Jobs never overlap themselves: a
// firing that would land on a still-running previous firing is skipped.
type Scheduler struct {
	cron      *cron.Cron
	log       zerolog.Logger
	immediate []cron.Job
}

// New builds an empty scheduler.
func New(log zerolog.Logger) *Scheduler {
	cl := cronLogger{log: log}
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
		),
		log: log,
	}
}

// AddExchange schedules one exchange: a full cycle immediately at
// startup and hourly after that, plus live sampling every minute at this
// exchange's staggered second.
func (s *Scheduler) AddExchange(id string, update, updateLive func(), idx, total int) error {
	ujob := s.wrap(update)
	if _, err := s.cron.AddJob(hourlySpec, ujob); err != nil {
		return fmt.Errorf("schedule hourly cycle for %s: %w", id, err)
	}
	s.immediate = append(s.immediate, ujob)

	sec := stagger(idx, total)
	ljob := s.wrap(updateLive)
	if _, err := s.cron.AddJob(fmt.Sprintf("%d * * * * *", sec), ljob); err != nil {
		return fmt.Errorf("schedule live collection for %s: %w", id, err)
	}
	s.log.Debug().Str("exchange", id).Int("live_second", sec).Msg("Exchange scheduled")
	return nil
}

// AddTick schedules a per-second check, used for the materialized view
// refresher.
func (s *Scheduler) AddTick(tick func()) error {
	if _, err := s.cron.AddJob(tickSpec, s.wrap(tick)); err != nil {
		return fmt.Errorf("schedule per-second tick: %w", err)
	}
	return nil
}

// Start fires every exchange's immediate startup cycle, then begins the
// cron loop. The startup run and the hourly entry share one job, so an
// hourly firing landing mid-startup-run is skipped rather than doubled.
func (s *Scheduler) Start() {
	for _, job := range s.immediate {
		go job.Run()
	}
	s.cron.Start()
}

// Stop halts future firings. The returned context completes when all
// running jobs have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) wrap(fn func()) cron.Job {
	cl := cronLogger{log: s.log}
	return cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(fn))
}

// stagger spreads the n exchanges' live jobs across the minute: the
// idx-th exchange fires at second idx*(60/n). With more than 60
// exchanges the step floors to zero and everyone shares second 0.
func stagger(idx, n int) int {
	if n <= 0 {
		return 0
	}
	return idx * (60 / n)
}

// cronLogger adapts zerolog to the cron logger interface. The runner's
// own chatter (schedule wakes, skip notices) stays at debug.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
