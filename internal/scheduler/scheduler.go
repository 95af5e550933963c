// Package scheduler triggers the daily digest at a fixed hour in the
// configured timezone using robfig/cron. Overlapping runs are skipped and a
// panicking job is recovered by the cron chain.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Job is the unit of work triggered by the schedule.
type Job func(ctx context.Context) error

// Scheduler owns one cron entry.
type Scheduler struct {
	cron   *cron.Cron
	entry  cron.EntryID
	spec   string
	ctx    context.Context
	cancel context.CancelFunc
}

// Spec returns the cron expression firing every day at hour:00.
func Spec(hour int) string {
	return fmt.Sprintf("0 %d * * *", hour)
}

// New schedules job daily at hour:00 in loc.
func New(loc *time.Location, hour int, job Job) (*Scheduler, error) {
	if hour < 0 || hour > 23 {
		return nil, fmt.Errorf("hour %d out of range", hour)
	}
	return newWithSpec(loc, Spec(hour), job)
}

func newWithSpec(loc *time.Location, spec string, job Job) (*Scheduler, error) {
	if job == nil {
		return nil, errors.New("nil job")
	}
	if loc == nil {
		loc = time.Local
	}
	lg := cronLogger{}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(lg),
		cron.WithChain(cron.SkipIfStillRunning(lg), cron.Recover(lg)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{cron: c, spec: spec, ctx: ctx, cancel: cancel}

	id, err := c.AddFunc(spec, func() { s.run(job) })
	if err != nil {
		cancel()
		return nil, fmt.Errorf("schedule %q: %w", spec, err)
	}
	s.entry = id
	return s, nil
}

func (s *Scheduler) run(job Job) {
	start := time.Now()
	log.Info().Str("schedule", s.spec).Msg("scheduled job started")
	if err := job(s.ctx); err != nil {
		log.Error().Err(err).Dur("took", time.Since(start)).Msg("scheduled job failed")
		return
	}
	log.Info().Dur("took", time.Since(start)).Msg("scheduled job finished")
}

// Start begins firing in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Info().Str("schedule", s.spec).Time("next", s.Next()).Msg("scheduler started")
}

// Next returns the next activation time, or zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Stop prevents further activations, cancels a running job's context and
// waits for it to return or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger routes cron's internal logging to zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Str("component", "cron").Fields(keysAndValues).Msg(msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Str("component", "cron").Fields(keysAndValues).Msg(msg)
}
