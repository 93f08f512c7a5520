package bot

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler runs periodic maintenance jobs.
type Scheduler struct {
	c   *cron.Cron
	log zerolog.Logger
}

// NewScheduler creates a cron scheduler. Jobs are skipped while their previous run is
// still going and panics are logged.
func NewScheduler(logger zerolog.Logger) *Scheduler {
	l := cronLogger{logger.With().Str("component", "cron").Logger()}
	return &Scheduler{
		c:   cron.New(cron.WithLogger(l), cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l))),
		log: l.log,
	}
}

// Add schedules fn under a cron spec such as "@every 30m".
func (s *Scheduler) Add(spec, name string, fn func()) error {
	if _, err := s.c.AddFunc(spec, func() {
		s.log.Debug().Str("job", name).Msg("running job")
		fn()
	}); err != nil {
		return fmt.Errorf("could not schedule %s (%q): %w", name, spec, err)
	}
	s.log.Info().Str("job", name).Str("schedule", spec).Msg("job scheduled")
	return nil
}

func (s *Scheduler) Start() {
	s.c.Start()
}

// Stop stops scheduling and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
