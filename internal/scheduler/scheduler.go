package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"courtbook/internal/metrics"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

const (
	JobExpireOverdueHolds = "expire_overdue_holds"
	JobCompleteFinished   = "complete_finished_bookings"
	JobHoldExpiryAlerts   = "hold_expiry_alerts"
	JobLateCheckInAlerts  = "late_checkin_alerts"
	JobBackup             = "database_backup"
)

const taskTimeout = 2 * time.Minute

var (
	ErrEmptyJobName = errors.New("job name is required")
	ErrBadInterval  = errors.New("job interval must be positive")
)

// Task is one run of a periodic job. The count is logged.
type Task func(ctx context.Context) (int, error)

// Service wraps a gocron scheduler for the periodic sweeps.
type Service struct {
	scheduler gocron.Scheduler
	clock     clockwork.Clock
	logger    *zerolog.Logger
	stopOnce  sync.Once
	stopErr   error
}

// New creates a stopped scheduler driven by clock.
func New(clock clockwork.Clock, logger *zerolog.Logger) (*Service, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	sched, err := gocron.NewScheduler(
		gocron.WithClock(clock),
		gocron.WithLocation(time.UTC),
		gocron.WithGlobalJobOptions(
			gocron.WithEventListeners(
				gocron.AfterJobRunsWithPanic(func(jobID uuid.UUID, jobName string, recoverData any) {
					logger.Error().
						Str("job_id", jobID.String()).
						Str("job_name", jobName).
						Interface("panic", recoverData).
						Msg("Scheduler job panicked")
				}),
			),
		),
	)
	if err != nil {
		return nil, err
	}
	return &Service{scheduler: sched, clock: clock, logger: logger}, nil
}

func (s *Service) Start() {
	s.logger.Info().Int("jobs", len(s.scheduler.Jobs())).Msg("Scheduler starting")
	s.scheduler.Start()
}

// Stop shuts the scheduler down. Safe to call more than once.
func (s *Service) Stop() error {
	s.stopOnce.Do(func() {
		s.logger.Info().Msg("Scheduler stopping")
		s.stopErr = s.scheduler.Shutdown()
	})
	return s.stopErr
}

// JobNames lists registered jobs.
func (s *Service) JobNames() []string {
	jobs := s.scheduler.Jobs()
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Name())
	}
	return names
}

// AddJob registers a task that runs every interval. Overlapping runs of the
// same job are skipped, and the first run happens right after Start.
func (s *Service) AddJob(name string, every time.Duration, task Task) (gocron.Job, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrEmptyJobName
	}
	if every <= 0 {
		return nil, ErrBadInterval
	}

	jobLogger := s.logger.With().Str("job_name", name).Dur("every", every).Logger()

	job, err := s.scheduler.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(s.wrap(name, task, &jobLogger)),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		jobLogger.Error().Err(err).Msg("Failed to register scheduler job")
		return nil, err
	}
	jobLogger.Debug().Msg("Scheduler job registered")
	return job, nil
}

func (s *Service) wrap(name string, task Task, logger *zerolog.Logger) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
		defer cancel()

		started := s.clock.Now()
		n, err := task(ctx)
		metrics.IncSweep(name, err)
		if err != nil {
			logger.Error().Err(err).Int("count", n).Msg("Scheduler job failed")
			return
		}
		ev := logger.Debug()
		if n > 0 {
			ev = logger.Info()
		}
		ev.Int("count", n).Dur("took", s.clock.Since(started)).Msg("Scheduler job completed")
	}
}
