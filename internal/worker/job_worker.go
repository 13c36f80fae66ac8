package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"courtbook/internal/database"
	"courtbook/internal/domain"
	"courtbook/internal/metrics"
	"courtbook/internal/models"
	"courtbook/internal/service"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Handler runs one claimed job. A returned error schedules a retry.
type Handler func(ctx context.Context, job *models.Job) error

// Options tunes the polling loop.
type Options struct {
	PollInterval  time.Duration
	BatchSize     int
	StuckAfter    time.Duration
	DeadLetterKey string
}

// JobWorker executes persisted delayed jobs. The jobs table is the source of
// truth; the delay queue only shortens the time until a due job is noticed.
type JobWorker struct {
	db            *database.DB
	queue         domain.DelayQueue
	redis         *redis.Client
	handlers      map[string]Handler
	retryPolicy   RetryPolicy
	clock         clockwork.Clock
	pollInterval  time.Duration
	batchSize     int
	stuckAfter    time.Duration
	deadLetterKey string
	logger        *zerolog.Logger
}

// NewJobWorker builds a worker with sane defaults. redisClient may be nil, in
// which case dead letters are only logged.
func NewJobWorker(
	db *database.DB,
	queue domain.DelayQueue,
	redisClient *redis.Client,
	retry RetryPolicy,
	opts Options,
	clock clockwork.Clock,
	logger *zerolog.Logger,
) *JobWorker {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.StuckAfter <= 0 {
		opts.StuckAfter = 5 * time.Minute
	}
	if opts.DeadLetterKey == "" {
		opts.DeadLetterKey = "courtbook:jobs:deadletter"
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &JobWorker{
		db:            db,
		queue:         queue,
		redis:         redisClient,
		handlers:      make(map[string]Handler),
		retryPolicy:   retry,
		clock:         clock,
		pollInterval:  opts.PollInterval,
		batchSize:     opts.BatchSize,
		stuckAfter:    opts.StuckAfter,
		deadLetterKey: opts.DeadLetterKey,
		logger:        logger,
	}
}

// Handle registers the handler for a job type. Call before Start.
func (w *JobWorker) Handle(jobType string, h Handler) {
	w.handlers[jobType] = h
}

// Enqueue indexes an already persisted job in the delay queue.
func (w *JobWorker) Enqueue(ctx context.Context, key string, runAt time.Time) error {
	if key == "" {
		return errors.New("job key is required")
	}
	return w.queue.Add(ctx, key, runAt)
}

// Cancel marks a pending job cancelled and drops it from the delay queue.
func (w *JobWorker) Cancel(ctx context.Context, key string) error {
	if _, err := w.db.CancelJob(ctx, key, w.clock.Now()); err != nil {
		return err
	}
	return w.queue.Remove(ctx, key)
}

// Start runs the polling loop until ctx is done.
func (w *JobWorker) Start(ctx context.Context) {
	w.logger.Info().Dur("poll_interval", w.pollInterval).Msg("job worker started")
	defer w.logger.Info().Msg("job worker stopped")

	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("job worker iteration failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-w.clock.After(w.pollInterval):
		}
	}
}

// RunOnce processes every job that is due now and returns how many ran.
func (w *JobWorker) RunOnce(ctx context.Context) (int, error) {
	now := w.clock.Now()

	if n, err := w.db.RequeueStuckJobs(ctx, now.Add(-w.stuckAfter)); err != nil {
		return 0, err
	} else if n > 0 {
		w.logger.Warn().Int64("count", n).Msg("requeued stuck jobs")
	}

	processed := 0

	keys, err := w.queue.PopDue(ctx, now, w.batchSize)
	if err != nil {
		w.logger.Warn().Err(err).Msg("delay queue unavailable, polling database only")
	}
	for _, key := range keys {
		job, err := w.db.GetJobByKey(ctx, key)
		if errors.Is(err, database.ErrNotFound) {
			continue
		}
		if err != nil {
			return processed, err
		}
		if w.process(ctx, job) {
			processed++
		}
	}

	due, err := w.db.GetDueJobs(ctx, now, w.batchSize)
	if err != nil {
		return processed, err
	}
	for _, job := range due {
		if w.process(ctx, job) {
			processed++
		}
	}
	return processed, nil
}

// process claims and runs a job. It reports false when another worker or a
// cancellation got there first.
func (w *JobWorker) process(ctx context.Context, job *models.Job) bool {
	now := w.clock.Now()
	claimed, err := w.db.ClaimJob(ctx, job.ID, now)
	if err != nil {
		w.logger.Error().Err(err).Str("job_key", job.Key).Msg("claim job")
		return false
	}
	if !claimed {
		return false
	}

	handler, ok := w.handlers[job.Type]
	if !ok {
		w.fail(ctx, job, fmt.Errorf("no handler for job type %q", job.Type))
		return true
	}

	if err := handler(ctx, job); err != nil {
		w.retryOrFail(ctx, job, err)
		return true
	}

	if err := w.db.UpdateJobStatus(ctx, job.ID, models.JobStatusCompleted, "", nil, w.clock.Now()); err != nil {
		w.logger.Error().Err(err).Str("job_key", job.Key).Msg("mark job completed")
	}
	metrics.IncJob(job.Type, models.JobStatusCompleted)
	return true
}

func (w *JobWorker) retryOrFail(ctx context.Context, job *models.Job, cause error) {
	attempt := job.Attempts + 1
	if w.retryPolicy.Exhausted(attempt) {
		w.fail(ctx, job, cause)
		return
	}

	next := w.retryPolicy.NextRun(w.clock.Now(), attempt)
	if err := w.db.UpdateJobStatus(ctx, job.ID, models.JobStatusRetry, cause.Error(), &next, w.clock.Now()); err != nil {
		w.logger.Error().Err(err).Str("job_key", job.Key).Msg("mark job retry")
		return
	}
	if err := w.queue.Add(ctx, job.Key, next); err != nil {
		w.logger.Warn().Err(err).Str("job_key", job.Key).Msg("re-index retried job")
	}
	metrics.IncJob(job.Type, models.JobStatusRetry)
	w.logger.Warn().Err(cause).Str("job_key", job.Key).Int("attempt", attempt).Time("next_run_at", next).Msg("job failed, retrying")
}

func (w *JobWorker) fail(ctx context.Context, job *models.Job, cause error) {
	if err := w.db.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed, cause.Error(), nil, w.clock.Now()); err != nil {
		w.logger.Error().Err(err).Str("job_key", job.Key).Msg("mark job failed")
	}
	metrics.IncJob(job.Type, models.JobStatusFailed)
	w.logger.Error().Err(cause).Str("job_key", job.Key).Msg("job failed permanently")
	w.pushDeadLetter(ctx, job, cause)
}

type deadLetter struct {
	Job      *models.Job `json:"job"`
	Error    string      `json:"error"`
	FailedAt time.Time   `json:"failed_at"`
}

func (w *JobWorker) pushDeadLetter(ctx context.Context, job *models.Job, cause error) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(deadLetter{Job: job, Error: cause.Error(), FailedAt: w.clock.Now().UTC()})
	if err != nil {
		w.logger.Error().Err(err).Str("job_key", job.Key).Msg("encode dead letter")
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Str("job_key", job.Key).Msg("push dead letter")
	}
}

// BookingExpirer is the part of the booking service the expiration job needs.
type BookingExpirer interface {
	ExpireBooking(ctx context.Context, bookingID int64, source string) (bool, error)
}

// ExpirationHandler expires the booking a hold job points at. A booking that
// was paid or cancelled in the meantime is a no-op, not a failure.
func ExpirationHandler(expirer BookingExpirer) Handler {
	return func(ctx context.Context, job *models.Job) error {
		if job.BookingID == 0 {
			return errors.New("expiration job without booking id")
		}
		_, err := expirer.ExpireBooking(ctx, job.BookingID, service.SourceScheduler)
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, database.ErrNotFound) {
			return nil
		}
		return err
	}
}
