package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"courtbook/internal/domain"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverDelayQueue writes to the primary (Redis) and switches to the
// fallback (memory) on the first error. It retries the primary once per
// recoveryInterval.
type FailoverDelayQueue struct {
	primary   domain.DelayQueue
	fallback  domain.DelayQueue
	clock     clockwork.Clock
	logger    *zerolog.Logger
	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverDelayQueue(primary, fallback domain.DelayQueue, clock clockwork.Clock, logger *zerolog.Logger) *FailoverDelayQueue {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverDelayQueue{
		primary:  primary,
		fallback: fallback,
		clock:    clock,
		logger:   logger,
	}
}

// usePrimary reports whether the primary should be tried now.
func (q *FailoverDelayQueue) usePrimary() bool {
	if !q.isDown.Load() {
		return true
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.clock.Since(q.lastCheck) > recoveryInterval {
		q.lastCheck = q.clock.Now()
		return true
	}
	return false
}

func (q *FailoverDelayQueue) markDown(err error) {
	if !q.isDown.Swap(true) {
		q.logger.Error().Err(err).Msg("Primary delay queue failed, falling back to memory")
	}
	q.mu.Lock()
	q.lastCheck = q.clock.Now()
	q.mu.Unlock()
}

func (q *FailoverDelayQueue) markUp() {
	if q.isDown.Swap(false) {
		q.logger.Info().Msg("Primary delay queue recovered")
	}
}

// Down reports whether the queue currently runs on the fallback.
func (q *FailoverDelayQueue) Down() bool {
	return q.isDown.Load()
}

func (q *FailoverDelayQueue) Add(ctx context.Context, key string, runAt time.Time) error {
	if q.usePrimary() {
		err := q.primary.Add(ctx, key, runAt)
		if err == nil {
			q.markUp()
			return nil
		}
		q.markDown(err)
	}
	return q.fallback.Add(ctx, key, runAt)
}

func (q *FailoverDelayQueue) Remove(ctx context.Context, key string) error {
	if !q.isDown.Load() {
		if err := q.primary.Remove(ctx, key); err != nil {
			q.markDown(err)
		}
	}
	return q.fallback.Remove(ctx, key)
}

// PopDue drains the fallback as well, so keys indexed during an outage are
// not stranded once the primary is back.
func (q *FailoverDelayQueue) PopDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var keys []string
	if q.usePrimary() {
		primaryKeys, err := q.primary.PopDue(ctx, now, limit)
		if err != nil {
			q.markDown(err)
		} else {
			q.markUp()
			keys = primaryKeys
		}
	}

	remaining := limit - len(keys)
	if limit > 0 && remaining <= 0 {
		return keys, nil
	}
	fallbackKeys, err := q.fallback.PopDue(ctx, now, remaining)
	if err != nil {
		return keys, err
	}
	return append(keys, fallbackKeys...), nil
}
