package domain

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// JobScheduler indexes persisted delayed jobs for timely execution.
// Keys are unique, so enqueueing a key again replaces its run time.
type JobScheduler interface {
	Enqueue(ctx context.Context, key string, runAt time.Time) error
	Cancel(ctx context.Context, key string) error
}

// DelayQueue is a fast index of job keys ordered by run time. It is not the
// source of truth: losing entries only delays jobs until the next poll.
type DelayQueue interface {
	Add(ctx context.Context, key string, runAt time.Time) error
	Remove(ctx context.Context, key string) error
	PopDue(ctx context.Context, now time.Time, limit int) ([]string, error)
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}
