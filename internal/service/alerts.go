package service

import (
	"context"
	"time"

	"courtbook/internal/events"
	"courtbook/internal/models"
)

// NotifyExpiringHolds publishes one alert per hold that expires within the
// ExpiringSoon window. The marker is set before publishing, so a booking is
// announced at most once across restarts and instances.
func (s *BookingService) NotifyExpiringHolds(ctx context.Context) (int, error) {
	now := s.clock.Now()
	holds, err := s.db.ListExpiringSoon(ctx, now, s.policy.ExpiringSoon)
	if err != nil {
		return 0, err
	}
	return s.notifyOnce(ctx, holds, s.db.MarkExpiringNotified, events.EventBookingExpiringSoon)
}

// NotifyLateCheckIns alerts staff about confirmed bookings whose players have
// not checked in LateCheckIn after the start.
func (s *BookingService) NotifyLateCheckIns(ctx context.Context) (int, error) {
	now := s.clock.Now()
	late, err := s.db.ListLateCheckIns(ctx, now, s.policy.LateCheckIn)
	if err != nil {
		return 0, err
	}
	return s.notifyOnce(ctx, late, s.db.MarkLateNotified, events.EventBookingLateCheckIn)
}

type markFunc func(ctx context.Context, id int64, now time.Time) (bool, error)

func (s *BookingService) notifyOnce(ctx context.Context, bookings []*models.Booking, mark markFunc, eventType string) (int, error) {
	sent := 0
	for _, b := range bookings {
		ok, err := mark(ctx, b.ID, s.clock.Now())
		if err != nil {
			return sent, err
		}
		if !ok {
			continue
		}
		sent++
		s.publishEvent(eventType, b, SourceSweep, 0)
	}
	if sent > 0 {
		s.logger.Info().Str("event_type", eventType).Int("count", sent).Msg("booking alerts published")
	}
	return sent, nil
}
