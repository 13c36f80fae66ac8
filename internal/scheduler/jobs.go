package scheduler

import (
	"context"
	"errors"
	"time"
)

// BookingSweeper runs the periodic booking maintenance passes.
type BookingSweeper interface {
	ExpireOverdueHolds(ctx context.Context) (int, error)
	CompleteFinishedBookings(ctx context.Context) (int, error)
	NotifyExpiringHolds(ctx context.Context) (int, error)
	NotifyLateCheckIns(ctx context.Context) (int, error)
}

// Backuper snapshots the database and prunes old snapshots.
type Backuper interface {
	Enabled() bool
	PerformBackup(ctx context.Context, now time.Time) (string, error)
	CleanupOldBackups(now time.Time) int
}

// RegisterBookingJobs adds the sweep backstop for lost expiration jobs plus
// completion and alerting passes.
func RegisterBookingJobs(s *Service, sweeper BookingSweeper, every time.Duration) error {
	if sweeper == nil {
		return errors.New("booking jobs require a sweeper")
	}

	jobs := []struct {
		name string
		task Task
	}{
		{JobExpireOverdueHolds, sweeper.ExpireOverdueHolds},
		{JobCompleteFinished, sweeper.CompleteFinishedBookings},
		{JobHoldExpiryAlerts, sweeper.NotifyExpiringHolds},
		{JobLateCheckInAlerts, sweeper.NotifyLateCheckIns},
	}
	for _, j := range jobs {
		if _, err := s.AddJob(j.name, every, j.task); err != nil {
			return err
		}
	}
	return nil
}

// RegisterBackupJob adds the database snapshot job when backups are enabled.
func RegisterBackupJob(s *Service, backup Backuper, every time.Duration) error {
	if backup == nil || !backup.Enabled() {
		return nil
	}

	_, err := s.AddJob(JobBackup, every, func(ctx context.Context) (int, error) {
		now := s.clock.Now()
		path, err := backup.PerformBackup(ctx, now)
		if err != nil {
			return 0, err
		}
		removed := backup.CleanupOldBackups(now)
		s.logger.Info().Str("path", path).Int("removed", removed).Msg("Database backup written")
		return 1, nil
	})
	return err
}
