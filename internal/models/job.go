package models

import (
	"fmt"
	"time"
)

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusRetry     = "retry"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

const JobTypeBookingExpiration = "booking_expiration"

// Job is a persisted delayed task, unique by Key.
type Job struct {
	ID          int64      `json:"id"`
	Type        string     `json:"type"`
	Key         string     `json:"key"`
	BookingID   int64      `json:"booking_id"`
	Payload     string     `json:"payload"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	LastError   *string    `json:"last_error"`
	RunAt       time.Time  `json:"run_at"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// ExpirationJobKey is the unique queue key of a booking's hold expiry.
func ExpirationJobKey(bookingID int64) string {
	return fmt.Sprintf("%s:%d", JobTypeBookingExpiration, bookingID)
}
