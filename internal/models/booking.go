package models

import "time"

type Booking struct {
	ID                 int64      `json:"id"`
	Code               string     `json:"code"`
	CourtID            int64      `json:"court_id"`
	Owner              Owner      `json:"owner"`
	StartTime          time.Time  `json:"start_time"`
	EndTime            time.Time  `json:"end_time"`
	TotalPrice         int64      `json:"total_price"`
	Status             string     `json:"status"`
	Type               string     `json:"type"`
	PaymentMethod      string     `json:"payment_method,omitempty"`
	PaymentStatus      string     `json:"payment_status,omitempty"`
	PaidAmount         int64      `json:"paid_amount"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	GroupID            *int64     `json:"group_id,omitempty"`
	CreatedBy          string     `json:"created_by"`
	StaffID            *int64     `json:"staff_id,omitempty"`
	Note               string     `json:"note,omitempty"`
	CheckedInAt        *time.Time `json:"checked_in_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	ExpiringNotifiedAt *time.Time `json:"-"`
	LateNotifiedAt     *time.Time `json:"-"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	Version            int64      `json:"version"`
}

// Overlaps uses half-open intervals, so touching endpoints do not overlap.
func (b *Booking) Overlaps(start, end time.Time) bool {
	return b.StartTime.Before(end) && b.EndTime.After(start)
}

// Duration of the booked interval.
func (b *Booking) Duration() time.Duration {
	return b.EndTime.Sub(b.StartTime)
}
