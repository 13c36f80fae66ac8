package models

import "time"

// BookingGroup is a recurring series; each occurrence is a full Booking.
type BookingGroup struct {
	ID            int64          `json:"id"`
	UserID        int64          `json:"user_id"`
	CourtID       int64          `json:"court_id"`
	StartDate     time.Time      `json:"start_date"`
	EndDate       time.Time      `json:"end_date"`
	Weekdays      []time.Weekday `json:"weekdays"`
	StartTime     string         `json:"start_time"`
	EndTime       string         `json:"end_time"`
	TotalSessions int            `json:"total_sessions"`
	OriginalPrice int64          `json:"original_price"`
	DiscountRate  float64        `json:"discount_rate"`
	FinalPrice    int64          `json:"final_price"`
	PaymentMethod string         `json:"payment_method"`
	Status        string         `json:"status"`
	IsActive      bool           `json:"is_active"`
	CancelReason  string         `json:"cancel_reason,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
