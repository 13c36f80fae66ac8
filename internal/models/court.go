package models

import "time"

type Court struct {
	ID           int64     `json:"id" yaml:"id"`
	Name         string    `json:"name" yaml:"name"`
	PricePerHour int64     `json:"price_per_hour" yaml:"price_per_hour"`
	IsActive     bool      `json:"is_active" yaml:"is_active"`
	SortOrder    int64     `json:"sort_order" yaml:"sort_order"`
	CreatedAt    time.Time `json:"created_at" yaml:"-"`
	UpdatedAt    time.Time `json:"updated_at" yaml:"-"`
}

// PricingRule applies to slots whose start falls within [StartTime, EndTime).
// Nil CourtID means every court, nil DayOfWeek means every day.
type PricingRule struct {
	ID           int64         `json:"id" yaml:"id"`
	CourtID      *int64        `json:"court_id,omitempty" yaml:"court_id"`
	DayOfWeek    *time.Weekday `json:"day_of_week,omitempty" yaml:"day_of_week"`
	StartTime    string        `json:"start_time" yaml:"start_time"`
	EndTime      string        `json:"end_time" yaml:"end_time"`
	PricePerHour int64         `json:"price_per_hour" yaml:"price_per_hour"`
	Priority     int           `json:"priority" yaml:"priority"`
	IsActive     bool          `json:"is_active" yaml:"is_active"`
}

// SlotAvailability is one cell of a court's daily schedule.
type SlotAvailability struct {
	TimeLabel string    `json:"time_label"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
	Price     int64     `json:"price"`
	PriceType string    `json:"price_type"`
}
