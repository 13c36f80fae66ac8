package service

import (
	"time"

	"courtbook/internal/config"
	"courtbook/internal/models"
)

// BookingPolicy holds the operator's booking rules.
type BookingPolicy struct {
	HoldDuration   time.Duration
	CheckInEarly   time.Duration
	MaxAdvanceDays int
	OpenHour       int
	CloseHour      int
	SlotStep       time.Duration
	ExpiringSoon   time.Duration
	LateCheckIn    time.Duration
	PhoneRegion    string
	Location       *time.Location
}

func PolicyFromConfig(cfg config.BookingConfig, loc *time.Location) BookingPolicy {
	return BookingPolicy{
		HoldDuration:   cfg.HoldDuration(),
		CheckInEarly:   cfg.CheckInEarly(),
		MaxAdvanceDays: cfg.MaxAdvanceDays,
		OpenHour:       cfg.OpenHour,
		CloseHour:      cfg.CloseHour,
		SlotStep:       time.Duration(cfg.SlotMinutes) * time.Minute,
		ExpiringSoon:   time.Duration(cfg.ExpiringSoonMinutes) * time.Minute,
		LateCheckIn:    time.Duration(cfg.LateCheckInMinutes) * time.Minute,
		PhoneRegion:    cfg.PhoneRegion,
		Location:       loc,
	}.withDefaults()
}

func (p BookingPolicy) withDefaults() BookingPolicy {
	if p.HoldDuration <= 0 {
		p.HoldDuration = models.DefaultHoldDuration
	}
	if p.CheckInEarly <= 0 {
		p.CheckInEarly = models.DefaultCheckInEarly
	}
	if p.MaxAdvanceDays <= 0 {
		p.MaxAdvanceDays = models.DefaultMaxAdvanceDays
	}
	if p.OpenHour == 0 && p.CloseHour == 0 {
		p.OpenHour, p.CloseHour = 6, 23
	}
	if p.SlotStep <= 0 {
		p.SlotStep = models.DefaultSlotStep
	}
	if p.ExpiringSoon <= 0 {
		p.ExpiringSoon = 5 * time.Minute
	}
	if p.LateCheckIn <= 0 {
		p.LateCheckIn = 15 * time.Minute
	}
	if p.Location == nil {
		p.Location = time.UTC
	}
	return p
}
