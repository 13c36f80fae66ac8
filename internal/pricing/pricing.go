// Package pricing resolves booking prices.
//
// Two independent algorithms live here. RuleStrategy evaluates configured
// pricing rules and is the only one used to charge money. BandStrategy
// classifies slots into NORMAL, GOLDEN and PEAK bands for schedule display.
// They can disagree for the same slot.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"courtbook/internal/database"
	"courtbook/internal/domain"
	"courtbook/internal/models"
)

// Quote is a priced interval.
type Quote struct {
	PricePerHour int64
	Amount       int64
	PriceType    string
	RuleID       int64
}

type Strategy interface {
	Name() string
	Quote(ctx context.Context, court *models.Court, start, end time.Time) (Quote, error)
}

type RuleSource interface {
	FindPricingRule(ctx context.Context, courtID int64, day time.Weekday, clock string) (*models.PricingRule, error)
}

type CourtSource interface {
	GetCourt(ctx context.Context, id int64) (*models.Court, error)
}

// Amount returns round(pricePerHour * hours).
func Amount(pricePerHour int64, d time.Duration) int64 {
	return int64(math.Round(float64(pricePerHour) * d.Hours()))
}

func validInterval(start, end time.Time) error {
	if !end.After(start) {
		return domain.NewValidationError("end_time", "duration must be positive")
	}
	return nil
}

// Resolver exposes the canonical charging price and the display quote.
type Resolver struct {
	courts    CourtSource
	canonical Strategy
	display   Strategy
}

func NewResolver(courts CourtSource, canonical, display Strategy) *Resolver {
	return &Resolver{courts: courts, canonical: canonical, display: display}
}

func (r *Resolver) court(ctx context.Context, courtID int64) (*models.Court, error) {
	court, err := r.courts.GetCourt(ctx, courtID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, &domain.NotFoundError{Entity: "court", ID: courtID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load court: %w", err)
	}
	return court, nil
}

// CalculatePrice is the amount charged for booking the interval.
func (r *Resolver) CalculatePrice(ctx context.Context, courtID int64, start, end time.Time) (int64, error) {
	court, err := r.court(ctx, courtID)
	if err != nil {
		return 0, err
	}
	q, err := r.canonical.Quote(ctx, court, start, end)
	if err != nil {
		return 0, err
	}
	return q.Amount, nil
}

// Charge prices an interval on an already loaded court.
func (r *Resolver) Charge(ctx context.Context, court *models.Court, start, end time.Time) (Quote, error) {
	return r.canonical.Quote(ctx, court, start, end)
}

// Display prices a schedule slot with the display strategy.
func (r *Resolver) Display(ctx context.Context, court *models.Court, start, end time.Time) (Quote, error) {
	return r.display.Quote(ctx, court, start, end)
}
