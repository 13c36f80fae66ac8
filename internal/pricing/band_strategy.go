package pricing

import (
	"context"
	"time"

	"courtbook/internal/models"
)

const (
	goldenFrom = 17
	peakFrom   = 20
)

// BandStrategy is the fixed display table: PEAK is 20:00 onwards on Friday,
// Saturday and Sunday at 2x; GOLDEN is 17:00-20:00 at 1.5x; the rest is
// NORMAL at the court base price.
type BandStrategy struct {
	loc *time.Location
}

func NewBandStrategy(loc *time.Location) *BandStrategy {
	if loc == nil {
		loc = time.UTC
	}
	return &BandStrategy{loc: loc}
}

func (s *BandStrategy) Name() string { return "bands" }

// Classify returns the band and its multiplier for a slot start.
func (s *BandStrategy) Classify(t time.Time) (string, float64) {
	local := t.In(s.loc)
	hour := local.Hour()

	weekend := false
	switch local.Weekday() {
	case time.Friday, time.Saturday, time.Sunday:
		weekend = true
	}

	switch {
	case weekend && hour >= peakFrom:
		return models.PriceTypePeak, 2
	case hour >= goldenFrom && hour < peakFrom:
		return models.PriceTypeGolden, 1.5
	default:
		return models.PriceTypeNormal, 1
	}
}

func (s *BandStrategy) Quote(_ context.Context, court *models.Court, start, end time.Time) (Quote, error) {
	if err := validInterval(start, end); err != nil {
		return Quote{}, err
	}

	band, multiplier := s.Classify(start)
	perHour := int64(float64(court.PricePerHour) * multiplier)
	return Quote{
		PricePerHour: perHour,
		Amount:       Amount(perHour, end.Sub(start)),
		PriceType:    band,
	}, nil
}
