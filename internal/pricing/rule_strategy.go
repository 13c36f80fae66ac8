package pricing

import (
	"context"
	"fmt"
	"time"

	"courtbook/internal/models"
)

// RuleStrategy prices by the winning pricing rule at the slot start, falling
// back to the court base price.
type RuleStrategy struct {
	rules RuleSource
	loc   *time.Location
}

func NewRuleStrategy(rules RuleSource, loc *time.Location) *RuleStrategy {
	if loc == nil {
		loc = time.UTC
	}
	return &RuleStrategy{rules: rules, loc: loc}
}

func (s *RuleStrategy) Name() string { return "rules" }

func (s *RuleStrategy) Quote(ctx context.Context, court *models.Court, start, end time.Time) (Quote, error) {
	if err := validInterval(start, end); err != nil {
		return Quote{}, err
	}

	local := start.In(s.loc)
	rule, err := s.rules.FindPricingRule(ctx, court.ID, local.Weekday(), local.Format("15:04"))
	if err != nil {
		return Quote{}, fmt.Errorf("failed to resolve pricing rule: %w", err)
	}

	q := Quote{PricePerHour: court.PricePerHour, PriceType: models.PriceTypeNormal}
	if rule != nil {
		q.PricePerHour = rule.PricePerHour
		q.RuleID = rule.ID
	}
	q.Amount = Amount(q.PricePerHour, end.Sub(start))
	return q, nil
}
