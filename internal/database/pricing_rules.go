package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"courtbook/internal/models"
)

// SyncPricingRules replaces the rule table with the configured rules.
func (db *DB) SyncPricingRules(ctx context.Context, rules []models.PricingRule) error {
	return db.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pricing_rules`); err != nil {
			return fmt.Errorf("failed to clear pricing rules: %w", err)
		}
		for _, rule := range rules {
			if err := tx.InsertPricingRule(ctx, &rule); err != nil {
				return err
			}
		}
		return nil
	})
}

func (tx *Tx) InsertPricingRule(ctx context.Context, rule *models.PricingRule) error {
	var day interface{}
	if rule.DayOfWeek != nil {
		day = int(*rule.DayOfWeek)
	}

	query := `INSERT INTO pricing_rules (id, court_id, day_of_week, start_time, end_time, price_per_hour, priority, is_active)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	var id interface{}
	if rule.ID != 0 {
		id = rule.ID
	}
	res, err := tx.ExecContext(ctx, query,
		id, nullableInt(rule.CourtID), day, rule.StartTime, rule.EndTime, rule.PricePerHour, rule.Priority, rule.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to insert pricing rule: %w", err)
	}
	if rule.ID == 0 {
		if rule.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
	}
	return nil
}

// FindPricingRule returns the winning active rule for a court slot, or nil.
// Higher priority wins; ties prefer court-specific, then day-specific, then
// the lowest id.
func (db *DB) FindPricingRule(ctx context.Context, courtID int64, day time.Weekday, clock string) (*models.PricingRule, error) {
	query := `SELECT id, court_id, day_of_week, start_time, end_time, price_per_hour, priority, is_active
              FROM pricing_rules
              WHERE is_active = 1
                AND (court_id = ? OR court_id IS NULL)
                AND (day_of_week = ? OR day_of_week IS NULL)
                AND start_time <= ? AND end_time > ?
              ORDER BY priority DESC,
                       (court_id IS NOT NULL) DESC,
                       (day_of_week IS NOT NULL) DESC,
                       id ASC
              LIMIT 1`

	var (
		rule      models.PricingRule
		ruleCourt sql.NullInt64
		dayOf     sql.NullInt64
	)
	err := db.QueryRowContext(ctx, query, courtID, int(day), clock, clock).Scan(
		&rule.ID, &ruleCourt, &dayOf, &rule.StartTime, &rule.EndTime, &rule.PricePerHour, &rule.Priority, &rule.IsActive,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pricing rule: %w", err)
	}

	if ruleCourt.Valid {
		id := ruleCourt.Int64
		rule.CourtID = &id
	}
	if dayOf.Valid {
		wd := time.Weekday(dayOf.Int64)
		rule.DayOfWeek = &wd
	}
	return &rule, nil
}
