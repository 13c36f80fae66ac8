package database

import (
	"context"
	"fmt"
	"time"

	"courtbook/internal/models"
)

// SyncCourts upserts the configured court catalog and refreshes the cache.
func (db *DB) SyncCourts(ctx context.Context, courts []models.Court, now time.Time) error {
	query := `INSERT INTO courts (id, name, price_per_hour, is_active, sort_order, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                  name = excluded.name,
                  price_per_hour = excluded.price_per_hour,
                  is_active = excluded.is_active,
                  sort_order = excluded.sort_order,
                  updated_at = excluded.updated_at`

	err := db.WithTx(ctx, func(tx *Tx) error {
		for _, court := range courts {
			if _, err := tx.ExecContext(ctx, query,
				court.ID, court.Name, court.PricePerHour, court.IsActive, court.SortOrder, utc(now), utc(now),
			); err != nil {
				return fmt.Errorf("failed to upsert court %d: %w", court.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	return db.LoadCourts(ctx)
}

// LoadCourts refreshes the in-memory court cache from the table.
func (db *DB) LoadCourts(ctx context.Context) error {
	rows, err := db.QueryContext(ctx,
		`SELECT id, name, price_per_hour, is_active, sort_order, created_at, updated_at
         FROM courts ORDER BY sort_order, id`)
	if err != nil {
		return fmt.Errorf("failed to load courts: %w", err)
	}
	defer rows.Close()

	cache := make(map[int64]models.Court)
	for rows.Next() {
		var c models.Court
		if err := rows.Scan(&c.ID, &c.Name, &c.PricePerHour, &c.IsActive, &c.SortOrder, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return fmt.Errorf("failed to scan court: %w", err)
		}
		cache[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return err
	}

	db.mu.Lock()
	db.courtCache = cache
	db.mu.Unlock()

	db.logger.Debug().Int("courts", len(cache)).Msg("Court cache loaded")
	return nil
}

// GetCourt returns a court from the cache, falling back to the table.
func (db *DB) GetCourt(ctx context.Context, id int64) (*models.Court, error) {
	db.mu.RLock()
	court, ok := db.courtCache[id]
	db.mu.RUnlock()
	if ok {
		return &court, nil
	}

	var c models.Court
	err := db.QueryRowContext(ctx,
		`SELECT id, name, price_per_hour, is_active, sort_order, created_at, updated_at FROM courts WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.PricePerHour, &c.IsActive, &c.SortOrder, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}

	db.mu.Lock()
	db.courtCache[c.ID] = c
	db.mu.Unlock()
	return &c, nil
}

// ListActiveCourts returns active courts in display order.
func (db *DB) ListActiveCourts(ctx context.Context) ([]models.Court, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, name, price_per_hour, is_active, sort_order, created_at, updated_at
         FROM courts WHERE is_active = 1 ORDER BY sort_order, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list courts: %w", err)
	}
	defer rows.Close()

	var courts []models.Court
	for rows.Next() {
		var c models.Court
		if err := rows.Scan(&c.ID, &c.Name, &c.PricePerHour, &c.IsActive, &c.SortOrder, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan court: %w", err)
		}
		courts = append(courts, c)
	}
	return courts, rows.Err()
}
