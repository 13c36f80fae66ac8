package database

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"courtbook/internal/models"
)

func encodeWeekdays(days []time.Weekday) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(int(d))
	}
	return strings.Join(parts, ",")
}

func decodeWeekdays(raw string) ([]time.Weekday, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	days := make([]time.Weekday, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid weekday %q: %w", p, err)
		}
		days = append(days, time.Weekday(n))
	}
	return days, nil
}

func (tx *Tx) InsertGroup(ctx context.Context, g *models.BookingGroup, now time.Time) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO booking_groups (user_id, court_id, start_date, end_date, weekdays, start_time, end_time,
             total_sessions, original_price, discount_rate, final_price, payment_method, status, is_active,
             created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.UserID, g.CourtID, utc(g.StartDate), utc(g.EndDate), encodeWeekdays(g.Weekdays), g.StartTime, g.EndTime,
		g.TotalSessions, g.OriginalPrice, g.DiscountRate, g.FinalPrice, g.PaymentMethod, g.Status, g.IsActive,
		utc(now), utc(now),
	)
	if err != nil {
		return fmt.Errorf("failed to insert booking group: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	g.ID = id
	g.CreatedAt = utc(now)
	g.UpdatedAt = utc(now)
	return nil
}

func getGroup(ctx context.Context, q queryer, id int64) (*models.BookingGroup, error) {
	var (
		g        models.BookingGroup
		weekdays string
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, user_id, court_id, start_date, end_date, weekdays, start_time, end_time, total_sessions,
                original_price, discount_rate, final_price, payment_method, status, is_active, cancel_reason,
                created_at, updated_at
         FROM booking_groups WHERE id = ?`, id,
	).Scan(&g.ID, &g.UserID, &g.CourtID, &g.StartDate, &g.EndDate, &weekdays, &g.StartTime, &g.EndTime,
		&g.TotalSessions, &g.OriginalPrice, &g.DiscountRate, &g.FinalPrice, &g.PaymentMethod, &g.Status,
		&g.IsActive, &g.CancelReason, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if g.Weekdays, err = decodeWeekdays(weekdays); err != nil {
		return nil, err
	}
	return &g, nil
}

func (db *DB) GetGroup(ctx context.Context, id int64) (*models.BookingGroup, error) {
	return getGroup(ctx, db, id)
}

func (tx *Tx) GetGroup(ctx context.Context, id int64) (*models.BookingGroup, error) {
	return getGroup(ctx, tx, id)
}

// SetGroupStatus updates the series status; a cancelled or expired series is
// inactive.
func (tx *Tx) SetGroupStatus(ctx context.Context, id int64, status, reason string, now time.Time) error {
	active := status != models.GroupStatusCancelled && status != models.GroupStatusExpired
	_, err := tx.ExecContext(ctx,
		`UPDATE booking_groups SET status = ?, is_active = ?, cancel_reason = ?, updated_at = ? WHERE id = ?`,
		status, active, reason, utc(now), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking group: %w", err)
	}
	return nil
}

// ExpireGroupIfUnpaid moves an unpaid series to EXPIRED once none of its
// sessions is still held. Reports whether the group changed.
func (db *DB) ExpireGroupIfUnpaid(ctx context.Context, id int64, now time.Time) (bool, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE booking_groups SET status = ?, is_active = 0, updated_at = ?
         WHERE id = ? AND status = ?
           AND NOT EXISTS (SELECT 1 FROM bookings WHERE group_id = ? AND status = ?)`,
		models.GroupStatusExpired, utc(now), id, models.GroupStatusPendingPayment,
		id, models.StatusPendingPayment,
	)
	if err != nil {
		return false, fmt.Errorf("failed to expire booking group: %w", err)
	}
	return affected(res)
}
