package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"courtbook/internal/models"
)

const bookingColumns = `id, code, court_id, user_id, guest_name, guest_phone, start_time, end_time,
    total_price, status, booking_type, payment_method, payment_status, paid_amount, expires_at,
    group_id, created_by, staff_id, note, checked_in_at, completed_at, cancelled_at,
    expiring_notified_at, late_notified_at, created_at, updated_at, version`

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b          models.Booking
		userID     sql.NullInt64
		guestName  sql.NullString
		guestPhone sql.NullString
	)
	err := row.Scan(
		&b.ID, &b.Code, &b.CourtID, &userID, &guestName, &guestPhone, &b.StartTime, &b.EndTime,
		&b.TotalPrice, &b.Status, &b.Type, &b.PaymentMethod, &b.PaymentStatus, &b.PaidAmount, &b.ExpiresAt,
		&b.GroupID, &b.CreatedBy, &b.StaffID, &b.Note, &b.CheckedInAt, &b.CompletedAt, &b.CancelledAt,
		&b.ExpiringNotifiedAt, &b.LateNotifiedAt, &b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}

	switch {
	case userID.Valid:
		b.Owner = models.AccountOwner(userID.Int64)
	case guestName.Valid:
		b.Owner = models.GuestOwner(guestName.String, guestPhone.String)
	}
	return &b, nil
}

func queryBookings(ctx context.Context, q queryer, query string, args ...interface{}) ([]*models.Booking, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bookings, nil
}

func getBooking(ctx context.Context, q queryer, id int64) (*models.Booking, error) {
	b, err := scanBooking(q.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return b, nil
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return getBooking(ctx, db, id)
}

func (tx *Tx) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return getBooking(ctx, tx, id)
}

func getBookingByCode(ctx context.Context, q queryer, code string) (*models.Booking, error) {
	b, err := scanBooking(q.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE code = ?`, code))
	if err != nil {
		return nil, notFound(err)
	}
	return b, nil
}

func (db *DB) GetBookingByCode(ctx context.Context, code string) (*models.Booking, error) {
	return getBookingByCode(ctx, db, code)
}

func (tx *Tx) GetBookingByCode(ctx context.Context, code string) (*models.Booking, error) {
	return getBookingByCode(ctx, tx, code)
}

// CodeExists checks booking code uniqueness inside the creating transaction.
func (tx *Tx) CodeExists(ctx context.Context, code string) (bool, error) {
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookings WHERE code = ?`, code).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check booking code: %w", err)
	}
	return n > 0, nil
}

// FindConflict returns a booking on the court occupying any part of
// [start, end), or nil. Cancelled and expired bookings release their slot.
func (tx *Tx) FindConflict(ctx context.Context, courtID int64, start, end time.Time) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE court_id = ? AND start_time < ? AND end_time > ?
                AND status NOT IN (?, ?)
              ORDER BY start_time LIMIT 1`
	b, err := scanBooking(tx.QueryRowContext(ctx, query,
		courtID, utc(end), utc(start), models.StatusCancelled, models.StatusExpired))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check availability in tx: %w", err)
	}
	return b, nil
}

// CheckAvailability reports whether [start, end) is free on the court.
func (tx *Tx) CheckAvailability(ctx context.Context, courtID int64, start, end time.Time) (bool, error) {
	conflict, err := tx.FindConflict(ctx, courtID, start, end)
	if err != nil {
		return false, err
	}
	return conflict == nil, nil
}

func (tx *Tx) InsertBooking(ctx context.Context, b *models.Booking, now time.Time) error {
	var (
		userID     interface{}
		guestName  interface{}
		guestPhone interface{}
	)
	if id, ok := b.Owner.UserID(); ok {
		userID = id
	}
	if name, phone, ok := b.Owner.Guest(); ok {
		guestName, guestPhone = name, phone
	}

	query := `INSERT INTO bookings (
                code, court_id, user_id, guest_name, guest_phone, start_time, end_time,
                total_price, status, booking_type, payment_method, payment_status, paid_amount,
                expires_at, group_id, created_by, staff_id, note, created_at, updated_at, version
              ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`
	res, err := tx.ExecContext(ctx, query,
		b.Code, b.CourtID, userID, guestName, guestPhone, utc(b.StartTime), utc(b.EndTime),
		b.TotalPrice, b.Status, b.Type, b.PaymentMethod, b.PaymentStatus, b.PaidAmount,
		nullableTime(b.ExpiresAt), nullableInt(b.GroupID), b.CreatedBy, nullableInt(b.StaffID), b.Note,
		utc(now), utc(now),
	)
	if err != nil {
		return fmt.Errorf("failed to insert booking in tx: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id in tx: %w", err)
	}
	b.ID = id
	b.CreatedAt = utc(now)
	b.UpdatedAt = utc(now)
	b.Version = 1
	return nil
}

// ConfirmPaidBooking moves a live hold to CONFIRMED/PAID and clears its expiry.
// It reports false when the booking was no longer an unpaid hold.
func (tx *Tx) ConfirmPaidBooking(ctx context.Context, id int64, method string, amount int64, now time.Time) (bool, error) {
	query := `UPDATE bookings
              SET status = ?, payment_status = ?, payment_method = ?, paid_amount = ?,
                  expires_at = NULL, updated_at = ?, version = version + 1
              WHERE id = ? AND status = ? AND payment_status = ?`
	res, err := tx.ExecContext(ctx, query,
		models.StatusConfirmed, models.PaymentStatusPaid, method, amount, utc(now),
		id, models.StatusPendingPayment, models.PaymentStatusUnpaid)
	if err != nil {
		return false, fmt.Errorf("failed to confirm booking: %w", err)
	}
	return affected(res)
}

// CancelBooking cancels a PENDING_PAYMENT or CONFIRMED booking.
func (tx *Tx) CancelBooking(ctx context.Context, id int64, paymentStatus, note string, now time.Time) (bool, error) {
	query := `UPDATE bookings
              SET status = ?, payment_status = ?, expires_at = NULL, cancelled_at = ?,
                  note = CASE WHEN ? = '' THEN note ELSE ? END,
                  updated_at = ?, version = version + 1
              WHERE id = ? AND status IN (?, ?)`
	res, err := tx.ExecContext(ctx, query,
		models.StatusCancelled, paymentStatus, utc(now), note, note, utc(now),
		id, models.StatusPendingPayment, models.StatusConfirmed)
	if err != nil {
		return false, fmt.Errorf("failed to cancel booking: %w", err)
	}
	return affected(res)
}

func (tx *Tx) CheckInBooking(ctx context.Context, id int64, now time.Time) (bool, error) {
	query := `UPDATE bookings SET status = ?, checked_in_at = ?, updated_at = ?, version = version + 1
              WHERE id = ? AND status = ?`
	res, err := tx.ExecContext(ctx, query, models.StatusCheckedIn, utc(now), utc(now), id, models.StatusConfirmed)
	if err != nil {
		return false, fmt.Errorf("failed to check in booking: %w", err)
	}
	return affected(res)
}

func completeBooking(ctx context.Context, q queryer, id int64, now time.Time) (bool, error) {
	query := `UPDATE bookings SET status = ?, completed_at = ?, updated_at = ?, version = version + 1
              WHERE id = ? AND status = ?`
	res, err := q.ExecContext(ctx, query, models.StatusCompleted, utc(now), utc(now), id, models.StatusCheckedIn)
	if err != nil {
		return false, fmt.Errorf("failed to complete booking: %w", err)
	}
	return affected(res)
}

func (db *DB) CompleteBooking(ctx context.Context, id int64, now time.Time) (bool, error) {
	return completeBooking(ctx, db, id, now)
}

// ExpireBooking is the single authoritative hold expiry. The conditional
// update guarantees that of any concurrent callers only one mutates the row.
// Holds without an expiry never expire.
func (db *DB) ExpireBooking(ctx context.Context, id int64, now time.Time) (bool, error) {
	query := `UPDATE bookings SET status = ?, updated_at = ?, version = version + 1
              WHERE id = ? AND status = ? AND payment_status = ?
                AND expires_at IS NOT NULL AND expires_at <= ?`
	res, err := db.ExecContext(ctx, query,
		models.StatusExpired, utc(now), id, models.StatusPendingPayment, models.PaymentStatusUnpaid, utc(now))
	if err != nil {
		return false, fmt.Errorf("failed to expire booking: %w", err)
	}
	return affected(res)
}

// ListCourtBookings returns occupying bookings intersecting [from, to) without
// taking the write lock. Suitable for display only.
func (db *DB) ListCourtBookings(ctx context.Context, courtID int64, from, to time.Time) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE court_id = ? AND start_time < ? AND end_time > ? AND status NOT IN (?, ?)
              ORDER BY start_time`
	return queryBookings(ctx, db, query, courtID, utc(to), utc(from), models.StatusCancelled, models.StatusExpired)
}

func (db *DB) ListUserBookings(ctx context.Context, userID int64, limit int) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE user_id = ? ORDER BY start_time DESC LIMIT ?`
	return queryBookings(ctx, db, query, userID, limit)
}

func (tx *Tx) ListGroupBookings(ctx context.Context, groupID int64) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE group_id = ? ORDER BY start_time`
	return queryBookings(ctx, tx, query, groupID)
}

// ListOverdueHolds returns unpaid holds whose expiry has passed.
func (db *DB) ListOverdueHolds(ctx context.Context, now time.Time, limit int) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE status = ? AND expires_at IS NOT NULL AND expires_at <= ?
              ORDER BY expires_at LIMIT ?`
	return queryBookings(ctx, db, query, models.StatusPendingPayment, utc(now), limit)
}

// ListFinishedCheckIns returns checked-in bookings whose end has passed.
func (db *DB) ListFinishedCheckIns(ctx context.Context, now time.Time, limit int) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE status = ? AND end_time <= ? ORDER BY end_time LIMIT ?`
	return queryBookings(ctx, db, query, models.StatusCheckedIn, utc(now), limit)
}

// ListExpiringSoon returns live holds expiring within the window that have
// not been alerted yet.
func (db *DB) ListExpiringSoon(ctx context.Context, now time.Time, window time.Duration) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE status = ? AND expires_at > ? AND expires_at <= ? AND expiring_notified_at IS NULL
              ORDER BY expires_at`
	return queryBookings(ctx, db, query, models.StatusPendingPayment, utc(now), utc(now.Add(window)))
}

// ListLateCheckIns returns confirmed bookings that started more than grace
// ago, are still running and have not been alerted yet.
func (db *DB) ListLateCheckIns(ctx context.Context, now time.Time, grace time.Duration) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE status = ? AND start_time <= ? AND end_time > ? AND late_notified_at IS NULL
              ORDER BY start_time`
	return queryBookings(ctx, db, query, models.StatusConfirmed, utc(now.Add(-grace)), utc(now))
}

// MarkExpiringNotified sets the durable alert marker once.
func (db *DB) MarkExpiringNotified(ctx context.Context, id int64, now time.Time) (bool, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE bookings SET expiring_notified_at = ? WHERE id = ? AND expiring_notified_at IS NULL`, utc(now), id)
	if err != nil {
		return false, fmt.Errorf("failed to mark expiring notification: %w", err)
	}
	return affected(res)
}

// MarkLateNotified sets the durable late check-in marker once.
func (db *DB) MarkLateNotified(ctx context.Context, id int64, now time.Time) (bool, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE bookings SET late_notified_at = ? WHERE id = ? AND late_notified_at IS NULL`, utc(now), id)
	if err != nil {
		return false, fmt.Errorf("failed to mark late notification: %w", err)
	}
	return affected(res)
}
