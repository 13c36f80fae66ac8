package database

import (
	"context"
	"fmt"
	"time"

	"courtbook/internal/models"
)

func (tx *Tx) InsertPayment(ctx context.Context, p *models.Payment, now time.Time) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO payments (booking_id, amount, method, status, reference, paid_at, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.BookingID, p.Amount, p.Method, p.Status, p.Reference, nullableTime(p.PaidAt), utc(now), utc(now),
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	p.ID = id
	p.CreatedAt = utc(now)
	p.UpdatedAt = utc(now)
	return nil
}

func getPayment(ctx context.Context, q queryer, bookingID int64) (*models.Payment, error) {
	var p models.Payment
	err := q.QueryRowContext(ctx,
		`SELECT id, booking_id, amount, method, status, reference, paid_at, refunded_at, refunded_amount, created_at, updated_at
         FROM payments WHERE booking_id = ?`, bookingID,
	).Scan(&p.ID, &p.BookingID, &p.Amount, &p.Method, &p.Status, &p.Reference,
		&p.PaidAt, &p.RefundedAt, &p.RefundedAmount, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (db *DB) GetPaymentByBooking(ctx context.Context, bookingID int64) (*models.Payment, error) {
	return getPayment(ctx, db, bookingID)
}

func (tx *Tx) GetPaymentByBooking(ctx context.Context, bookingID int64) (*models.Payment, error) {
	return getPayment(ctx, tx, bookingID)
}

// MarkPaymentPaid settles the booking's unpaid payment record.
func (tx *Tx) MarkPaymentPaid(ctx context.Context, bookingID int64, method, reference string, now time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE payments SET status = ?, method = ?, reference = ?, paid_at = ?, updated_at = ?
         WHERE booking_id = ? AND status = ?`,
		models.PaymentStatusPaid, method, reference, utc(now), utc(now), bookingID, models.PaymentStatusUnpaid,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark payment paid: %w", err)
	}
	return affected(res)
}

// RecordRefund adds a refunded amount; status becomes REFUNDED only for a
// full refund.
func (tx *Tx) RecordRefund(ctx context.Context, bookingID, amount int64, full bool, now time.Time) error {
	status := models.PaymentStatusPaid
	if full {
		status = models.PaymentStatusRefunded
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE payments SET status = ?, refunded_amount = refunded_amount + ?, refunded_at = ?, updated_at = ?
         WHERE booking_id = ? AND status = ?`,
		status, amount, utc(now), utc(now), bookingID, models.PaymentStatusPaid,
	)
	if err != nil {
		return fmt.Errorf("failed to record refund: %w", err)
	}
	return nil
}
