package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"courtbook/internal/database"
	"courtbook/internal/domain"
	"courtbook/internal/events"
	"courtbook/internal/metrics"
	"courtbook/internal/models"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// RefundPercentage maps the time left until the booking starts to the share
// of the paid amount returned on cancellation.
func RefundPercentage(untilStart time.Duration) int {
	switch {
	case untilStart > 24*time.Hour:
		return 100
	case untilStart >= 12*time.Hour:
		return 50
	default:
		return 0
	}
}

// RefundAmount returns round(paid * percent / 100).
func RefundAmount(paid int64, percent int) int64 {
	if paid <= 0 || percent <= 0 {
		return 0
	}
	return int64(math.Round(float64(paid) * float64(percent) / 100))
}

type PaymentResult struct {
	Booking       *models.Booking           `json:"booking"`
	BalanceBefore int64                     `json:"balance_before"`
	BalanceAfter  int64                     `json:"balance_after"`
	Transaction   *models.WalletTransaction `json:"transaction,omitempty"`
}

type PaymentService struct {
	db       *database.DB
	jobs     domain.JobScheduler
	eventBus domain.EventPublisher
	clock    clockwork.Clock
	logger   *zerolog.Logger
}

func NewPaymentService(db *database.DB, jobs domain.JobScheduler, eventBus domain.EventPublisher, clock clockwork.Clock, logger *zerolog.Logger) *PaymentService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &PaymentService{db: db, jobs: jobs, eventBus: eventBus, clock: clock, logger: logger}
}

// PayWithWallet debits the owner's wallet and confirms the held booking in
// one transaction.
func (s *PaymentService) PayWithWallet(ctx context.Context, bookingID, userID int64) (*PaymentResult, error) {
	now := s.clock.Now()
	var result PaymentResult

	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		b, err := loadPayableBooking(ctx, tx, bookingID, now)
		if err != nil {
			return err
		}
		if !b.Owner.OwnedBy(userID) {
			return &domain.NotFoundError{Entity: "booking", ID: bookingID}
		}

		wallet, err := tx.GetWallet(ctx, userID)
		if errors.Is(err, database.ErrNotFound) {
			return &domain.NotFoundError{Entity: "wallet", ID: userID}
		}
		if err != nil {
			return err
		}
		if wallet.Balance < b.TotalPrice {
			return &domain.InsufficientFundsError{Required: b.TotalPrice, Available: wallet.Balance}
		}

		bookingRef := b.ID
		txn, err := tx.ApplyLedgerEntry(ctx, wallet.ID, database.LedgerEntry{
			Type:        models.TxTypePayment,
			Amount:      -b.TotalPrice,
			BookingID:   &bookingRef,
			Description: "Payment for booking " + b.Code,
		}, now)
		if err != nil {
			return err
		}

		reference := fmt.Sprintf("wallet-tx-%d", txn.ID)
		if err := settleBooking(ctx, tx, b, models.PaymentMethodWallet, reference, now); err != nil {
			return err
		}

		result.BalanceBefore = txn.BalanceBefore
		result.BalanceAfter = txn.BalanceAfter
		result.Transaction = txn
		result.Booking, err = tx.GetBooking(ctx, b.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.IncWalletTransaction(models.TxTypePayment)
	s.afterSettle(ctx, result.Booking, models.PaymentMethodWallet)
	return &result, nil
}

// ConfirmGatewayPayment applies an external gateway's success callback.
// Replaying the callback with the same reference returns the paid booking.
func (s *PaymentService) ConfirmGatewayPayment(ctx context.Context, bookingID int64, reference string) (*models.Booking, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, domain.NewValidationError("reference", "is required")
	}
	now := s.clock.Now()

	var (
		booking *models.Booking
		replay  bool
	)
	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		b, err := tx.GetBooking(ctx, bookingID)
		if errors.Is(err, database.ErrNotFound) {
			return &domain.NotFoundError{Entity: "booking", ID: bookingID}
		}
		if err != nil {
			return err
		}

		if b.PaymentStatus == models.PaymentStatusPaid {
			p, err := tx.GetPaymentByBooking(ctx, b.ID)
			if err != nil && !errors.Is(err, database.ErrNotFound) {
				return err
			}
			if p != nil && p.Reference == reference {
				booking, replay = b, true
				return nil
			}
		}

		if _, err := loadPayableBooking(ctx, tx, bookingID, now); err != nil {
			return err
		}
		if err := settleBooking(ctx, tx, b, models.PaymentMethodGateway, reference, now); err != nil {
			return err
		}
		booking, err = tx.GetBooking(ctx, b.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if replay {
		s.logger.Info().Int64("booking_id", bookingID).Str("reference", reference).Msg("gateway callback replayed")
		return booking, nil
	}
	s.afterSettle(ctx, booking, models.PaymentMethodGateway)
	return booking, nil
}

func (s *PaymentService) afterSettle(ctx context.Context, b *models.Booking, method string) {
	if s.jobs != nil {
		if err := s.jobs.Cancel(ctx, models.ExpirationJobKey(b.ID)); err != nil {
			s.logger.Warn().Err(err).Int64("booking_id", b.ID).Msg("failed to cancel expiration job")
		}
	}
	metrics.IncTransition(models.StatusConfirmed)
	s.logger.Info().
		Int64("booking_id", b.ID).
		Str("method", method).
		Int64("amount", b.PaidAmount).
		Msg("booking paid")
	publishBookingEvent(s.eventBus, s.logger, events.EventBookingConfirmed, b, method, 0)
}

// loadPayableBooking returns the booking if it is a live unpaid hold.
func loadPayableBooking(ctx context.Context, tx *database.Tx, bookingID int64, now time.Time) (*models.Booking, error) {
	b, err := tx.GetBooking(ctx, bookingID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, &domain.NotFoundError{Entity: "booking", ID: bookingID}
	}
	if err != nil {
		return nil, err
	}
	if b.Status != models.StatusPendingPayment || b.PaymentStatus != models.PaymentStatusUnpaid {
		return nil, &domain.InvalidStateError{Op: "pay", Current: b.Status}
	}
	if b.ExpiresAt != nil && !now.Before(*b.ExpiresAt) {
		return nil, &domain.InvalidStateError{Op: "pay", Current: b.Status, Reason: "payment hold has expired"}
	}
	return b, nil
}

// settleBooking marks the payment and the booking paid and retires the
// expiration job row, all inside the caller's transaction.
func settleBooking(ctx context.Context, tx *database.Tx, b *models.Booking, method, reference string, now time.Time) error {
	if _, err := tx.MarkPaymentPaid(ctx, b.ID, method, reference, now); err != nil {
		return err
	}
	ok, err := tx.ConfirmPaidBooking(ctx, b.ID, method, b.TotalPrice, now)
	if err != nil {
		return err
	}
	if !ok {
		return &domain.InvalidStateError{Op: "pay", Current: b.Status, Reason: "booking changed concurrently"}
	}
	_, err = tx.CancelJob(ctx, models.ExpirationJobKey(b.ID), now)
	return err
}

// creditWallet adds a positive ledger entry to the user's wallet, creating
// the wallet if needed.
func creditWallet(ctx context.Context, tx *database.Tx, userID int64, entry database.LedgerEntry, now time.Time) (*models.WalletTransaction, error) {
	wallet, err := tx.GetOrCreateWallet(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	return tx.ApplyLedgerEntry(ctx, wallet.ID, entry, now)
}
