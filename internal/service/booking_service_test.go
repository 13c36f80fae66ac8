package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"courtbook/internal/database"
	"courtbook/internal/domain"
	"courtbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCreateBooking_CashIsConfirmed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b := f.book(t, CreateBookingRequest{
		CourtID: 1, Start: at(0, 18, 0), End: at(0, 19, 0),
		PaymentMethod: models.PaymentMethodCash, UserID: 7,
	})

	assert.Equal(t, models.StatusConfirmed, b.Status)
	assert.Equal(t, models.PaymentStatusPaid, b.PaymentStatus)
	assert.Equal(t, int64(100000), b.TotalPrice)
	assert.Equal(t, int64(100000), b.PaidAmount)
	assert.Nil(t, b.ExpiresAt)
	assert.True(t, strings.HasPrefix(b.Code, "BK250610-"), b.Code)
	assert.Len(t, b.Code, len("BK250610-")+codeSuffixLen)

	p, err := f.db.GetPaymentByBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, p.Status)
	assert.NotNil(t, p.PaidAt)

	_, err = f.db.GetJobByKey(ctx, models.ExpirationJobKey(b.ID))
	assert.ErrorIs(t, err, database.ErrNotFound)
	f.jobs.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything, mock.Anything)
	f.events.AssertCalled(t, "PublishJSON", "booking_created", mock.Anything)
}

func TestCreateBooking_WalletIsHeld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b := f.book(t, CreateBookingRequest{
		CourtID: 1, Start: at(0, 18, 0), End: at(0, 19, 0),
		PaymentMethod: models.PaymentMethodWallet, UserID: 7,
	})

	assert.Equal(t, models.StatusPendingPayment, b.Status)
	assert.Equal(t, models.PaymentStatusUnpaid, b.PaymentStatus)
	require.NotNil(t, b.ExpiresAt)
	assert.True(t, b.ExpiresAt.Equal(testNow.Add(15*time.Minute)))

	job, err := f.db.GetJobByKey(ctx, models.ExpirationJobKey(b.ID))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, b.ID, job.BookingID)
	assert.True(t, job.RunAt.Equal(*b.ExpiresAt))
	f.jobs.AssertCalled(t, "Enqueue", mock.Anything, models.ExpirationJobKey(b.ID), mock.Anything)

	_, err = f.bookings.CreateBooking(ctx, CreateBookingRequest{
		CourtID: 1, Start: at(0, 18, 0), End: at(0, 19, 0),
		PaymentMethod: models.PaymentMethodWallet, UserID: 8,
	})
	require.ErrorIs(t, err, domain.ErrConflict)

	var conflict *domain.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, b.Code, conflict.BookingCode)
	assert.Equal(t, int64(1), conflict.CourtID)
}

func TestCreateBooking_IndexFailureKeepsBooking(t *testing.T) {
	f := newFixture(t)
	jobs := new(mockJobs)
	jobs.On("Enqueue", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("redis down"))
	f.bookings.jobs = jobs

	b := f.book(t, CreateBookingRequest{
		CourtID: 1, Start: at(0, 18, 0), End: at(0, 19, 0),
		PaymentMethod: models.PaymentMethodGateway, UserID: 7,
	})

	job, err := f.db.GetJobByKey(context.Background(), models.ExpirationJobKey(b.ID))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	jobs.AssertExpectations(t)
}

func TestCreateBooking_Guest(t *testing.T) {
	f := newFixture(t)

	b := f.book(t, CreateBookingRequest{
		CourtID: 2, Start: at(0, 10, 0), End: at(0, 11, 30),
		PaymentMethod: models.PaymentMethodWallet,
		GuestName:     "Walk-in", GuestPhone: "+1 650-253-0000",
	})

	assert.Equal(t, models.StatusConfirmed, b.Status)
	assert.Equal(t, models.PaymentMethodCash, b.PaymentMethod)
	assert.Equal(t, models.PaymentStatusPaid, b.PaymentStatus)
	assert.Equal(t, int64(120000), b.TotalPrice)

	name, phone, ok := b.Owner.Guest()
	require.True(t, ok)
	assert.Equal(t, "Walk-in", name)
	assert.Equal(t, "+16502530000", phone)

	stored, err := f.bookings.GetBookingByCode(context.Background(), strings.ToLower(b.Code))
	require.NoError(t, err)
	assert.True(t, stored.Owner.IsGuest())
}

func TestCreateBooking_Maintenance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	staff := int64(99)

	b := f.book(t, CreateBookingRequest{
		CourtID: 1, Start: at(0, 12, 0), End: at(0, 14, 0),
		Type: models.BookingTypeMaintenance, StaffID: &staff, Note: "resurfacing",
	})

	assert.Equal(t, models.StatusBlocked, b.Status)
	assert.Equal(t, int64(0), b.TotalPrice)
	assert.True(t, b.Owner.IsZero())
	assert.Equal(t, models.CreatedByStaff, b.CreatedBy)

	_, err := f.db.GetPaymentByBooking(ctx, b.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)

	_, err = f.bookings.CreateBooking(ctx, CreateBookingRequest{
		CourtID: 1, Start: at(0, 13, 30), End: at(0, 14, 30),
		PaymentMethod: models.PaymentMethodCash, UserID: 7,
	})
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = f.bookings.CancelBooking(ctx, b.ID, Requester{StaffID: staff, IsStaff: true})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestCreateBooking_ConflictReportsExistingInterval(t *testing.T) {
	f := newFixture(t)
	held := f.book(t, CreateBookingRequest{CourtID: 1, Start: at(0, 18, 0), End: at(0, 19, 0), PaymentMethod: "CASH", UserID: 1})

	_, err := f.bookings.CreateBooking(context.Background(), CreateBookingRequest{
		CourtID: 1, Start: at(0, 18, 30), End: at(0, 20, 0), PaymentMethod: "CASH", UserID: 2,
	})
	var conflict *domain.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, held.Code, conflict.BookingCode)
	assert.True(t, conflict.Start.Equal(at(0, 18, 30)))
	assert.True(t, conflict.End.Equal(at(0, 20, 0)))
	assert.True(t, conflict.ExistingStart.Equal(at(0, 18, 0)))
	assert.True(t, conflict.ExistingEnd.Equal(at(0, 19, 0)))
}

func TestCreateBooking_TouchingIntervals(t *testing.T) {
	f := newFixture(t)

	f.book(t, CreateBookingRequest{CourtID: 1, Start: at(0, 18, 0), End: at(0, 19, 0), PaymentMethod: "CASH", UserID: 1})
	f.book(t, CreateBookingRequest{CourtID: 1, Start: at(0, 19, 0), End: at(0, 20, 0), PaymentMethod: "CASH", UserID: 2})
	f.book(t, CreateBookingRequest{CourtID: 1, Start: at(0, 17, 0), End: at(0, 18, 0), PaymentMethod: "CASH", UserID: 3})
	f.book(t, CreateBookingRequest{CourtID: 2, Start: at(0, 18, 0), End: at(0, 19, 0), PaymentMethod: "CASH", UserID: 4})

	_, err := f.bookings.CreateBooking(context.Background(), CreateBookingRequest{
		CourtID: 1, Start: at(0, 18, 30), End: at(0, 19, 30), PaymentMethod: "CASH", UserID: 5,
	})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestCreateBooking_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  CreateBookingRequest
		want error
	}{
		{"StartInPast", CreateBookingRequest{CourtID: 1, Start: at(0, 7, 0), End: at(0, 8, 0), UserID: 1}, domain.ErrValidation},
		{"EndBeforeStart", CreateBookingRequest{CourtID: 1, Start: at(0, 19, 0), End: at(0, 18, 0), UserID: 1}, domain.ErrValidation},
		{"ZeroDuration", CreateBookingRequest{CourtID: 1, Start: at(0, 19, 0), End: at(0, 19, 0), UserID: 1}, domain.ErrValidation},
		{"MissingTimes", CreateBookingRequest{CourtID: 1, UserID: 1}, domain.ErrValidation},
		{"TooFarAhead", CreateBookingRequest{CourtID: 1, Start: at(61, 18, 0), End: at(61, 19, 0), UserID: 1}, domain.ErrValidation},
		{"AccountAndGuest", CreateBookingRequest{CourtID: 1, Start: at(0, 18, 0), End: at(0, 19, 0), UserID: 1, GuestName: "A", GuestPhone: "+16502530000"}, domain.ErrValidation},
		{"GuestWithoutPhone", CreateBookingRequest{CourtID: 1, Start: at(0, 18, 0), End: at(0, 19, 0), GuestName: "A"}, domain.ErrValidation},
		{"GuestWithoutName", CreateBookingRequest{CourtID: 1, Start: at(0, 18, 0), End: at(0, 19, 0), GuestPhone: "+16502530000"}, domain.ErrValidation},
		{"GuestBadPhone", CreateBookingRequest{CourtID: 1, Start: at(0, 18, 0), End: at(0, 19, 0), GuestName: "A", GuestPhone: "12"}, domain.ErrValidation},
		{"NoOwner", CreateBookingRequest{CourtID: 1, Start: at(0, 18, 0), End: at(0, 19, 0)}, domain.ErrValidation},
		{"UnknownType", CreateBookingRequest{CourtID: 1, Start: at(0, 18, 0), End: at(0, 19, 0), UserID: 1, Type: "PARTY"}, domain.ErrValidation},
		{"UnknownMethod", CreateBookingRequest{CourtID: 1, Start: at(0, 18, 0), End: at(0, 19, 0), UserID: 1, PaymentMethod: "BARTER"}, domain.ErrValidation},
		{"InactiveCourt", CreateBookingRequest{CourtID: 3, Start: at(0, 18, 0), End: at(0, 19, 0), UserID: 1}, domain.ErrValidation},
		{"UnknownCourt", CreateBookingRequest{CourtID: 42, Start: at(0, 18, 0), End: at(0, 19, 0), UserID: 1}, domain.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.bookings.CreateBooking(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	booked, err := f.db.ListCourtBookings(ctx, 1, at(0, 0, 0), at(1, 0, 0))
	require.NoError(t, err)
	assert.Empty(t, booked)
}

func TestCreateBulkBookings(t *testing.T) {
	ctx := context.Background()

	t.Run("AllCreated", func(t *testing.T) {
		f := newFixture(t)
		created, err := f.bookings.CreateBulkBookings(ctx, []CreateBookingRequest{
			{CourtID: 1, Start: at(0, 18, 0), End: at(0, 19, 0), PaymentMethod: "CASH", UserID: 1},
			{CourtID: 1, Start: at(0, 19, 0), End: at(0, 20, 0), PaymentMethod: "WALLET", UserID: 1},
			{CourtID: 2, Start: at(0, 18, 0), End: at(0, 19, 0), PaymentMethod: "CASH", UserID: 1},
		})
		require.NoError(t, err)
		require.Len(t, created, 3)
		codes := map[string]bool{}
		for _, b := range created {
			assert.NotZero(t, b.ID)
			codes[b.Code] = true
		}
		assert.Len(t, codes, 3)
	})

	t.Run("ConflictWithExistingRollsBackAll", func(t *testing.T) {
		f := newFixture(t)
		f.book(t, CreateBookingRequest{CourtID: 2, Start: at(0, 18, 0), End: at(0, 19, 0), PaymentMethod: "CASH", UserID: 9})

		_, err := f.bookings.CreateBulkBookings(ctx, []CreateBookingRequest{
			{CourtID: 1, Start: at(0, 18, 0), End: at(0, 19, 0), PaymentMethod: "WALLET", UserID: 1},
			{CourtID: 2, Start: at(0, 18, 30), End: at(0, 19, 30), PaymentMethod: "CASH", UserID: 1},
		})
		require.ErrorIs(t, err, domain.ErrConflict)

		booked, err := f.db.ListCourtBookings(ctx, 1, at(0, 0, 0), at(1, 0, 0))
		require.NoError(t, err)
		assert.Empty(t, booked)

		due, err := f.db.GetDueJobs(ctx, at(1, 0, 0), 10)
		require.NoError(t, err)
		assert.Empty(t, due)
	})

	t.Run("OverlapInsideBatch", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.bookings.CreateBulkBookings(ctx, []CreateBookingRequest{
			{CourtID: 1, Start: at(0, 18, 0), End: at(0, 19, 0), PaymentMethod: "CASH", UserID: 1},
			{CourtID: 1, Start: at(0, 18, 30), End: at(0, 19, 30), PaymentMethod: "CASH", UserID: 2},
		})
		require.ErrorIs(t, err, domain.ErrConflict)

		booked, err := f.db.ListCourtBookings(ctx, 1, at(0, 0, 0), at(1, 0, 0))
		require.NoError(t, err)
		assert.Empty(t, booked)
	})

	t.Run("InvalidItemFailsFast", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.bookings.CreateBulkBookings(ctx, []CreateBookingRequest{
			{CourtID: 1, Start: at(0, 18, 0), End: at(0, 19, 0), PaymentMethod: "CASH", UserID: 1},
			{CourtID: 42, Start: at(0, 18, 0), End: at(0, 19, 0), PaymentMethod: "CASH", UserID: 1},
		})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Empty", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.bookings.CreateBulkBookings(ctx, nil)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestCreateBooking_Concurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(user int64) {
			defer wg.Done()
			_, err := f.bookings.CreateBooking(ctx, CreateBookingRequest{
				CourtID:       1,
				Start:         at(1, 18, 0).Add(time.Duration(user) * time.Minute),
				End:           at(1, 19, 0),
				PaymentMethod: models.PaymentMethodWallet,
				UserID:        user,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(int64(i + 1))
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, n-1, conflicts)

	booked, err := f.db.ListCourtBookings(ctx, 1, at(1, 0, 0), at(2, 0, 0))
	require.NoError(t, err)
	assert.Len(t, booked, 1)
}

func TestCancelBooking_RefundTiers(t *testing.T) {
	ctx := context.Background()

	t.Run("MoreThan24Hours", func(t *testing.T) {
		f := newFixture(t)
		// 30h ahead, 72 minutes at 100000/h.
		b := f.book(t, CreateBookingRequest{CourtID: 1, Start: at(1, 14, 0), End: at(1, 15, 12), PaymentMethod: "CASH", UserID: 7})
		require.Equal(t, int64(120000), b.TotalPrice)

		res, err := f.bookings.CancelBooking(ctx, b.ID, Requester{UserID: 7})
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, res.Status)
		assert.Equal(t, 100, res.RefundPercent)
		assert.Equal(t, int64(120000), res.RefundAmount)
		assert.Equal(t, models.PaymentStatusRefunded, res.Booking.PaymentStatus)
		assert.NotNil(t, res.Booking.CancelledAt)

		p, err := f.db.GetPaymentByBooking(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusRefunded, p.Status)
		assert.Equal(t, int64(120000), p.RefundedAmount)
		assert.Equal(t, int64(120000), f.balance(t, 7))
	})

	t.Run("Between12And24Hours", func(t *testing.T) {
		f := newFixture(t)
		b := f.book(t, CreateBookingRequest{CourtID: 1, Start: at(1, 2, 0), End: at(1, 3, 0), PaymentMethod: "CASH", UserID: 7})

		res, err := f.bookings.CancelBooking(ctx, b.ID, Requester{UserID: 7})
		require.NoError(t, err)
		assert.Equal(t, 50, res.RefundPercent)
		assert.Equal(t, int64(50000), res.RefundAmount)
		assert.Equal(t, models.PaymentStatusPaid, res.Booking.PaymentStatus)

		p, err := f.db.GetPaymentByBooking(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusPaid, p.Status)
		assert.Equal(t, int64(50000), p.RefundedAmount)
		assert.Equal(t, int64(50000), f.balance(t, 7))
	})

	t.Run("LessThan12Hours", func(t *testing.T) {
		f := newFixture(t)
		b := f.book(t, CreateBookingRequest{CourtID: 1, Start: at(0, 18, 0), End: at(0, 19, 0), PaymentMethod: "CASH", UserID: 7})

		res, err := f.bookings.CancelBooking(ctx, b.ID, Requester{UserID: 7})
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, res.Status)
		assert.Equal(t, 0, res.RefundPercent)
		assert.Equal(t, int64(0), res.RefundAmount)

		p, err := f.db.GetPaymentByBooking(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusPaid, p.Status)

		_, err = f.db.GetWallet(ctx, 7)
		assert.ErrorIs(t, err, database.ErrNotFound)
	})
}

func TestCancelBooking(t *testing.T) {
	ctx := context.Background()

	t.Run("HeldBookingIsReleased", func(t *testing.T) {
		f := newFixture(t)
		b := f.book(t, CreateBookingRequest{CourtID: 1, Start: at(2, 18, 0), End: at(2, 19, 0), PaymentMethod: "WALLET", UserID: 7})

		res, err := f.bookings.CancelBooking(ctx, b.ID, Requester{UserID: 7})
		require.NoError(t, err)
		assert.Equal(t, int64(0), res.RefundAmount)
		assert.Nil(t, res.Booking.ExpiresAt)

		job, err := f.db.GetJobByKey(ctx, models.ExpirationJobKey(b.ID))
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusCancelled, job.Status)
		f.jobs.AssertCalled(t, "Cancel", mock.Anything, models.ExpirationJobKey(b.ID))

		f.book(t, CreateBookingRequest{CourtID: 1, Start: at(2, 18, 0), End: at(2, 19, 0), PaymentMethod: "CASH", UserID: 8})
	})

	t.Run("OtherUserSeesNotFound", func(t *testing.T) {
		f := newFixture(t)
		b := f.book(t, CreateBookingRequest{CourtID: 1, Start: at(2, 18, 0), End: at(2, 19, 0), PaymentMethod: "CASH", UserID: 7})

		_, err := f.bookings.CancelBooking(ctx, b.ID, Requester{UserID: 8})
		assert.ErrorIs(t, err, domain.ErrNotFound)

		res, err := f.bookings.CancelBooking(ctx, b.ID, Requester{StaffID: 1, IsStaff: true})
		require.NoError(t, err)
		assert.Equal(t, int64(100000), res.RefundAmount)
	})

	t.Run("TwiceIsInvalidState", func(t *testing.T) {
		f := newFixture(t)
		b := f.book(t, CreateBookingRequest{CourtID: 1, Start: at(2, 18, 0), End: at(2, 19, 0), PaymentMethod: "CASH", UserID: 7})

		_, err := f.bookings.CancelBooking(ctx, b.ID, Requester{UserID: 7})
		require.NoError(t, err)

		_, err = f.bookings.CancelBooking(ctx, b.ID, Requester{UserID: 7})
		var stateErr *domain.InvalidStateError
		require.True(t, errors.As(err, &stateErr))
		assert.Equal(t, models.StatusCancelled, stateErr.Current)
		assert.Equal(t, int64(100000), f.balance(t, 7))
	})

	t.Run("GuestGetsNoWalletRefund", func(t *testing.T) {
		f := newFixture(t)
		b := f.book(t, CreateBookingRequest{CourtID: 1, Start: at(3, 18, 0), End: at(3, 19, 0), GuestName: "G", GuestPhone: "+16502530000"})

		res, err := f.bookings.CancelBooking(ctx, b.ID, Requester{IsStaff: true})
		require.NoError(t, err)
		assert.Equal(t, int64(0), res.RefundAmount)
		assert.Equal(t, models.PaymentStatusPaid, res.Booking.PaymentStatus)
	})

	t.Run("UnknownBooking", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.bookings.CancelBooking(ctx, 404, Requester{IsStaff: true})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestCheckInBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b := f.book(t, CreateBookingRequest{CourtID: 1, Start: at(0, 18, 0), End: at(0, 19, 0), PaymentMethod: "CASH", UserID: 7})
	held := f.book(t, CreateBookingRequest{CourtID: 2, Start: at(0, 18, 0), End: at(0, 19, 0), PaymentMethod: "GATEWAY", UserID: 7})

	f.clock.Advance(at(0, 17, 44).Sub(testNow))
	_, err := f.bookings.CheckInBooking(ctx, b.Code)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	f.clock.Advance(time.Minute)
	checked, err := f.bookings.CheckInBooking(ctx, strings.ToLower(b.Code))
	require.NoError(t, err)
	assert.Equal(t, models.StatusCheckedIn, checked.Status)
	assert.NotNil(t, checked.CheckedInAt)

	_, err = f.bookings.CheckInBooking(ctx, b.Code)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = f.bookings.CheckInBooking(ctx, held.Code)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = f.bookings.CheckInBooking(ctx, "BK000000-NOPE00")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.bookings.CheckInBooking(ctx, " ")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCheckInBooking_AfterEnd(t *testing.T) {
	f := newFixture(t)
	b := f.book(t, CreateBookingRequest{CourtID: 1, Start: at(0, 9, 0), End: at(0, 10, 0), PaymentMethod: "CASH", UserID: 7})

	f.clock.Advance(at(0, 10, 1).Sub(testNow))
	_, err := f.bookings.CheckInBooking(context.Background(), b.Code)
	var stateErr *domain.InvalidStateError
	require.True(t, errors.As(err, &stateErr))
	assert.Equal(t, models.StatusConfirmed, stateErr.Current)
}

func TestCompleteBookings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	early := f.book(t, CreateBookingRequest{CourtID: 1, Start: at(0, 9, 0), End: at(0, 10, 0), PaymentMethod: "CASH", UserID: 7})
	late := f.book(t, CreateBookingRequest{CourtID: 2, Start: at(0, 9, 0), End: at(0, 11, 0), PaymentMethod: "CASH", UserID: 8})

	_, err := f.bookings.CompleteBooking(ctx, early.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	f.clock.Advance(at(0, 9, 0).Sub(testNow))
	_, err = f.bookings.CheckInBooking(ctx, early.Code)
	require.NoError(t, err)
	_, err = f.bookings.CheckInBooking(ctx, late.Code)
	require.NoError(t, err)

	done, err := f.bookings.CompleteBooking(ctx, early.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)

	n, err := f.bookings.CompleteFinishedBookings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.clock.Advance(2 * time.Hour)
	n, err = f.bookings.CompleteFinishedBookings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.bookings.GetBooking(ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestExpireBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b := f.book(t, CreateBookingRequest{CourtID: 1, Start: at(0, 18, 0), End: at(0, 19, 0), PaymentMethod: "WALLET", UserID: 7})

	ok, err := f.bookings.ExpireBooking(ctx, b.ID, SourceScheduler)
	require.NoError(t, err)
	assert.False(t, ok, "hold must not expire before its deadline")

	f.clock.Advance(15 * time.Minute)
	ok, err = f.bookings.ExpireBooking(ctx, b.ID, SourceScheduler)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.bookings.ExpireBooking(ctx, b.ID, SourceSweep)
	require.NoError(t, err)
	assert.False(t, ok, "second attempt is a skipped outcome")

	got, err := f.bookings.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, got.Status)
	assert.Equal(t, models.PaymentStatusUnpaid, got.PaymentStatus)

	f.events.AssertNumberOfCalls(t, "PublishJSON", 2)

	f.book(t, CreateBookingRequest{CourtID: 1, Start: at(0, 18, 0), End: at(0, 19, 0), PaymentMethod: "CASH", UserID: 8})
}

func TestExpireBooking_PaidIsSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, 7, 200000)

	b := f.book(t, CreateBookingRequest{CourtID: 1, Start: at(0, 18, 0), End: at(0, 19, 0), PaymentMethod: "WALLET", UserID: 7})
	_, err := f.payments.PayWithWallet(ctx, b.ID, 7)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	ok, err := f.bookings.ExpireBooking(ctx, b.ID, SourceScheduler)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := f.bookings.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
	assert.Equal(t, int64(100000), f.balance(t, 7))
}

func TestExpireOverdueHolds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.book(t, CreateBookingRequest{CourtID: 1, Start: at(0, 18, 0), End: at(0, 19, 0), PaymentMethod: "WALLET", UserID: 7})
	f.clock.Advance(5 * time.Minute)
	b := f.book(t, CreateBookingRequest{CourtID: 2, Start: at(0, 18, 0), End: at(0, 19, 0), PaymentMethod: "GATEWAY", UserID: 8})

	f.clock.Advance(11 * time.Minute)
	n, err := f.bookings.ExpireOverdueHolds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	f.clock.Advance(5 * time.Minute)
	n, err = f.bookings.ExpireOverdueHolds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.bookings.ExpireOverdueHolds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	for _, id := range []int64{a.ID, b.ID} {
		got, err := f.bookings.GetBooking(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusExpired, got.Status)
	}
	f.jobs.AssertCalled(t, "Cancel", mock.Anything, models.ExpirationJobKey(a.ID))
}

func TestGetCourtAvailability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.book(t, CreateBookingRequest{CourtID: 1, Start: at(0, 18, 0), End: at(0, 19, 0), PaymentMethod: "CASH", UserID: 7})
	expired := f.book(t, CreateBookingRequest{CourtID: 1, Start: at(0, 10, 0), End: at(0, 11, 0), PaymentMethod: "WALLET", UserID: 8})
	f.clock.Advance(15 * time.Minute)
	_, err := f.bookings.ExpireBooking(ctx, expired.ID, SourceScheduler)
	require.NoError(t, err)

	slots, err := f.bookings.GetCourtAvailability(ctx, 1, at(0, 0, 0))
	require.NoError(t, err)
	require.Len(t, slots, 34)

	byLabel := map[string]models.SlotAvailability{}
	for _, s := range slots {
		byLabel[s.TimeLabel] = s
	}

	assert.Equal(t, "06:00", slots[0].TimeLabel)
	assert.Equal(t, "22:30", slots[len(slots)-1].TimeLabel)
	assert.False(t, byLabel["07:30"].Available, "started slots are not bookable")
	assert.True(t, byLabel["08:30"].Available)
	assert.True(t, byLabel["10:00"].Available, "expired holds release the slot")
	assert.False(t, byLabel["18:00"].Available)
	assert.False(t, byLabel["18:30"].Available)
	assert.True(t, byLabel["19:00"].Available)

	assert.Equal(t, models.PriceTypeNormal, byLabel["09:00"].PriceType)
	assert.Equal(t, int64(50000), byLabel["09:00"].Price)
	assert.Equal(t, models.PriceTypeGolden, byLabel["17:00"].PriceType)
	assert.Equal(t, int64(75000), byLabel["17:00"].Price)
	// Tuesday evenings are not peak.
	assert.Equal(t, models.PriceTypeNormal, byLabel["21:00"].PriceType)

	friday, err := f.bookings.GetCourtAvailability(ctx, 1, at(3, 0, 0))
	require.NoError(t, err)
	for _, s := range friday {
		if s.TimeLabel == "21:00" {
			assert.Equal(t, models.PriceTypePeak, s.PriceType)
			assert.Equal(t, int64(100000), s.Price)
		}
	}

	_, err = f.bookings.GetCourtAvailability(ctx, 42, at(0, 0, 0))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.book(t, CreateBookingRequest{CourtID: 1, Start: at(0, 18, 0), End: at(0, 19, 0), PaymentMethod: "CASH", UserID: 7})
	f.book(t, CreateBookingRequest{CourtID: 2, Start: at(1, 9, 0), End: at(1, 10, 0), PaymentMethod: "CASH", UserID: 7})
	f.book(t, CreateBookingRequest{CourtID: 2, Start: at(5, 9, 0), End: at(5, 10, 0), PaymentMethod: "CASH", UserID: 7})

	courts, booked, err := f.bookings.Schedule(ctx, at(0, 0, 0), at(2, 0, 0))
	require.NoError(t, err)
	assert.Len(t, courts, 2, "inactive courts are left out")
	assert.Len(t, booked, 2)

	_, _, err = f.bookings.Schedule(ctx, at(2, 0, 0), at(0, 0, 0))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestNotifyAlerts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	held := f.book(t, CreateBookingRequest{CourtID: 1, Start: at(0, 18, 0), End: at(0, 19, 0), PaymentMethod: "WALLET", UserID: 7})
	f.clock.Advance(11 * time.Minute)

	n, err := f.bookings.NotifyExpiringHolds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.bookings.NotifyExpiringHolds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "each hold is announced once")
	f.events.AssertCalled(t, "PublishJSON", "booking_expiring_soon", mock.Anything)

	confirmed := f.book(t, CreateBookingRequest{CourtID: 2, Start: at(0, 9, 0), End: at(0, 10, 0), PaymentMethod: "CASH", UserID: 8})
	f.clock.Advance(at(0, 9, 20).Sub(f.clock.Now()))

	n, err = f.bookings.NotifyLateCheckIns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.bookings.NotifyLateCheckIns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := f.db.GetBooking(ctx, confirmed.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LateNotifiedAt)

	got, err = f.db.GetBooking(ctx, held.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.ExpiringNotifiedAt)
}
