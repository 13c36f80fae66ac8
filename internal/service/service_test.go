package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"courtbook/internal/database"
	"courtbook/internal/models"
	"courtbook/internal/pricing"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// 2025-06-10 is a Tuesday.
var testNow = time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishJSON(eventType string, payload interface{}) error {
	return m.Called(eventType, payload).Error(0)
}

type mockJobs struct {
	mock.Mock
}

func (m *mockJobs) Enqueue(ctx context.Context, key string, runAt time.Time) error {
	return m.Called(ctx, key, runAt).Error(0)
}

func (m *mockJobs) Cancel(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

type fixture struct {
	db       *database.DB
	clock    fakeClock
	jobs     *mockJobs
	events   *mockPublisher
	bookings *BookingService
	payments *PaymentService
	wallets  *WalletService
	groups   *GroupService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.Nop()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "service.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.SyncCourts(ctx, []models.Court{
		{ID: 1, Name: "Court 1", PricePerHour: 100000, IsActive: true, SortOrder: 1},
		{ID: 2, Name: "Court 2", PricePerHour: 80000, IsActive: true, SortOrder: 2},
		{ID: 3, Name: "Closed", PricePerHour: 80000, IsActive: false, SortOrder: 3},
	}, testNow))

	clock := clockwork.NewFakeClockAt(testNow)

	jobs := new(mockJobs)
	jobs.On("Enqueue", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	jobs.On("Cancel", mock.Anything, mock.Anything).Return(nil).Maybe()

	pub := new(mockPublisher)
	pub.On("PublishJSON", mock.Anything, mock.Anything).Return(nil).Maybe()

	resolver := pricing.NewResolver(db, pricing.NewRuleStrategy(db, time.UTC), pricing.NewBandStrategy(time.UTC))
	policy := BookingPolicy{Location: time.UTC, PhoneRegion: "US"}

	bookings := NewBookingService(db, resolver, jobs, pub, clock, policy, &logger)
	return &fixture{
		db:       db,
		clock:    clock,
		jobs:     jobs,
		events:   pub,
		bookings: bookings,
		payments: NewPaymentService(db, jobs, pub, clock, &logger),
		wallets:  NewWalletService(db, pub, clock, &logger),
		groups:   NewGroupService(db, bookings, pub, clock, &logger),
	}
}

// at returns 2025-06-10 plus the given offset in days at hh:mm UTC.
func at(days, hour, minute int) time.Time {
	return time.Date(2025, 6, 10+days, hour, minute, 0, 0, time.UTC)
}

func (f *fixture) book(t *testing.T, req CreateBookingRequest) *models.Booking {
	t.Helper()
	b, err := f.bookings.CreateBooking(context.Background(), req)
	require.NoError(t, err)
	return b
}

func (f *fixture) deposit(t *testing.T, userID, amount int64) {
	t.Helper()
	_, err := f.wallets.Deposit(context.Background(), userID, amount, "")
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, userID int64) int64 {
	t.Helper()
	w, err := f.db.GetWallet(context.Background(), userID)
	require.NoError(t, err)
	return w.Balance
}
