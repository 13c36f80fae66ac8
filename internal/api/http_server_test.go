package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"courtbook/internal/config"
	"courtbook/internal/database"
	"courtbook/internal/events"
	"courtbook/internal/models"
	"courtbook/internal/pricing"
	"courtbook/internal/service"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

var testNow = time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)

type nopJobs struct{}

func (nopJobs) Enqueue(context.Context, string, time.Time) error { return nil }
func (nopJobs) Cancel(context.Context, string) error             { return nil }

func newTestServer(t *testing.T, cfg config.APIConfig) *HTTPServer {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "api.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.SyncCourts(context.Background(), []models.Court{
		{ID: 1, Name: "Court 1", PricePerHour: 100000, IsActive: true, SortOrder: 1},
		{ID: 2, Name: "Court 2", PricePerHour: 80000, IsActive: true, SortOrder: 2},
	}, testNow))

	clock := clockwork.NewFakeClockAt(testNow)
	bus := events.NewEventBus()
	resolver := pricing.NewResolver(db, pricing.NewRuleStrategy(db, time.UTC), pricing.NewBandStrategy(time.UTC))
	bookings := service.NewBookingService(db, resolver, nopJobs{}, bus, clock,
		service.BookingPolicy{Location: time.UTC, PhoneRegion: "US"}, &logger)

	return NewHTTPServer(cfg, Services{
		Bookings: bookings,
		Payments: service.NewPaymentService(db, nopJobs{}, bus, clock, &logger),
		Wallets:  service.NewWalletService(db, bus, clock, &logger),
		Groups:   service.NewGroupService(db, bookings, bus, clock, &logger),
	}, time.UTC, clock, &logger)
}

func do(t *testing.T, s *HTTPServer, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func slot(day, hour int) (string, string) {
	start := time.Date(2025, 6, 10+day, hour, 0, 0, 0, time.UTC)
	return start.Format(time.RFC3339), start.Add(time.Hour).Format(time.RFC3339)
}

func createBooking(t *testing.T, s *HTTPServer, body map[string]any) models.Booking {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/api/v1/bookings", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var b models.Booking
	decode(t, rec, &b)
	return b
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, config.APIConfig{})
	rec := do(t, s, http.MethodGet, "/healthz", nil, requestIDHeader, "req-1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-1", rec.Header().Get(requestIDHeader))

	rec = do(t, s, http.MethodGet, "/healthz", nil)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestBookingLifecycle(t *testing.T) {
	s := newTestServer(t, config.APIConfig{})
	start, end := slot(0, 18)

	b := createBooking(t, s, map[string]any{
		"court_id": 1, "start_time": start, "end_time": end, "payment_method": "CASH", "user_id": 7,
	})
	assert.Equal(t, models.StatusConfirmed, b.Status)
	assert.Equal(t, int64(100000), b.TotalPrice)

	t.Run("Get", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, fmt.Sprintf("/api/v1/bookings/%d", b.ID), nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = do(t, s, http.MethodGet, "/api/v1/bookings/code/"+b.Code, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = do(t, s, http.MethodGet, "/api/v1/bookings/999", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = do(t, s, http.MethodGet, "/api/v1/bookings/abc", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Conflict", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/api/v1/bookings", map[string]any{
			"court_id": 1, "start_time": start, "end_time": end, "payment_method": "CASH", "user_id": 8,
		})
		require.Equal(t, http.StatusConflict, rec.Code)
		var body map[string]any
		decode(t, rec, &body)
		assert.Equal(t, b.Code, body["booking_code"])
		assert.Equal(t, start, body["existing_start"])
		assert.Equal(t, end, body["existing_end"])
	})

	t.Run("Validation", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/api/v1/bookings", map[string]any{
			"court_id": 1, "start_time": end, "end_time": start, "user_id": 8,
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)

		rec = do(t, s, http.MethodPost, "/api/v1/bookings", map[string]any{"unknown": true})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("UserBookings", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/api/v1/users/7/bookings?limit=10", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Bookings []models.Booking `json:"bookings"`
		}
		decode(t, rec, &body)
		assert.Len(t, body.Bookings, 1)

		rec = do(t, s, http.MethodGet, "/api/v1/users/7/bookings?limit=x", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("CancelByStranger", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/cancel", b.ID), map[string]any{"user_id": 8})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("CancelTwice", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/cancel", b.ID), map[string]any{"user_id": 7})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var res service.CancelResult
		decode(t, rec, &res)
		assert.Equal(t, models.StatusCancelled, res.Status)

		rec = do(t, s, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/cancel", b.ID), map[string]any{"user_id": 7})
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		var body map[string]any
		decode(t, rec, &body)
		assert.Equal(t, models.StatusCancelled, body["current_status"])
	})
}

func TestWalletPayment(t *testing.T) {
	s := newTestServer(t, config.APIConfig{})
	start, end := slot(1, 18)

	rec := do(t, s, http.MethodPost, "/api/v1/wallets/7/deposit", map[string]any{"amount": 60000})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	b := createBooking(t, s, map[string]any{
		"court_id": 1, "start_time": start, "end_time": end, "payment_method": "WALLET", "user_id": 7,
	})
	require.Equal(t, models.StatusPendingPayment, b.Status)

	rec = do(t, s, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/pay/wallet", b.ID), map[string]any{"user_id": 7})
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	var short map[string]any
	decode(t, rec, &short)
	assert.EqualValues(t, 100000, short["required"])
	assert.EqualValues(t, 60000, short["available"])

	rec = do(t, s, http.MethodPost, "/api/v1/wallets/7/deposit", map[string]any{"amount": 50000})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, s, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/pay/wallet", b.ID), map[string]any{"user_id": 7})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var paid service.PaymentResult
	decode(t, rec, &paid)
	assert.Equal(t, int64(10000), paid.BalanceAfter)
	assert.Equal(t, models.StatusConfirmed, paid.Booking.Status)

	rec = do(t, s, http.MethodGet, "/api/v1/wallets/7", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view service.WalletView
	decode(t, rec, &view)
	assert.Equal(t, int64(10000), view.Wallet.Balance)
	assert.Len(t, view.Transactions, 3)

	rec = do(t, s, http.MethodGet, "/api/v1/wallets/7/reconcile", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report service.ReconcileReport
	decode(t, rec, &report)
	assert.True(t, report.Consistent)

	rec = do(t, s, http.MethodGet, "/api/v1/wallets/7/statement.xlsx", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxType, rec.Header().Get("Content-Type"))
	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	rows, err := f.GetRows("Statement")
	require.NoError(t, err)
	assert.Len(t, rows, 5)
	require.NoError(t, f.Close())

	rec = do(t, s, http.MethodGet, "/api/v1/wallets/404", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGatewayPayment(t *testing.T) {
	s := newTestServer(t, config.APIConfig{})
	start, end := slot(0, 20)
	b := createBooking(t, s, map[string]any{
		"court_id": 2, "start_time": start, "end_time": end, "payment_method": "GATEWAY", "user_id": 7,
	})

	rec := do(t, s, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/pay/gateway", b.ID), map[string]any{"reference": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/pay/gateway", b.ID), map[string]any{"reference": "gw-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var paid models.Booking
	decode(t, rec, &paid)
	assert.Equal(t, models.PaymentStatusPaid, paid.PaymentStatus)
}

func TestCourtsAndAvailability(t *testing.T) {
	s := newTestServer(t, config.APIConfig{})

	rec := do(t, s, http.MethodGet, "/api/v1/courts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var courts struct {
		Courts []models.Court `json:"courts"`
	}
	decode(t, rec, &courts)
	assert.Len(t, courts.Courts, 2)

	rec = do(t, s, http.MethodGet, "/api/v1/courts/1/availability?date=2025-06-11", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var avail struct {
		Slots []models.SlotAvailability `json:"slots"`
	}
	decode(t, rec, &avail)
	assert.Len(t, avail.Slots, 34)

	rec = do(t, s, http.MethodGet, "/api/v1/courts/1/availability", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, s, http.MethodGet, "/api/v1/courts/1/availability?date=11-06-2025", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, s, http.MethodGet, "/api/v1/courts/9/availability?date=2025-06-11", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/courts/schedule.xlsx?from=2025-06-10&to=2025-06-16", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "schedule_2025-06-10_to_2025-06-16.xlsx")

	rec = do(t, s, http.MethodGet, "/api/v1/courts/schedule.xlsx?from=2025-06-10", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBulkAndGroups(t *testing.T) {
	s := newTestServer(t, config.APIConfig{})
	s1, e1 := slot(1, 9)
	s2, e2 := slot(1, 10)

	rec := do(t, s, http.MethodPost, "/api/v1/bookings/bulk", map[string]any{
		"bookings": []map[string]any{
			{"court_id": 1, "start_time": s1, "end_time": e1, "payment_method": "CASH", "user_id": 7},
			{"court_id": 1, "start_time": s2, "end_time": e2, "payment_method": "CASH", "user_id": 7},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodPost, "/api/v1/groups", map[string]any{
		"user_id":        7,
		"court_id":       2,
		"start_date":     "2025-06-10T00:00:00Z",
		"end_date":       "2025-06-24T00:00:00Z",
		"weekdays":       []int{2, 4},
		"start_time":     "18:00",
		"end_time":       "19:00",
		"discount_rate":  0.1,
		"payment_method": "CASH",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var group service.GroupResult
	decode(t, rec, &group)
	assert.Equal(t, 5, group.Group.TotalSessions)

	rec = do(t, s, http.MethodGet, fmt.Sprintf("/api/v1/groups/%d", group.Group.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodPost, fmt.Sprintf("/api/v1/groups/%d/cancel", group.Group.ID), map[string]any{"reason": "rain"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var cancelled service.GroupCancelResult
	decode(t, rec, &cancelled)
	assert.Equal(t, 5, cancelled.CancelledCount)
}
