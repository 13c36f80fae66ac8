package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"courtbook/internal/config"
	"courtbook/internal/metrics"
	"courtbook/internal/service"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

const requestIDHeader = "X-Request-ID"

// Services bundles the use cases exposed over HTTP.
type Services struct {
	Bookings *service.BookingService
	Payments *service.PaymentService
	Wallets  *service.WalletService
	Groups   *service.GroupService
}

// HTTPServer exposes the booking engine as a JSON API.
type HTTPServer struct {
	cfg      config.APIConfig
	bookings *service.BookingService
	payments *service.PaymentService
	wallets  *service.WalletService
	groups   *service.GroupService
	loc      *time.Location
	clock    clockwork.Clock
	auth     *HTTPAuth
	logger   *zerolog.Logger
	mux      *http.ServeMux
	server   *http.Server
}

func NewHTTPServer(cfg config.APIConfig, svc Services, loc *time.Location, clock clockwork.Clock, logger *zerolog.Logger) *HTTPServer {
	if loc == nil {
		loc = time.UTC
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	httpLogger := logger.With().Str("component", "http").Logger()

	srv := &HTTPServer{
		cfg:      cfg,
		bookings: svc.Bookings,
		payments: svc.Payments,
		wallets:  svc.Wallets,
		groups:   svc.Groups,
		loc:      loc,
		clock:    clock,
		auth:     NewHTTPAuth(cfg),
		logger:   &httpLogger,
		mux:      http.NewServeMux(),
	}
	srv.routes()

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return srv
}

func (s *HTTPServer) routes() {
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.route("GET /api/v1/courts", permReadCourts, s.handleListCourts)
	s.route("GET /api/v1/courts/{id}/availability", permReadCourts, s.handleCourtAvailability)
	s.route("GET /api/v1/courts/schedule.xlsx", permReadBookings, s.handleScheduleExport)

	s.route("POST /api/v1/bookings", permWriteBookings, s.handleCreateBooking)
	s.route("POST /api/v1/bookings/bulk", permWriteBookings, s.handleCreateBulk)
	s.route("POST /api/v1/bookings/checkin", permWriteBookings, s.handleCheckIn)
	s.route("GET /api/v1/bookings/{id}", permReadBookings, s.handleGetBooking)
	s.route("GET /api/v1/bookings/code/{code}", permReadBookings, s.handleGetBookingByCode)
	s.route("POST /api/v1/bookings/{id}/cancel", permWriteBookings, s.handleCancelBooking)
	s.route("POST /api/v1/bookings/{id}/complete", permWriteBookings, s.handleCompleteBooking)
	s.route("POST /api/v1/bookings/{id}/pay/wallet", permWritePayments, s.handlePayWithWallet)
	s.route("POST /api/v1/bookings/{id}/pay/gateway", permWritePayments, s.handleGatewayPayment)
	s.route("GET /api/v1/users/{userID}/bookings", permReadBookings, s.handleUserBookings)

	s.route("GET /api/v1/wallets/{userID}", permReadWallets, s.handleGetWallet)
	s.route("POST /api/v1/wallets/{userID}/deposit", permWriteWallets, s.handleDeposit)
	s.route("GET /api/v1/wallets/{userID}/statement.xlsx", permReadWallets, s.handleStatementExport)
	s.route("GET /api/v1/wallets/{userID}/reconcile", permReadWallets, s.handleReconcile)

	s.route("POST /api/v1/groups", permWriteGroups, s.handleCreateGroup)
	s.route("GET /api/v1/groups/{id}", permReadBookings, s.handleGetGroup)
	s.route("POST /api/v1/groups/{id}/pay/gateway", permWritePayments, s.handleGroupGatewayPayment)
	s.route("POST /api/v1/groups/{id}/cancel", permWriteGroups, s.handleCancelGroup)
}

// route registers an authenticated handler and counts its responses by pattern.
func (s *HTTPServer) route(pattern, permission string, h http.HandlerFunc) {
	endpoint := pattern
	if i := strings.IndexByte(pattern, ' '); i >= 0 {
		endpoint = pattern[i+1:]
	}
	guarded := s.auth.Require(permission, h)
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		guarded(recorder, r)
		metrics.IncHTTP(endpoint, recorder.status)
	})
}

// Handler returns the full middleware chain.
func (s *HTTPServer) Handler() http.Handler {
	return s.requestLogger(s.auth.RateLimit(s.mux))
}

func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		reqLogger := s.logger.With().Str("request_id", requestID).Logger()
		r = r.WithContext(reqLogger.WithContext(r.Context()))

		start := s.clock.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		ev := reqLogger.Info()
		if recorder.status >= http.StatusInternalServerError {
			ev = reqLogger.Error()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", s.clock.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
