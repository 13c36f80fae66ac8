package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"courtbook/internal/database"
	"courtbook/internal/domain"
	"courtbook/internal/events"
	"courtbook/internal/metrics"
	"courtbook/internal/models"
	"courtbook/internal/pricing"

	"github.com/jonboulle/clockwork"
	"github.com/nyaruka/phonenumbers"
	"github.com/rs/zerolog"
)

const (
	SourceScheduler = "scheduler"
	SourceSweep     = "sweep"
	SourceManual    = "manual"

	sweepBatchSize = 200
)

// CreateBookingRequest is the input of CreateBooking. Either UserID or the
// guest pair identifies the owner; maintenance blocks have no owner.
type CreateBookingRequest struct {
	CourtID       int64     `json:"court_id"`
	Start         time.Time `json:"start_time"`
	End           time.Time `json:"end_time"`
	Type          string    `json:"type,omitempty"`
	PaymentMethod string    `json:"payment_method,omitempty"`
	UserID        int64     `json:"user_id,omitempty"`
	GuestName     string    `json:"guest_name,omitempty"`
	GuestPhone    string    `json:"guest_phone,omitempty"`
	CreatedBy     string    `json:"created_by,omitempty"`
	StaffID       *int64    `json:"staff_id,omitempty"`
	Note          string    `json:"note,omitempty"`
	GroupID       *int64    `json:"-"`
}

// Requester identifies who asks for a cancellation. Staff may cancel any booking.
type Requester struct {
	UserID  int64
	StaffID int64
	IsStaff bool
}

type CancelResult struct {
	Booking       *models.Booking `json:"booking"`
	Status        string          `json:"status"`
	RefundAmount  int64           `json:"refund_amount"`
	RefundPercent int             `json:"refund_percent"`
}

type BookingService struct {
	db       *database.DB
	pricing  *pricing.Resolver
	jobs     domain.JobScheduler
	eventBus domain.EventPublisher
	clock    clockwork.Clock
	policy   BookingPolicy
	codes    *CodeGenerator
	logger   *zerolog.Logger
}

func NewBookingService(
	db *database.DB,
	resolver *pricing.Resolver,
	jobs domain.JobScheduler,
	eventBus domain.EventPublisher,
	clock clockwork.Clock,
	policy BookingPolicy,
	logger *zerolog.Logger,
) *BookingService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &BookingService{
		db:       db,
		pricing:  resolver,
		jobs:     jobs,
		eventBus: eventBus,
		clock:    clock,
		policy:   policy.withDefaults(),
		codes:    NewCodeGenerator(),
		logger:   logger,
	}
}

// Policy returns the effective booking rules.
func (s *BookingService) Policy() BookingPolicy {
	return s.policy
}

func (s *BookingService) CreateBooking(ctx context.Context, req CreateBookingRequest) (*models.Booking, error) {
	now := s.clock.Now()
	draft, err := s.prepare(ctx, req, now)
	if err != nil {
		return nil, err
	}

	err = s.db.WithTx(ctx, func(tx *database.Tx) error {
		return s.persist(ctx, tx, draft, now)
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			metrics.IncConflict()
		}
		return nil, err
	}

	s.afterCreate(ctx, draft)
	return draft, nil
}

// CreateBulkBookings creates every requested booking or none of them.
func (s *BookingService) CreateBulkBookings(ctx context.Context, reqs []CreateBookingRequest) ([]*models.Booking, error) {
	if len(reqs) == 0 {
		return nil, domain.NewValidationError("bookings", "at least one booking is required")
	}

	now := s.clock.Now()
	drafts := make([]*models.Booking, 0, len(reqs))
	for i, req := range reqs {
		draft, err := s.prepare(ctx, req, now)
		if err != nil {
			return nil, fmt.Errorf("booking %d: %w", i, err)
		}
		drafts = append(drafts, draft)
	}
	if err := checkBatchOverlaps(drafts); err != nil {
		metrics.IncConflict()
		return nil, err
	}

	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		for _, draft := range drafts {
			if err := s.persist(ctx, tx, draft, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			metrics.IncConflict()
		}
		return nil, err
	}

	for _, draft := range drafts {
		s.afterCreate(ctx, draft)
	}
	return drafts, nil
}

func checkBatchOverlaps(drafts []*models.Booking) error {
	sorted := make([]*models.Booking, len(drafts))
	copy(sorted, drafts)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CourtID != sorted[j].CourtID {
			return sorted[i].CourtID < sorted[j].CourtID
		}
		return sorted[i].StartTime.Before(sorted[j].StartTime)
	})
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if prev.CourtID == cur.CourtID && prev.Overlaps(cur.StartTime, cur.EndTime) {
			return &domain.ConflictError{
				CourtID: cur.CourtID, Start: cur.StartTime, End: cur.EndTime,
				ExistingStart: prev.StartTime, ExistingEnd: prev.EndTime,
			}
		}
	}
	return nil
}

// prepare validates the request and builds the booking to insert, priced and
// with its initial state decided.
func (s *BookingService) prepare(ctx context.Context, req CreateBookingRequest, now time.Time) (*models.Booking, error) {
	if req.Start.IsZero() || req.End.IsZero() {
		return nil, domain.NewValidationError("start_time", "start and end are required")
	}
	if !req.End.After(req.Start) {
		return nil, domain.NewValidationError("end_time", "must be after start_time")
	}
	if req.Start.Before(now) {
		return nil, domain.NewValidationError("start_time", "must not be in the past")
	}
	if req.Start.After(now.AddDate(0, 0, s.policy.MaxAdvanceDays)) {
		return nil, domain.NewValidationError("start_time",
			fmt.Sprintf("bookings open at most %d days ahead", s.policy.MaxAdvanceDays))
	}

	bookingType := req.Type
	if bookingType == "" {
		bookingType = models.BookingTypeRegular
	}
	if bookingType != models.BookingTypeRegular && bookingType != models.BookingTypeMaintenance {
		return nil, domain.NewValidationError("type", "unknown booking type "+bookingType)
	}

	owner, err := s.resolveOwner(req, bookingType)
	if err != nil {
		return nil, err
	}

	court, err := s.db.GetCourt(ctx, req.CourtID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, &domain.NotFoundError{Entity: "court", ID: req.CourtID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load court: %w", err)
	}
	if !court.IsActive {
		return nil, domain.NewValidationError("court_id", "court is not active")
	}

	createdBy := req.CreatedBy
	if createdBy == "" {
		createdBy = models.CreatedByUser
		if req.StaffID != nil {
			createdBy = models.CreatedByStaff
		}
	}

	b := &models.Booking{
		CourtID:   court.ID,
		Owner:     owner,
		StartTime: req.Start.UTC(),
		EndTime:   req.End.UTC(),
		Type:      bookingType,
		GroupID:   req.GroupID,
		CreatedBy: createdBy,
		StaffID:   req.StaffID,
		Note:      strings.TrimSpace(req.Note),
	}

	if bookingType == models.BookingTypeMaintenance {
		b.Status = models.StatusBlocked
		return b, nil
	}

	quote, err := s.pricing.Charge(ctx, court, b.StartTime, b.EndTime)
	if err != nil {
		return nil, err
	}
	b.TotalPrice = quote.Amount
	b.PaymentStatus = models.PaymentStatusUnpaid

	method := strings.ToUpper(req.PaymentMethod)
	if owner.IsGuest() {
		method = models.PaymentMethodCash
	}
	switch method {
	case models.PaymentMethodCash:
		b.Status = models.StatusConfirmed
		b.PaymentMethod = method
		b.PaymentStatus = models.PaymentStatusPaid
		b.PaidAmount = b.TotalPrice
	case "", models.PaymentMethodWallet, models.PaymentMethodGateway:
		b.Status = models.StatusPendingPayment
		b.PaymentMethod = method
		expiresAt := now.Add(s.policy.HoldDuration).UTC()
		b.ExpiresAt = &expiresAt
	default:
		return nil, domain.NewValidationError("payment_method", "unknown payment method "+req.PaymentMethod)
	}
	return b, nil
}

func (s *BookingService) resolveOwner(req CreateBookingRequest, bookingType string) (models.Owner, error) {
	name := strings.TrimSpace(req.GuestName)
	phone := strings.TrimSpace(req.GuestPhone)
	hasGuest := name != "" || phone != ""

	switch {
	case req.UserID != 0 && hasGuest:
		return models.Owner{}, domain.NewValidationError("owner", "booking cannot have both an account and a guest")
	case req.UserID != 0:
		return models.AccountOwner(req.UserID), nil
	case hasGuest:
		if name == "" {
			return models.Owner{}, domain.NewValidationError("guest_name", "is required for guest bookings")
		}
		if phone == "" {
			return models.Owner{}, domain.NewValidationError("guest_phone", "is required for guest bookings")
		}
		normalized, err := s.normalizePhone(phone)
		if err != nil {
			return models.Owner{}, err
		}
		return models.GuestOwner(name, normalized), nil
	case bookingType == models.BookingTypeMaintenance:
		return models.Owner{}, nil
	default:
		return models.Owner{}, domain.NewValidationError("owner", "user_id or guest name and phone are required")
	}
}

func (s *BookingService) normalizePhone(phone string) (string, error) {
	num, err := phonenumbers.Parse(phone, s.policy.PhoneRegion)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return "", domain.NewValidationError("guest_phone", "is not a valid phone number")
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// persist runs inside the creating transaction: the overlap check, the insert
// and the expiration job row commit together.
func (s *BookingService) persist(ctx context.Context, tx *database.Tx, b *models.Booking, now time.Time) error {
	conflict, err := tx.FindConflict(ctx, b.CourtID, b.StartTime, b.EndTime)
	if err != nil {
		return err
	}
	if conflict != nil {
		return &domain.ConflictError{
			CourtID: b.CourtID, Start: b.StartTime, End: b.EndTime,
			BookingCode:   conflict.Code,
			ExistingStart: conflict.StartTime, ExistingEnd: conflict.EndTime,
		}
	}

	day := b.StartTime.In(s.policy.Location)
	code, err := s.codes.Unique(ctx, tx, day, models.BookingCodeAttempts)
	if err != nil {
		return err
	}
	b.Code = code

	if err := tx.InsertBooking(ctx, b, now); err != nil {
		return err
	}

	if b.Type == models.BookingTypeMaintenance {
		return nil
	}

	payment := &models.Payment{
		BookingID: b.ID,
		Amount:    b.TotalPrice,
		Method:    b.PaymentMethod,
		Status:    b.PaymentStatus,
	}
	if b.PaymentStatus == models.PaymentStatusPaid {
		paidAt := now.UTC()
		payment.PaidAt = &paidAt
	}
	if err := tx.InsertPayment(ctx, payment, now); err != nil {
		return err
	}

	if b.ExpiresAt == nil {
		return nil
	}
	job := &models.Job{
		Type:      models.JobTypeBookingExpiration,
		Key:       models.ExpirationJobKey(b.ID),
		BookingID: b.ID,
		RunAt:     *b.ExpiresAt,
	}
	return tx.UpsertJob(ctx, job, now)
}

// afterCreate runs once the booking is committed.
func (s *BookingService) afterCreate(ctx context.Context, b *models.Booking) {
	metrics.IncBookingCreated(b.Status)
	s.logger.Info().
		Int64("booking_id", b.ID).
		Str("code", b.Code).
		Int64("court_id", b.CourtID).
		Str("status", b.Status).
		Time("start", b.StartTime).
		Msg("booking created")

	if b.ExpiresAt != nil && s.jobs != nil {
		if err := s.jobs.Enqueue(ctx, models.ExpirationJobKey(b.ID), *b.ExpiresAt); err != nil {
			// The job row is already committed; the worker's poll picks it up.
			s.logger.Warn().Err(err).Int64("booking_id", b.ID).Msg("failed to index expiration job")
		}
	}
	s.publishEvent(events.EventBookingCreated, b, "", 0)
}

func (s *BookingService) CancelBooking(ctx context.Context, bookingID int64, requester Requester) (*CancelResult, error) {
	now := s.clock.Now()
	var result CancelResult

	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		b, err := tx.GetBooking(ctx, bookingID)
		if errors.Is(err, database.ErrNotFound) {
			return &domain.NotFoundError{Entity: "booking", ID: bookingID}
		}
		if err != nil {
			return err
		}
		if !requester.IsStaff && !b.Owner.OwnedBy(requester.UserID) {
			return &domain.NotFoundError{Entity: "booking", ID: bookingID}
		}
		if !models.CanTransition(b.Status, models.StatusCancelled) {
			return &domain.InvalidStateError{Op: "cancel", Current: b.Status}
		}

		paymentStatus := b.PaymentStatus
		userID, isAccount := b.Owner.UserID()
		if b.Status == models.StatusConfirmed && b.PaymentStatus == models.PaymentStatusPaid && isAccount {
			result.RefundPercent = RefundPercentage(b.StartTime.Sub(now))
			result.RefundAmount = RefundAmount(b.PaidAmount, result.RefundPercent)
			if result.RefundAmount > 0 {
				bookingRef := b.ID
				entry := database.LedgerEntry{
					Type:        models.TxTypeRefund,
					Amount:      result.RefundAmount,
					BookingID:   &bookingRef,
					Description: fmt.Sprintf("Refund %d%% for booking %s", result.RefundPercent, b.Code),
				}
				if _, err := creditWallet(ctx, tx, userID, entry, now); err != nil {
					return err
				}
				full := result.RefundPercent == 100
				if err := tx.RecordRefund(ctx, b.ID, result.RefundAmount, full, now); err != nil {
					return err
				}
				if full {
					paymentStatus = models.PaymentStatusRefunded
				}
			}
		}

		ok, err := tx.CancelBooking(ctx, b.ID, paymentStatus, "", now)
		if err != nil {
			return err
		}
		if !ok {
			return &domain.InvalidStateError{Op: "cancel", Current: b.Status, Reason: "booking changed concurrently"}
		}
		if _, err := tx.CancelJob(ctx, models.ExpirationJobKey(b.ID), now); err != nil {
			return err
		}

		result.Booking, err = tx.GetBooking(ctx, b.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	result.Status = result.Booking.Status
	s.cancelExpirationJob(ctx, bookingID)
	metrics.IncTransition(models.StatusCancelled)
	if result.RefundAmount > 0 {
		metrics.IncWalletTransaction(models.TxTypeRefund)
		metrics.AddRefund(result.RefundAmount)
	}
	s.logger.Info().
		Int64("booking_id", bookingID).
		Int64("refund", result.RefundAmount).
		Int("refund_percent", result.RefundPercent).
		Bool("by_staff", requester.IsStaff).
		Msg("booking cancelled")
	s.publishEvent(events.EventBookingCancelled, result.Booking, "", result.RefundAmount)
	return &result, nil
}

// CheckInBooking marks a confirmed booking as arrived. Check-in opens
// CheckInEarly before the start and closes at the end.
func (s *BookingService) CheckInBooking(ctx context.Context, code string) (*models.Booking, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, domain.NewValidationError("code", "is required")
	}
	now := s.clock.Now()

	var booking *models.Booking
	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		b, err := tx.GetBookingByCode(ctx, code)
		if errors.Is(err, database.ErrNotFound) {
			return &domain.NotFoundError{Entity: "booking", ID: code}
		}
		if err != nil {
			return err
		}
		if b.Status != models.StatusConfirmed {
			return &domain.InvalidStateError{Op: "check in", Current: b.Status}
		}
		opens := b.StartTime.Add(-s.policy.CheckInEarly)
		if now.Before(opens) {
			return &domain.InvalidStateError{Op: "check in", Current: b.Status,
				Reason: "check-in opens at " + opens.In(s.policy.Location).Format("15:04")}
		}
		if now.After(b.EndTime) {
			return &domain.InvalidStateError{Op: "check in", Current: b.Status, Reason: "booking has already ended"}
		}

		ok, err := tx.CheckInBooking(ctx, b.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return &domain.InvalidStateError{Op: "check in", Current: b.Status, Reason: "booking changed concurrently"}
		}
		booking, err = tx.GetBooking(ctx, b.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.IncTransition(models.StatusCheckedIn)
	s.logger.Info().Int64("booking_id", booking.ID).Str("code", booking.Code).Msg("booking checked in")
	s.publishEvent(events.EventBookingCheckedIn, booking, "", 0)
	return booking, nil
}

// CompleteBooking finishes a checked-in booking early.
func (s *BookingService) CompleteBooking(ctx context.Context, bookingID int64) (*models.Booking, error) {
	b, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.StatusCheckedIn {
		return nil, &domain.InvalidStateError{Op: "complete", Current: b.Status}
	}

	ok, err := s.db.CompleteBooking(ctx, bookingID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		current, getErr := s.GetBooking(ctx, bookingID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, &domain.InvalidStateError{Op: "complete", Current: current.Status}
	}

	b, err = s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	metrics.IncTransition(models.StatusCompleted)
	s.publishEvent(events.EventBookingCompleted, b, SourceManual, 0)
	return b, nil
}

// CompleteFinishedBookings completes every checked-in booking whose end has
// passed and returns how many were completed.
func (s *BookingService) CompleteFinishedBookings(ctx context.Context) (int, error) {
	now := s.clock.Now()
	finished, err := s.db.ListFinishedCheckIns(ctx, now, sweepBatchSize)
	if err != nil {
		return 0, err
	}

	completed := 0
	for _, b := range finished {
		ok, err := s.db.CompleteBooking(ctx, b.ID, now)
		if err != nil {
			return completed, err
		}
		if !ok {
			continue
		}
		completed++
		metrics.IncTransition(models.StatusCompleted)
		b.Status = models.StatusCompleted
		s.publishEvent(events.EventBookingCompleted, b, SourceSweep, 0)
	}
	if completed > 0 {
		s.logger.Info().Int("count", completed).Msg("finished bookings completed")
	}
	return completed, nil
}

// ExpireBooking attempts the hold expiry. It reports whether this call
// applied the transition; a booking already paid, cancelled or expired is a
// skipped outcome, not an error.
func (s *BookingService) ExpireBooking(ctx context.Context, bookingID int64, source string) (bool, error) {
	now := s.clock.Now()
	ok, err := s.db.ExpireBooking(ctx, bookingID, now)
	if err != nil {
		metrics.IncExpiration(source, "error")
		return false, err
	}

	if !ok {
		metrics.IncExpiration(source, "skipped")
		ev := s.logger.Info().Int64("booking_id", bookingID).Str("source", source).Str("outcome", "skipped")
		if b, getErr := s.db.GetBooking(ctx, bookingID); getErr == nil {
			ev = ev.Str("status", b.Status).Str("payment_status", b.PaymentStatus)
		}
		ev.Msg("expiration skipped")
		return false, nil
	}

	metrics.IncExpiration(source, "expired")
	metrics.IncTransition(models.StatusExpired)
	s.logger.Info().Int64("booking_id", bookingID).Str("source", source).Msg("booking hold expired")

	if source != SourceScheduler {
		s.cancelExpirationJob(ctx, bookingID)
	}
	b, err := s.db.GetBooking(ctx, bookingID)
	if err != nil {
		return true, nil
	}
	s.publishEvent(events.EventBookingExpired, b, source, 0)
	if b.GroupID != nil {
		s.expireGroup(ctx, *b.GroupID, now)
	}
	return true, nil
}

// expireGroup closes an unpaid series once its last held session lapsed.
func (s *BookingService) expireGroup(ctx context.Context, groupID int64, now time.Time) {
	ok, err := s.db.ExpireGroupIfUnpaid(ctx, groupID, now)
	if err != nil {
		s.logger.Error().Err(err).Int64("group_id", groupID).Msg("failed to expire booking group")
		return
	}
	if !ok {
		return
	}
	s.logger.Info().Int64("group_id", groupID).Msg("booking group expired")
	if s.eventBus == nil {
		return
	}
	g, err := s.db.GetGroup(ctx, groupID)
	if err != nil {
		return
	}
	payload := events.GroupEventPayload{
		GroupID:  g.ID,
		UserID:   g.UserID,
		CourtID:  g.CourtID,
		Status:   g.Status,
		Sessions: g.TotalSessions,
	}
	if err := s.eventBus.PublishJSON(events.EventGroupExpired, payload); err != nil {
		s.logger.Error().Err(err).Int64("group_id", groupID).Msg("publish event error")
	}
}

// ExpireOverdueHolds is the sweep backstop for lost expiration jobs.
func (s *BookingService) ExpireOverdueHolds(ctx context.Context) (int, error) {
	overdue, err := s.db.ListOverdueHolds(ctx, s.clock.Now(), sweepBatchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, b := range overdue {
		ok, err := s.ExpireBooking(ctx, b.ID, SourceSweep)
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

func (s *BookingService) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	b, err := s.db.GetBooking(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, &domain.NotFoundError{Entity: "booking", ID: id}
	}
	return b, err
}

func (s *BookingService) GetBookingByCode(ctx context.Context, code string) (*models.Booking, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	b, err := s.db.GetBookingByCode(ctx, code)
	if errors.Is(err, database.ErrNotFound) {
		return nil, &domain.NotFoundError{Entity: "booking", ID: code}
	}
	return b, err
}

func (s *BookingService) ListUserBookings(ctx context.Context, userID int64, limit int) ([]*models.Booking, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.db.ListUserBookings(ctx, userID, limit)
}

func (s *BookingService) ListCourts(ctx context.Context) ([]models.Court, error) {
	return s.db.ListActiveCourts(ctx)
}

// Schedule returns the active courts and their occupying bookings in [from, to).
func (s *BookingService) Schedule(ctx context.Context, from, to time.Time) ([]models.Court, []*models.Booking, error) {
	if !from.Before(to) {
		return nil, nil, domain.NewValidationError("to", "must be after from")
	}
	courts, err := s.db.ListActiveCourts(ctx)
	if err != nil {
		return nil, nil, err
	}

	var all []*models.Booking
	for _, c := range courts {
		booked, err := s.db.ListCourtBookings(ctx, c.ID, from, to)
		if err != nil {
			return nil, nil, err
		}
		all = append(all, booked...)
	}
	return courts, all, nil
}

// GetCourtAvailability lists the day's display slots between the opening
// hours. The read takes no lock, so it may be momentarily stale.
func (s *BookingService) GetCourtAvailability(ctx context.Context, courtID int64, date time.Time) ([]models.SlotAvailability, error) {
	court, err := s.db.GetCourt(ctx, courtID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, &domain.NotFoundError{Entity: "court", ID: courtID}
	}
	if err != nil {
		return nil, err
	}

	loc := s.policy.Location
	y, m, d := date.In(loc).Date()
	open := time.Date(y, m, d, s.policy.OpenHour, 0, 0, 0, loc)
	closing := time.Date(y, m, d, s.policy.CloseHour, 0, 0, 0, loc)

	booked, err := s.db.ListCourtBookings(ctx, courtID, open, closing)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var slots []models.SlotAvailability
	for start := open; start.Before(closing); start = start.Add(s.policy.SlotStep) {
		end := start.Add(s.policy.SlotStep)
		quote, err := s.pricing.Display(ctx, court, start, end)
		if err != nil {
			return nil, err
		}

		available := court.IsActive && !start.Before(now)
		for _, b := range booked {
			if b.Overlaps(start, end) {
				available = false
				break
			}
		}

		slots = append(slots, models.SlotAvailability{
			TimeLabel: start.Format("15:04"),
			Start:     start,
			End:       end,
			Available: available,
			Price:     quote.Amount,
			PriceType: quote.PriceType,
		})
	}
	return slots, nil
}

func (s *BookingService) cancelExpirationJob(ctx context.Context, bookingID int64) {
	if s.jobs == nil {
		return
	}
	if err := s.jobs.Cancel(ctx, models.ExpirationJobKey(bookingID)); err != nil {
		s.logger.Warn().Err(err).Int64("booking_id", bookingID).Msg("failed to cancel expiration job")
	}
}

func (s *BookingService) publishEvent(eventType string, b *models.Booking, source string, refund int64) {
	publishBookingEvent(s.eventBus, s.logger, eventType, b, source, refund)
}

func publishBookingEvent(bus domain.EventPublisher, logger *zerolog.Logger, eventType string, b *models.Booking, source string, refund int64) {
	if bus == nil || b == nil {
		return
	}

	payload := events.BookingEventPayload{
		BookingID:    b.ID,
		Code:         b.Code,
		CourtID:      b.CourtID,
		Status:       b.Status,
		Start:        b.StartTime,
		End:          b.EndTime,
		TotalPrice:   b.TotalPrice,
		RefundAmount: refund,
		Source:       source,
	}
	if id, ok := b.Owner.UserID(); ok {
		payload.UserID = id
	}
	if name, _, ok := b.Owner.Guest(); ok {
		payload.GuestName = name
	}

	if err := bus.PublishJSON(eventType, payload); err != nil {
		logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", b.ID).Msg("publish event error")
	}
}
