package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
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

type CreateGroupRequest struct {
	UserID        int64          `json:"user_id"`
	CourtID       int64          `json:"court_id"`
	StartDate     time.Time      `json:"start_date"`
	EndDate       time.Time      `json:"end_date"`
	Weekdays      []time.Weekday `json:"weekdays"`
	StartTime     string         `json:"start_time"`
	EndTime       string         `json:"end_time"`
	DiscountRate  float64        `json:"discount_rate"`
	PaymentMethod string         `json:"payment_method"`
	StaffID       *int64         `json:"staff_id,omitempty"`
}

type CancelGroupOptions struct {
	Reason         string `json:"reason"`
	RefundToWallet bool   `json:"refund_to_wallet"`
	OnlyFuture     bool   `json:"only_future"`
}

type GroupResult struct {
	Group    *models.BookingGroup `json:"group"`
	Bookings []*models.Booking    `json:"bookings"`
}

type GroupCancelResult struct {
	Group          *models.BookingGroup `json:"group"`
	CancelledCount int                  `json:"cancelled_count"`
	RefundAmount   int64                `json:"refund_amount"`
}

// GroupService manages recurring series. Every occurrence is a regular
// booking created through the same checks as a single booking.
type GroupService struct {
	db       *database.DB
	bookings *BookingService
	eventBus domain.EventPublisher
	clock    clockwork.Clock
	logger   *zerolog.Logger
}

func NewGroupService(db *database.DB, bookings *BookingService, eventBus domain.EventPublisher, clock clockwork.Clock, logger *zerolog.Logger) *GroupService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &GroupService{db: db, bookings: bookings, eventBus: eventBus, clock: clock, logger: logger}
}

func (s *GroupService) CreateBookingGroup(ctx context.Context, req CreateGroupRequest) (*GroupResult, error) {
	if req.UserID <= 0 {
		return nil, domain.NewValidationError("user_id", "is required")
	}
	if req.DiscountRate < 0 || req.DiscountRate >= 1 {
		return nil, domain.NewValidationError("discount_rate", "must be in [0, 1)")
	}
	method := strings.ToUpper(req.PaymentMethod)
	if method == "" {
		method = models.PaymentMethodCash
	}
	if method != models.PaymentMethodCash && method != models.PaymentMethodWallet && method != models.PaymentMethodGateway {
		return nil, domain.NewValidationError("payment_method", "unknown payment method "+req.PaymentMethod)
	}

	now := s.clock.Now()
	occurrences, err := s.occurrences(req, now)
	if err != nil {
		return nil, err
	}

	drafts := make([]*models.Booking, 0, len(occurrences))
	for _, occ := range occurrences {
		draft, err := s.bookings.prepare(ctx, CreateBookingRequest{
			CourtID:       req.CourtID,
			Start:         occ[0],
			End:           occ[1],
			PaymentMethod: models.PaymentMethodCash,
			UserID:        req.UserID,
			StaffID:       req.StaffID,
		}, now)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", occ[0].In(s.bookings.policy.Location).Format("2006-01-02"), err)
		}
		drafts = append(drafts, draft)
	}

	original, final := distributeDiscount(drafts, req.DiscountRate)
	group := &models.BookingGroup{
		UserID:        req.UserID,
		CourtID:       req.CourtID,
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
		Weekdays:      req.Weekdays,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		TotalSessions: len(drafts),
		OriginalPrice: original,
		DiscountRate:  req.DiscountRate,
		FinalPrice:    final,
		PaymentMethod: method,
		Status:        models.GroupStatusConfirmed,
		IsActive:      true,
	}
	for _, d := range drafts {
		d.PaymentMethod = method
		if method == models.PaymentMethodGateway {
			// Gateway series are held like single bookings and expire together
			// unless ConfirmGroupPayment settles them in time.
			expiresAt := now.Add(s.bookings.policy.HoldDuration).UTC()
			d.Status = models.StatusPendingPayment
			d.PaymentStatus = models.PaymentStatusUnpaid
			d.PaidAmount = 0
			d.ExpiresAt = &expiresAt
			group.Status = models.GroupStatusPendingPayment
		}
	}

	err = s.db.WithTx(ctx, func(tx *database.Tx) error {
		if err := tx.InsertGroup(ctx, group, now); err != nil {
			return err
		}
		for _, d := range drafts {
			groupID := group.ID
			d.GroupID = &groupID
			if err := s.bookings.persist(ctx, tx, d, now); err != nil {
				return err
			}
		}

		if method != models.PaymentMethodWallet || final == 0 {
			return nil
		}
		wallet, err := tx.GetWallet(ctx, req.UserID)
		if errors.Is(err, database.ErrNotFound) {
			return &domain.NotFoundError{Entity: "wallet", ID: req.UserID}
		}
		if err != nil {
			return err
		}
		groupRef := group.ID
		_, err = tx.ApplyLedgerEntry(ctx, wallet.ID, database.LedgerEntry{
			Type:        models.TxTypePayment,
			Amount:      -final,
			GroupID:     &groupRef,
			Description: fmt.Sprintf("Payment for booking series #%d (%d sessions)", group.ID, len(drafts)),
		}, now)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			metrics.IncConflict()
		}
		return nil, err
	}

	for _, d := range drafts {
		metrics.IncBookingCreated(d.Status)
		if d.ExpiresAt != nil && s.bookings.jobs != nil {
			if err := s.bookings.jobs.Enqueue(ctx, models.ExpirationJobKey(d.ID), *d.ExpiresAt); err != nil {
				s.logger.Warn().Err(err).Int64("booking_id", d.ID).Msg("failed to index expiration job")
			}
		}
	}
	if method == models.PaymentMethodWallet && final > 0 {
		metrics.IncWalletTransaction(models.TxTypePayment)
	}
	s.logger.Info().
		Int64("group_id", group.ID).
		Int64("user_id", group.UserID).
		Int("sessions", group.TotalSessions).
		Int64("final_price", group.FinalPrice).
		Str("method", method).
		Msg("booking group created")
	s.publishGroupEvent(events.EventGroupCreated, group, 0, 0)
	return &GroupResult{Group: group, Bookings: drafts}, nil
}

// occurrences expands the series into [start, end) pairs, skipping sessions
// that already started.
func (s *GroupService) occurrences(req CreateGroupRequest, now time.Time) ([][2]time.Time, error) {
	if len(req.Weekdays) == 0 {
		return nil, domain.NewValidationError("weekdays", "at least one weekday is required")
	}
	days := make(map[time.Weekday]bool, len(req.Weekdays))
	for _, d := range req.Weekdays {
		if d < time.Sunday || d > time.Saturday {
			return nil, domain.NewValidationError("weekdays", fmt.Sprintf("invalid weekday %d", d))
		}
		days[d] = true
	}

	startClock, err := time.Parse("15:04", req.StartTime)
	if err != nil {
		return nil, domain.NewValidationError("start_time", "must be HH:MM")
	}
	endClock, err := time.Parse("15:04", req.EndTime)
	if err != nil {
		return nil, domain.NewValidationError("end_time", "must be HH:MM")
	}
	if !endClock.After(startClock) {
		return nil, domain.NewValidationError("end_time", "must be after start_time")
	}

	loc := s.bookings.policy.Location
	sy, sm, sd := req.StartDate.In(loc).Date()
	ey, em, ed := req.EndDate.In(loc).Date()
	first := time.Date(sy, sm, sd, 0, 0, 0, 0, loc)
	last := time.Date(ey, em, ed, 0, 0, 0, 0, loc)
	if last.Before(first) {
		return nil, domain.NewValidationError("end_date", "must not be before start_date")
	}

	var out [][2]time.Time
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		if !days[day.Weekday()] {
			continue
		}
		y, m, d := day.Date()
		start := time.Date(y, m, d, startClock.Hour(), startClock.Minute(), 0, 0, loc)
		end := time.Date(y, m, d, endClock.Hour(), endClock.Minute(), 0, 0, loc)
		if start.Before(now) {
			continue
		}
		out = append(out, [2]time.Time{start, end})
	}
	if len(out) == 0 {
		return nil, domain.NewValidationError("weekdays", "the range contains no upcoming sessions")
	}
	return out, nil
}

// distributeDiscount applies the series discount to every session price.
// Each share is floored and the cents left over go to the sessions with the
// largest fractional parts, so shares are never negative and add up to the
// final price.
func distributeDiscount(drafts []*models.Booking, rate float64) (original, final int64) {
	for _, d := range drafts {
		original += d.TotalPrice
	}
	final = int64(math.Round(float64(original) * (1 - rate)))
	if len(drafts) == 0 {
		return original, final
	}

	type share struct {
		idx  int
		frac float64
	}
	shares := make([]share, len(drafts))
	var assigned int64
	for i, d := range drafts {
		exact := float64(d.TotalPrice) * (1 - rate)
		floor := math.Floor(exact)
		shares[i] = share{idx: i, frac: exact - floor}
		d.TotalPrice = int64(floor)
		assigned += d.TotalPrice
	}
	sort.SliceStable(shares, func(i, j int) bool { return shares[i].frac > shares[j].frac })
	for i := 0; assigned < final; i++ {
		drafts[shares[i%len(shares)].idx].TotalPrice++
		assigned++
	}
	for _, d := range drafts {
		d.PaidAmount = d.TotalPrice
	}
	return original, final
}

// ConfirmGroupPayment settles every held session of a gateway-paid series.
func (s *GroupService) ConfirmGroupPayment(ctx context.Context, groupID int64, reference string) (*models.BookingGroup, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, domain.NewValidationError("reference", "is required")
	}
	now := s.clock.Now()

	var group *models.BookingGroup
	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		g, err := s.loadGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}
		if g.Status != models.GroupStatusPendingPayment {
			return &domain.InvalidStateError{Op: "pay group", Current: g.Status}
		}

		members, err := tx.ListGroupBookings(ctx, groupID)
		if err != nil {
			return err
		}
		for _, b := range members {
			if b.Status == models.StatusExpired || (b.Status == models.StatusPendingPayment && b.ExpiresAt != nil && !b.ExpiresAt.After(now)) {
				return &domain.InvalidStateError{Op: "pay group", Current: models.StatusExpired, Reason: "series hold expired"}
			}
		}
		for _, b := range members {
			if b.Status != models.StatusPendingPayment || b.PaymentStatus != models.PaymentStatusUnpaid {
				continue
			}
			if err := settleBooking(ctx, tx, b, models.PaymentMethodGateway, reference, now); err != nil {
				return err
			}
		}

		if err := tx.SetGroupStatus(ctx, groupID, models.GroupStatusConfirmed, "", now); err != nil {
			return err
		}
		group, err = tx.GetGroup(ctx, groupID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Int64("group_id", groupID).Str("reference", reference).Msg("booking group paid")
	return group, nil
}

// CancelBookingGroup cancels the selected sessions and, when asked, returns
// everything they paid as one refund entry. Series refunds are not tiered.
func (s *GroupService) CancelBookingGroup(ctx context.Context, groupID int64, opts CancelGroupOptions) (*GroupCancelResult, error) {
	now := s.clock.Now()
	result := &GroupCancelResult{}

	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		g, err := s.loadGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}
		if g.Status == models.GroupStatusCancelled || g.Status == models.GroupStatusExpired {
			return &domain.InvalidStateError{Op: "cancel group", Current: g.Status}
		}

		members, err := tx.ListGroupBookings(ctx, groupID)
		if err != nil {
			return err
		}
		for _, b := range members {
			if !models.CanTransition(b.Status, models.StatusCancelled) {
				continue
			}
			if opts.OnlyFuture && !b.StartTime.After(now) {
				continue
			}

			paymentStatus := b.PaymentStatus
			paid := b.PaymentStatus == models.PaymentStatusPaid && b.PaidAmount > 0
			if paid && opts.RefundToWallet {
				if err := tx.RecordRefund(ctx, b.ID, b.PaidAmount, true, now); err != nil {
					return err
				}
				paymentStatus = models.PaymentStatusRefunded
				result.RefundAmount += b.PaidAmount
			}

			ok, err := tx.CancelBooking(ctx, b.ID, paymentStatus, opts.Reason, now)
			if err != nil {
				return err
			}
			if !ok {
				return &domain.InvalidStateError{Op: "cancel", Current: b.Status, Reason: "booking changed concurrently"}
			}
			if _, err := tx.CancelJob(ctx, models.ExpirationJobKey(b.ID), now); err != nil {
				return err
			}
			result.CancelledCount++
		}

		if result.RefundAmount > 0 {
			groupRef := g.ID
			if _, err := creditWallet(ctx, tx, g.UserID, database.LedgerEntry{
				Type:        models.TxTypeRefund,
				Amount:      result.RefundAmount,
				GroupID:     &groupRef,
				Description: fmt.Sprintf("Refund for booking series #%d (%d sessions)", g.ID, result.CancelledCount),
			}, now); err != nil {
				return err
			}
		}

		if err := tx.SetGroupStatus(ctx, groupID, models.GroupStatusCancelled, opts.Reason, now); err != nil {
			return err
		}
		result.Group, err = tx.GetGroup(ctx, groupID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if result.RefundAmount > 0 {
		metrics.IncWalletTransaction(models.TxTypeRefund)
		metrics.AddRefund(result.RefundAmount)
	}
	s.logger.Info().
		Int64("group_id", groupID).
		Int("cancelled", result.CancelledCount).
		Int64("refund", result.RefundAmount).
		Bool("only_future", opts.OnlyFuture).
		Msg("booking group cancelled")
	s.publishGroupEvent(events.EventGroupCancelled, result.Group, result.CancelledCount, result.RefundAmount)
	return result, nil
}

func (s *GroupService) GetGroup(ctx context.Context, groupID int64) (*models.BookingGroup, error) {
	g, err := s.db.GetGroup(ctx, groupID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, &domain.NotFoundError{Entity: "booking group", ID: groupID}
	}
	return g, err
}

func (s *GroupService) loadGroup(ctx context.Context, tx *database.Tx, groupID int64) (*models.BookingGroup, error) {
	g, err := tx.GetGroup(ctx, groupID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, &domain.NotFoundError{Entity: "booking group", ID: groupID}
	}
	return g, err
}

func (s *GroupService) publishGroupEvent(eventType string, g *models.BookingGroup, cancelled int, refund int64) {
	if s.eventBus == nil || g == nil {
		return
	}
	payload := events.GroupEventPayload{
		GroupID:        g.ID,
		UserID:         g.UserID,
		CourtID:        g.CourtID,
		Status:         g.Status,
		Sessions:       g.TotalSessions,
		CancelledCount: cancelled,
		RefundAmount:   refund,
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("group_id", g.ID).Msg("publish event error")
	}
}
