package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"courtbook/internal/domain"
	"courtbook/internal/events"
	"courtbook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// ErrQueueFull is returned to the event bus when the outbound buffer is full.
var ErrQueueFull = errors.New("notification queue is full")

// StaffEvents are the event types relayed to staff chats.
var StaffEvents = []string{
	events.EventBookingCreated,
	events.EventBookingConfirmed,
	events.EventBookingCancelled,
	events.EventBookingExpired,
	events.EventBookingCheckedIn,
	events.EventBookingExpiringSoon,
	events.EventBookingLateCheckIn,
	events.EventWalletDeposit,
	events.EventGroupCreated,
	events.EventGroupCancelled,
	events.EventGroupExpired,
}

// TelegramNotifier relays domain events to staff chats. Event handlers only
// enqueue; Run performs the network calls.
type TelegramNotifier struct {
	sender  domain.TelegramSender
	chatIDs []int64
	queue   chan string
	loc     *time.Location
	logger  *zerolog.Logger
}

func NewTelegramNotifier(sender domain.TelegramSender, chatIDs []int64, loc *time.Location, logger *zerolog.Logger) *TelegramNotifier {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &TelegramNotifier{
		sender:  sender,
		chatIDs: chatIDs,
		queue:   make(chan string, models.WorkerQueueSize),
		loc:     loc,
		logger:  logger,
	}
}

// Subscribe attaches the notifier to every staff event on the bus.
func (n *TelegramNotifier) Subscribe(bus *events.EventBus) {
	bus.Subscribe(n.HandleEvent, StaffEvents...)
}

// HandleEvent formats the event and queues it without blocking the publisher.
func (n *TelegramNotifier) HandleEvent(ev *events.Event) error {
	text, err := n.Format(ev)
	if err != nil {
		return err
	}
	if text == "" {
		return nil
	}

	select {
	case n.queue <- text:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run drains the queue until ctx is done.
func (n *TelegramNotifier) Run(ctx context.Context) {
	n.logger.Info().Int("chats", len(n.chatIDs)).Msg("telegram notifier started")
	defer n.logger.Info().Msg("telegram notifier stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case text := <-n.queue:
			n.deliver(text)
		}
	}
}

func (n *TelegramNotifier) deliver(text string) {
	for _, chatID := range n.chatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.DisableWebPagePreview = true
		if _, err := n.sender.Send(msg); err != nil {
			n.logger.Error().Err(err).Int64("chat_id", chatID).Msg("failed to send telegram notification")
		}
	}
}

// Format renders an event as a short staff message. Unknown types render
// as an empty string.
func (n *TelegramNotifier) Format(ev *events.Event) (string, error) {
	switch ev.Type {
	case events.EventWalletDeposit:
		var p events.WalletEventPayload
		if err := ev.Decode(&p); err != nil {
			return "", fmt.Errorf("decode %s: %w", ev.Type, err)
		}
		return fmt.Sprintf("Wallet top-up: user %d +%d, balance %d", p.UserID, p.Amount, p.BalanceAfter), nil

	case events.EventGroupCreated, events.EventGroupCancelled, events.EventGroupExpired:
		var p events.GroupEventPayload
		if err := ev.Decode(&p); err != nil {
			return "", fmt.Errorf("decode %s: %w", ev.Type, err)
		}
		switch ev.Type {
		case events.EventGroupCreated:
			return fmt.Sprintf("Series #%d created: court %d, %d sessions, user %d (%s)",
				p.GroupID, p.CourtID, p.Sessions, p.UserID, p.Status), nil
		case events.EventGroupExpired:
			return fmt.Sprintf("Series #%d expired unpaid: court %d, %d sessions released",
				p.GroupID, p.CourtID, p.Sessions), nil
		}
		return fmt.Sprintf("Series #%d cancelled: %d sessions, refund %d",
			p.GroupID, p.CancelledCount, p.RefundAmount), nil
	}

	title, ok := bookingTitles[ev.Type]
	if !ok {
		return "", nil
	}
	var p events.BookingEventPayload
	if err := ev.Decode(&p); err != nil {
		return "", fmt.Errorf("decode %s: %w", ev.Type, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", title, p.Code)
	fmt.Fprintf(&b, "Court %d, %s-%s\n",
		p.CourtID, p.Start.In(n.loc).Format("02.01 15:04"), p.End.In(n.loc).Format("15:04"))
	switch {
	case p.GuestName != "":
		fmt.Fprintf(&b, "Guest: %s\n", p.GuestName)
	case p.UserID != 0:
		fmt.Fprintf(&b, "User: %d\n", p.UserID)
	}
	fmt.Fprintf(&b, "Total: %d", p.TotalPrice)
	if p.RefundAmount > 0 {
		fmt.Fprintf(&b, ", refund %d", p.RefundAmount)
	}
	return b.String(), nil
}

var bookingTitles = map[string]string{
	events.EventBookingCreated:      "New booking",
	events.EventBookingConfirmed:    "Paid",
	events.EventBookingCancelled:    "Cancelled",
	events.EventBookingExpired:      "Hold expired",
	events.EventBookingCheckedIn:    "Checked in",
	events.EventBookingExpiringSoon: "Hold expiring soon",
	events.EventBookingLateCheckIn:  "Not checked in yet",
}
