package models

import "time"

const (
	StatusPendingPayment = "PENDING_PAYMENT"
	StatusConfirmed      = "CONFIRMED"
	StatusCheckedIn      = "CHECKED_IN"
	StatusCompleted      = "COMPLETED"
	StatusCancelled      = "CANCELLED"
	StatusExpired        = "EXPIRED"
	StatusBlocked        = "BLOCKED"
)

const (
	BookingTypeRegular     = "REGULAR"
	BookingTypeMaintenance = "MAINTENANCE"
)

const (
	PaymentMethodCash    = "CASH"
	PaymentMethodWallet  = "WALLET"
	PaymentMethodGateway = "GATEWAY"
)

const (
	PaymentStatusUnpaid   = "UNPAID"
	PaymentStatusPaid     = "PAID"
	PaymentStatusRefunded = "REFUNDED"
)

const (
	CreatedByUser   = "USER"
	CreatedByStaff  = "STAFF"
	CreatedBySystem = "SYSTEM"
)

const (
	TxTypeDeposit = "DEPOSIT"
	TxTypePayment = "PAYMENT"
	TxTypeRefund  = "REFUND"
)

const (
	GroupStatusPendingPayment = "PENDING_PAYMENT"
	GroupStatusConfirmed      = "CONFIRMED"
	GroupStatusCancelled      = "CANCELLED"
	GroupStatusExpired        = "EXPIRED"
)

const (
	PriceTypeNormal = "NORMAL"
	PriceTypeGolden = "GOLDEN"
	PriceTypePeak   = "PEAK"
)

const (
	// DefaultHoldDuration срок мягкой брони до оплаты
	DefaultHoldDuration = 15 * time.Minute

	// DefaultCheckInEarly насколько раньше начала можно отметиться
	DefaultCheckInEarly = 15 * time.Minute

	// DefaultMaxAdvanceDays горизонт бронирования вперед
	DefaultMaxAdvanceDays = 60

	// DefaultSlotStep шаг сетки слотов в расписании корта
	DefaultSlotStep = 30 * time.Minute

	// BookingCodeAttempts число попыток сгенерировать уникальный код
	BookingCodeAttempts = 5

	// WorkerQueueSize размер очереди уведомлений
	WorkerQueueSize = 1000
)
