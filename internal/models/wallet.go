package models

import "time"

type Wallet struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WalletTransaction is an immutable ledger row.
type WalletTransaction struct {
	ID            int64     `json:"id"`
	WalletID      int64     `json:"wallet_id"`
	Type          string    `json:"type"`
	Amount        int64     `json:"amount"`
	BalanceBefore int64     `json:"balance_before"`
	BalanceAfter  int64     `json:"balance_after"`
	BookingID     *int64    `json:"booking_id,omitempty"`
	GroupID       *int64    `json:"group_id,omitempty"`
	Description   string    `json:"description"`
	CreatedAt     time.Time `json:"created_at"`
}

type Payment struct {
	ID             int64      `json:"id"`
	BookingID      int64      `json:"booking_id"`
	Amount         int64      `json:"amount"`
	Method         string     `json:"method"`
	Status         string     `json:"status"`
	Reference      string     `json:"reference,omitempty"`
	PaidAt         *time.Time `json:"paid_at,omitempty"`
	RefundedAt     *time.Time `json:"refunded_at,omitempty"`
	RefundedAmount int64      `json:"refunded_amount"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
