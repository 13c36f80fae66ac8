package service

import (
	"context"
	"errors"
	"strings"

	"courtbook/internal/database"
	"courtbook/internal/domain"
	"courtbook/internal/events"
	"courtbook/internal/metrics"
	"courtbook/internal/models"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

const recentTransactions = 20

type WalletView struct {
	Wallet       *models.Wallet             `json:"wallet"`
	Transactions []models.WalletTransaction `json:"transactions"`
}

// ReconcileReport is the result of replaying a wallet's ledger from zero.
type ReconcileReport struct {
	WalletID      int64   `json:"wallet_id"`
	Balance       int64   `json:"balance"`
	ReplayedTotal int64   `json:"replayed_total"`
	Entries       int     `json:"entries"`
	BrokenEntries []int64 `json:"broken_entries,omitempty"`
	Consistent    bool    `json:"consistent"`
}

type WalletService struct {
	db       *database.DB
	eventBus domain.EventPublisher
	clock    clockwork.Clock
	logger   *zerolog.Logger
}

func NewWalletService(db *database.DB, eventBus domain.EventPublisher, clock clockwork.Clock, logger *zerolog.Logger) *WalletService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &WalletService{db: db, eventBus: eventBus, clock: clock, logger: logger}
}

// Deposit credits the user's wallet, creating it on first use.
func (s *WalletService) Deposit(ctx context.Context, userID, amount int64, description string) (*models.WalletTransaction, error) {
	if userID <= 0 {
		return nil, domain.NewValidationError("user_id", "is required")
	}
	if amount <= 0 {
		return nil, domain.NewValidationError("amount", "must be positive")
	}
	description = strings.TrimSpace(description)
	if description == "" {
		description = "Deposit"
	}
	now := s.clock.Now()

	var txn *models.WalletTransaction
	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		var err error
		txn, err = creditWallet(ctx, tx, userID, database.LedgerEntry{
			Type:        models.TxTypeDeposit,
			Amount:      amount,
			Description: description,
		}, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.IncWalletTransaction(models.TxTypeDeposit)
	s.logger.Info().Int64("user_id", userID).Int64("amount", amount).Int64("balance", txn.BalanceAfter).Msg("wallet deposit")
	if s.eventBus != nil {
		payload := events.WalletEventPayload{
			UserID:       userID,
			Type:         models.TxTypeDeposit,
			Amount:       amount,
			BalanceAfter: txn.BalanceAfter,
		}
		if err := s.eventBus.PublishJSON(events.EventWalletDeposit, payload); err != nil {
			s.logger.Error().Err(err).Int64("user_id", userID).Msg("publish event error")
		}
	}
	return txn, nil
}

func (s *WalletService) GetWallet(ctx context.Context, userID int64) (*WalletView, error) {
	wallet, err := s.wallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	txs, err := s.db.ListWalletTransactions(ctx, wallet.ID, recentTransactions)
	if err != nil {
		return nil, err
	}
	return &WalletView{Wallet: wallet, Transactions: txs}, nil
}

// Statement returns the wallet with its full ledger in append order. Both are
// read in one transaction so the balance matches the last ledger row.
func (s *WalletService) Statement(ctx context.Context, userID int64) (*models.Wallet, []models.WalletTransaction, error) {
	var (
		wallet *models.Wallet
		txs    []models.WalletTransaction
	)
	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		var err error
		wallet, err = tx.GetWallet(ctx, userID)
		if errors.Is(err, database.ErrNotFound) {
			return &domain.NotFoundError{Entity: "wallet", ID: userID}
		}
		if err != nil {
			return err
		}
		txs, err = tx.ListWalletTransactions(ctx, wallet.ID, 0)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return wallet, txs, nil
}

// Reconcile replays the ledger from a zero balance and compares the result
// and every row's snapshot chain with the stored balance.
func (s *WalletService) Reconcile(ctx context.Context, userID int64) (*ReconcileReport, error) {
	wallet, txs, err := s.Statement(ctx, userID)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{WalletID: wallet.ID, Balance: wallet.Balance, Entries: len(txs)}
	var running int64
	for _, t := range txs {
		if t.BalanceBefore != running || t.BalanceAfter != t.BalanceBefore+t.Amount {
			report.BrokenEntries = append(report.BrokenEntries, t.ID)
		}
		running += t.Amount
	}
	report.ReplayedTotal = running
	report.Consistent = running == wallet.Balance && len(report.BrokenEntries) == 0

	if !report.Consistent {
		s.logger.Error().
			Int64("wallet_id", wallet.ID).
			Int64("balance", wallet.Balance).
			Int64("replayed", running).
			Int("broken", len(report.BrokenEntries)).
			Msg("wallet ledger mismatch")
	}
	return report, nil
}

func (s *WalletService) wallet(ctx context.Context, userID int64) (*models.Wallet, error) {
	wallet, err := s.db.GetWallet(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, &domain.NotFoundError{Entity: "wallet", ID: userID}
	}
	return wallet, err
}
