package database

import (
	"context"
	"fmt"
	"time"

	"courtbook/internal/domain"
	"courtbook/internal/models"
)

const walletTxColumns = `id, wallet_id, type, amount, balance_before, balance_after, booking_id, group_id, description, created_at`

func scanWallet(row rowScanner) (*models.Wallet, error) {
	var w models.Wallet
	if err := row.Scan(&w.ID, &w.UserID, &w.Balance, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

func (db *DB) GetWallet(ctx context.Context, userID int64) (*models.Wallet, error) {
	w, err := scanWallet(db.QueryRowContext(ctx,
		`SELECT id, user_id, balance, created_at, updated_at FROM wallets WHERE user_id = ?`, userID))
	if err != nil {
		return nil, notFound(err)
	}
	return w, nil
}

func (tx *Tx) GetWallet(ctx context.Context, userID int64) (*models.Wallet, error) {
	w, err := scanWallet(tx.QueryRowContext(ctx,
		`SELECT id, user_id, balance, created_at, updated_at FROM wallets WHERE user_id = ?`, userID))
	if err != nil {
		return nil, notFound(err)
	}
	return w, nil
}

// GetOrCreateWallet returns the user's wallet, creating an empty one if needed.
func (tx *Tx) GetOrCreateWallet(ctx context.Context, userID int64, now time.Time) (*models.Wallet, error) {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO wallets (user_id, balance, created_at, updated_at) VALUES (?, 0, ?, ?)
         ON CONFLICT(user_id) DO NOTHING`, userID, utc(now), utc(now))
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	return tx.GetWallet(ctx, userID)
}

// LedgerEntry describes one balance change to append.
type LedgerEntry struct {
	Type        string
	Amount      int64
	BookingID   *int64
	GroupID     *int64
	Description string
}

// ApplyLedgerEntry changes the wallet balance and appends the matching
// immutable ledger row. A debit larger than the balance is rejected with
// InsufficientFundsError and changes nothing.
func (tx *Tx) ApplyLedgerEntry(ctx context.Context, walletID int64, entry LedgerEntry, now time.Time) (*models.WalletTransaction, error) {
	var before int64
	if err := tx.QueryRowContext(ctx, `SELECT balance FROM wallets WHERE id = ?`, walletID).Scan(&before); err != nil {
		return nil, fmt.Errorf("failed to read wallet balance: %w", notFound(err))
	}

	after := before + entry.Amount
	if after < 0 {
		return nil, &domain.InsufficientFundsError{Required: -entry.Amount, Available: before}
	}

	if err := tx.swapBalance(ctx, walletID, before, after, now); err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO wallet_transactions (wallet_id, type, amount, balance_before, balance_after, booking_id, group_id, description, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		walletID, entry.Type, entry.Amount, before, after,
		nullableInt(entry.BookingID), nullableInt(entry.GroupID), entry.Description, utc(now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append ledger entry: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return &models.WalletTransaction{
		ID:            id,
		WalletID:      walletID,
		Type:          entry.Type,
		Amount:        entry.Amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		BookingID:     entry.BookingID,
		GroupID:       entry.GroupID,
		Description:   entry.Description,
		CreatedAt:     utc(now),
	}, nil
}

// swapBalance moves the wallet from before to after, failing with
// ErrBalanceChanged if the stored balance is no longer before.
func (tx *Tx) swapBalance(ctx context.Context, walletID, before, after int64, now time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE wallets SET balance = ?, updated_at = ? WHERE id = ? AND balance = ?`,
		after, utc(now), walletID, before,
	)
	if err != nil {
		return fmt.Errorf("failed to update wallet balance: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("wallet %d: %w", walletID, ErrBalanceChanged)
	}
	return nil
}

// ListWalletTransactions returns ledger rows in append order. limit <= 0
// returns the whole history.
func (db *DB) ListWalletTransactions(ctx context.Context, walletID int64, limit int) ([]models.WalletTransaction, error) {
	return listWalletTransactions(ctx, db, walletID, limit)
}

func (tx *Tx) ListWalletTransactions(ctx context.Context, walletID int64, limit int) ([]models.WalletTransaction, error) {
	return listWalletTransactions(ctx, tx, walletID, limit)
}

func listWalletTransactions(ctx context.Context, q queryer, walletID int64, limit int) ([]models.WalletTransaction, error) {
	query := `SELECT ` + walletTxColumns + ` FROM wallet_transactions WHERE wallet_id = ? ORDER BY id ASC`
	args := []interface{}{walletID}
	if limit > 0 {
		query = `SELECT * FROM (SELECT ` + walletTxColumns + ` FROM wallet_transactions
                 WHERE wallet_id = ? ORDER BY id DESC LIMIT ?) ORDER BY id ASC`
		args = append(args, limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallet transactions: %w", err)
	}
	defer rows.Close()

	var txs []models.WalletTransaction
	for rows.Next() {
		var t models.WalletTransaction
		if err := rows.Scan(
			&t.ID, &t.WalletID, &t.Type, &t.Amount, &t.BalanceBefore, &t.BalanceAfter,
			&t.BookingID, &t.GroupID, &t.Description, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan wallet transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
