package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"courtbook/internal/models"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// ErrBalanceChanged is returned when a wallet row no longer holds the balance
// a ledger entry was computed from.
var ErrBalanceChanged = errors.New("wallet balance changed concurrently")

type DB struct {
	*sql.DB
	path       string
	logger     *zerolog.Logger
	courtCache map[int64]models.Court
	mu         sync.RWMutex
}

// Tx is a write transaction. Every Tx holds the database write lock from
// BEGIN, so read-then-write sequences inside it cannot interleave.
type Tx struct {
	*sql.Tx
	db *DB
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return &DB{
		DB:         sqlDB,
		path:       path,
		logger:     logger,
		courtCache: make(map[int64]models.Court),
	}, nil
}

// dsn makes every transaction BEGIN IMMEDIATE and waits on a busy lock
// instead of failing.
func dsn(path string) string {
	params := "_txlock=immediate&_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL"
	if strings.Contains(path, "?") {
		return path + "&" + params
	}
	return path + "?" + params
}

// Path returns the database file location.
func (db *DB) Path() string {
	return db.path
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS courts (
            id INTEGER PRIMARY KEY,
            name TEXT NOT NULL,
            price_per_hour INTEGER NOT NULL DEFAULT 0,
            is_active BOOLEAN NOT NULL DEFAULT 1,
            sort_order INTEGER NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS pricing_rules (
            id INTEGER PRIMARY KEY,
            court_id INTEGER REFERENCES courts(id),
            day_of_week INTEGER,
            start_time TEXT NOT NULL,
            end_time TEXT NOT NULL,
            price_per_hour INTEGER NOT NULL,
            priority INTEGER NOT NULL DEFAULT 0,
            is_active BOOLEAN NOT NULL DEFAULT 1
        )`,
		`CREATE TABLE IF NOT EXISTS booking_groups (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            user_id INTEGER NOT NULL,
            court_id INTEGER NOT NULL REFERENCES courts(id),
            start_date DATETIME NOT NULL,
            end_date DATETIME NOT NULL,
            weekdays TEXT NOT NULL,
            start_time TEXT NOT NULL,
            end_time TEXT NOT NULL,
            total_sessions INTEGER NOT NULL,
            original_price INTEGER NOT NULL,
            discount_rate REAL NOT NULL DEFAULT 0,
            final_price INTEGER NOT NULL,
            payment_method TEXT NOT NULL,
            status TEXT NOT NULL,
            is_active BOOLEAN NOT NULL DEFAULT 1,
            cancel_reason TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS bookings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            code TEXT NOT NULL UNIQUE,
            court_id INTEGER NOT NULL REFERENCES courts(id),
            user_id INTEGER,
            guest_name TEXT,
            guest_phone TEXT,
            start_time DATETIME NOT NULL,
            end_time DATETIME NOT NULL,
            total_price INTEGER NOT NULL DEFAULT 0,
            status TEXT NOT NULL,
            booking_type TEXT NOT NULL DEFAULT 'REGULAR',
            payment_method TEXT NOT NULL DEFAULT '',
            payment_status TEXT NOT NULL DEFAULT '',
            paid_amount INTEGER NOT NULL DEFAULT 0,
            expires_at DATETIME,
            group_id INTEGER REFERENCES booking_groups(id),
            created_by TEXT NOT NULL DEFAULT 'USER',
            staff_id INTEGER,
            note TEXT NOT NULL DEFAULT '',
            checked_in_at DATETIME,
            completed_at DATETIME,
            cancelled_at DATETIME,
            expiring_notified_at DATETIME,
            late_notified_at DATETIME,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            version INTEGER NOT NULL DEFAULT 1,
            CHECK (user_id IS NULL OR guest_name IS NULL),
            CHECK (start_time < end_time)
        )`,
		`CREATE TABLE IF NOT EXISTS wallets (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            user_id INTEGER NOT NULL UNIQUE,
            balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS wallet_transactions (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            wallet_id INTEGER NOT NULL REFERENCES wallets(id),
            type TEXT NOT NULL,
            amount INTEGER NOT NULL,
            balance_before INTEGER NOT NULL,
            balance_after INTEGER NOT NULL,
            booking_id INTEGER REFERENCES bookings(id),
            group_id INTEGER REFERENCES booking_groups(id),
            description TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            CHECK (balance_after = balance_before + amount)
        )`,
		`CREATE TABLE IF NOT EXISTS payments (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            booking_id INTEGER NOT NULL UNIQUE REFERENCES bookings(id),
            amount INTEGER NOT NULL,
            method TEXT NOT NULL,
            status TEXT NOT NULL,
            reference TEXT NOT NULL DEFAULT '',
            paid_at DATETIME,
            refunded_at DATETIME,
            refunded_amount INTEGER NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS jobs (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            job_type TEXT NOT NULL,
            job_key TEXT NOT NULL UNIQUE,
            booking_id INTEGER NOT NULL DEFAULT 0,
            payload TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'pending',
            attempts INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            run_at DATETIME NOT NULL,
            locked_at DATETIME,
            created_at DATETIME NOT NULL,
            processed_at DATETIME
        )`,

		`CREATE INDEX IF NOT EXISTS idx_bookings_court_time ON bookings(court_id, start_time, end_time)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status_expires ON bookings(status, expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_user_id ON bookings(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_group_id ON bookings(group_id)`,
		`CREATE INDEX IF NOT EXISTS idx_wallet_tx_wallet ON wallet_transactions(wallet_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status_run_at ON jobs(status, run_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// WithTx runs fn inside a write transaction and commits when fn succeeds.
// Any error rolls everything back.
func (db *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(&Tx{Tx: sqlTx, db: db}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func utc(t time.Time) time.Time {
	return t.UTC()
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullableInt(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}
