// Package sqlite provides the SQLite-backed account store. Every mutation is a
// single transaction built from conditional updates, so a rejected spend or
// use leaves no trace and concurrent callers for one username serialize.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"stream-drop/server/internal/storage"
	"stream-drop/server/internal/storage/sqlite/migrations"
	"stream-drop/server/internal/storage/sqlitemigrate"
)

// Store persists accounts, inventory, cooldowns and landing receipts.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the timestamp source used for created/updated columns.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens the database at path and applies embedded migrations.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection serializes every transaction.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.Apply(ctx, sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	store := &Store{sqlDB: sqlDB, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.sqlDB == nil {
		return errors.New("storage is not configured")
	}
	return s.sqlDB.PingContext(ctx)
}

// errRejected rolls a transaction back without surfacing an error; the
// caller has already filled in its outcome.
var errRejected = errors.New("rejected")

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return errors.New("storage is not configured")
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, errRejected) {
			return nil
		}
		return classify(err)
	}
	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_CHECK {
		return fmt.Errorf("%w: %v", storage.ErrInvariant, err)
	}
	return err
}

func ensureAccount(ctx context.Context, tx *sql.Tx, username string, now int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO accounts (username, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(username) DO NOTHING`,
		username, now, now,
	)
	if err != nil {
		return fmt.Errorf("ensure account: %w", err)
	}
	return nil
}

func appendLedger(ctx context.Context, tx *sql.Tx, username string, kind storage.BalanceKind, delta int, source string, now int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO ledger (username, kind, delta, source, created_at) VALUES (?, ?, ?, ?, ?)`,
		username, string(kind), delta, source, now,
	)
	if err != nil {
		return fmt.Errorf("append ledger: %w", err)
	}
	return nil
}

func validateUsername(username string) error {
	if strings.TrimSpace(username) == "" {
		return errors.New("username is required")
	}
	return nil
}
