package keychain

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteStore implements SecureStore on a private SQLite database file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens or creates the keychain database at dbPath.
// The file is restricted to the current user.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create keychain dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(250)")
	if err != nil {
		return nil, fmt.Errorf("open keychain: %w", err)
	}

	s := &SQLiteStore{db: db, path: dbPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate keychain: %w", err)
	}
	if err := os.Chmod(dbPath, 0o600); err != nil && !os.IsNotExist(err) {
		db.Close()
		return nil, fmt.Errorf("chmod keychain: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS keychain_items (
		service    TEXT NOT NULL,
		account    TEXT NOT NULL,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (service, account)
	)`)
	return err
}

// Get returns the value for (service, account).
func (s *SQLiteStore) Get(ctx context.Context, service, account string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM keychain_items WHERE service = ? AND account = ?`,
		service, account,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", classify(err)
	}
	return value, nil
}

// Set stores value for (service, account), replacing any existing item.
func (s *SQLiteStore) Set(ctx context.Context, service, account, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO keychain_items (service, account, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(service, account) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		service, account, value, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return classify(err)
	}
	return nil
}

// Delete removes the item for (service, account).
func (s *SQLiteStore) Delete(ctx context.Context, service, account string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM keychain_items WHERE service = ? AND account = ?`,
		service, account,
	)
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// classify maps SQLite result codes onto the keychain error classes.
func classify(err error) error {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %v", ErrLocked, err)
		case sqlite3.SQLITE_AUTH, sqlite3.SQLITE_PERM:
			return fmt.Errorf("%w: %v", ErrAuthFailed, err)
		}
	}
	return err
}
