// Package keychain provides the secure key-value primitive that backs the
// token store. Items are addressed by (service, account), mirroring the
// platform keychains the mobile client targets.
package keychain

import (
	"context"
	"errors"
)

var (
	// ErrNotFound reports a definitive absence. It is never retried.
	ErrNotFound = errors.New("keychain: item not found")

	// ErrLocked reports that the store could not be accessed right now,
	// e.g. the device is locked or the database is busy.
	ErrLocked = errors.New("keychain: interaction not allowed")

	// ErrAuthFailed reports that access to the store was denied.
	ErrAuthFailed = errors.New("keychain: authentication failed")
)

// IsTransient reports whether err belongs to a failure class worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrLocked) || errors.Is(err, ErrAuthFailed)
}

// SecureStore is the interface for secure item storage.
// The default implementation is SQLiteStore; MemoryStore is used in tests.
type SecureStore interface {
	// Get returns the value for (service, account) or ErrNotFound.
	Get(ctx context.Context, service, account string) (string, error)

	// Set stores value, replacing any existing item.
	Set(ctx context.Context, service, account, value string) error

	// Delete removes the item. Returns ErrNotFound if it did not exist.
	Delete(ctx context.Context, service, account string) error
}
