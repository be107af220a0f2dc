// Package token persists the session's access and refresh tokens and their
// expiry timestamps in the secure keychain.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/colthorp/tempo-cli-go/internal/core"
	"github.com/colthorp/tempo-cli-go/internal/keychain"
)

// ErrUnavailable is returned when a keychain read kept failing transiently
// through every retry. The item may still be stored.
var ErrUnavailable = errors.New("token: keychain unavailable")

// Keychain accounts under the token service.
const (
	AccountAccessToken     = "access_token"
	AccountRefreshToken    = "refresh_token"
	AccountAccessExpiresAt = "access_token_expires_at"
	AccountRefreshExpires  = "refresh_token_expires_at"
)

// LegacyService is the unscoped namespace used by older installs.
const LegacyService = ""

var allAccounts = []string{
	AccountAccessToken,
	AccountRefreshToken,
	AccountAccessExpiresAt,
	AccountRefreshExpires,
}

// Tokens is the credential pair issued by the backend.
type Tokens struct {
	AccessToken  string
	RefreshToken string
}

// Record is a point-in-time view of everything stored for the session.
type Record struct {
	Tokens
	AccessExpiresAt  *time.Time
	RefreshExpiresAt *time.Time
}

// MigrationRecorder persists the one-time legacy migration flag.
type MigrationRecorder interface {
	KeychainMigrated() bool
	MarkKeychainMigrated() error
}

// Store reads and writes tokens in a keychain.SecureStore.
//
// Reads retry transient keychain failures a bounded number of times and
// degrade to "absent" on exhaustion. Writes and deletes are never retried.
type Store struct {
	kc       keychain.SecureStore
	service  string
	flag     MigrationRecorder
	verbose  bool
	attempts uint
	interval time.Duration
	now      func() time.Time
}

// NewStore creates a token store scoped to service.
func NewStore(kc keychain.SecureStore, service string, flag MigrationRecorder, verbose bool) *Store {
	if service == "" {
		service = core.KeychainService
	}
	return &Store{
		kc:       kc,
		service:  service,
		flag:     flag,
		verbose:  verbose,
		attempts: core.TokenReadAttempts,
		interval: core.TokenReadInterval,
		now:      time.Now,
	}
}

func (s *Store) log(msg string) {
	core.Eprint(fmt.Sprintf("[Token] %s", msg), s.verbose)
}

// Save overwrites the stored record. Non-zero expiresIn values are converted
// to absolute timestamps; a zero value removes any previously stored expiry.
func (s *Store) Save(ctx context.Context, t Tokens, accessExpiresIn, refreshExpiresIn time.Duration) error {
	now := s.now()
	if err := s.kc.Set(ctx, s.service, AccountAccessToken, t.AccessToken); err != nil {
		return fmt.Errorf("store access token: %w", err)
	}
	if err := s.kc.Set(ctx, s.service, AccountRefreshToken, t.RefreshToken); err != nil {
		return fmt.Errorf("store refresh token: %w", err)
	}
	if err := s.saveExpiry(ctx, AccountAccessExpiresAt, now, accessExpiresIn); err != nil {
		return err
	}
	if err := s.saveExpiry(ctx, AccountRefreshExpires, now, refreshExpiresIn); err != nil {
		return err
	}
	s.log(fmt.Sprintf("Stored tokens (access expires in %s, refresh expires in %s)",
		describeTTL(accessExpiresIn), describeTTL(refreshExpiresIn)))
	return nil
}

// SaveAccessToken replaces only the access token and its expiry, keeping the
// refresh token. Used when a refresh response does not rotate the refresh token.
func (s *Store) SaveAccessToken(ctx context.Context, accessToken string, expiresIn time.Duration) error {
	if err := s.kc.Set(ctx, s.service, AccountAccessToken, accessToken); err != nil {
		return fmt.Errorf("store access token: %w", err)
	}
	return s.saveExpiry(ctx, AccountAccessExpiresAt, s.now(), expiresIn)
}

func (s *Store) saveExpiry(ctx context.Context, account string, now time.Time, in time.Duration) error {
	if in <= 0 {
		if err := s.kc.Delete(ctx, s.service, account); err != nil && !errors.Is(err, keychain.ErrNotFound) {
			return fmt.Errorf("clear %s: %w", account, err)
		}
		return nil
	}
	value := now.Add(in).UTC().Format(time.RFC3339Nano)
	if err := s.kc.Set(ctx, s.service, account, value); err != nil {
		return fmt.Errorf("store %s: %w", account, err)
	}
	return nil
}

// AccessToken returns the stored access token, if any.
func (s *Store) AccessToken(ctx context.Context) (string, bool) {
	return s.read(ctx, s.service, AccountAccessToken)
}

// RefreshToken returns the stored refresh token, if any.
func (s *Store) RefreshToken(ctx context.Context) (string, bool) {
	return s.read(ctx, s.service, AccountRefreshToken)
}

// LookupRefreshToken is RefreshToken with the failure kept: ok is false with
// a nil error only when nothing is stored. A locked keychain yields an error
// wrapping ErrUnavailable.
func (s *Store) LookupRefreshToken(ctx context.Context) (string, bool, error) {
	return s.readErr(ctx, s.service, AccountRefreshToken)
}

// IsAccessTokenExpired reports whether the access token expires within buffer.
// With no recorded expiry it optimistically returns false; a 401 from the
// backend is the authoritative signal in that case.
func (s *Store) IsAccessTokenExpired(ctx context.Context, buffer time.Duration) bool {
	exp, ok := s.expiry(ctx, AccountAccessExpiresAt)
	if !ok {
		return false
	}
	return !s.now().Add(buffer).Before(exp)
}

// IsRefreshTokenExpired reports whether the refresh token has expired.
// Refresh tokens without a recorded expiry are treated as long-lived.
func (s *Store) IsRefreshTokenExpired(ctx context.Context) bool {
	exp, ok := s.expiry(ctx, AccountRefreshExpires)
	if !ok {
		return false
	}
	return !s.now().Before(exp)
}

// HasValidTokens is true when both tokens are present and the refresh token
// has not expired. An expired access token does not invalidate the session.
func (s *Store) HasValidTokens(ctx context.Context) bool {
	if _, ok := s.AccessToken(ctx); !ok {
		return false
	}
	if _, ok := s.RefreshToken(ctx); !ok {
		return false
	}
	return !s.IsRefreshTokenExpired(ctx)
}

// Load returns everything stored for the session.
func (s *Store) Load(ctx context.Context) Record {
	var r Record
	r.AccessToken, _ = s.AccessToken(ctx)
	r.RefreshToken, _ = s.RefreshToken(ctx)
	if exp, ok := s.expiry(ctx, AccountAccessExpiresAt); ok {
		r.AccessExpiresAt = &exp
	}
	if exp, ok := s.expiry(ctx, AccountRefreshExpires); ok {
		r.RefreshExpiresAt = &exp
	}
	return r
}

// Clear deletes the tokens and their expiry metadata. Missing items are not errors.
func (s *Store) Clear(ctx context.Context) error {
	var errs []error
	for _, account := range allAccounts {
		if err := s.kc.Delete(ctx, s.service, account); err != nil && !errors.Is(err, keychain.ErrNotFound) {
			errs = append(errs, fmt.Errorf("delete %s: %w", account, err))
		}
	}
	if len(errs) == 0 {
		s.log("Cleared tokens")
	}
	return errors.Join(errs...)
}

// Migrate moves tokens stored under LegacyService into the scoped service,
// deletes the legacy copies, and records completion so it runs once per install.
// Items already present under the scoped service are kept. A read that fails
// leaves the flag unset so the next launch tries again.
func (s *Store) Migrate(ctx context.Context) error {
	if s.flag == nil || s.flag.KeychainMigrated() {
		return nil
	}

	moved := 0
	for _, account := range allAccounts {
		value, ok, err := s.readErr(ctx, LegacyService, account)
		if err != nil {
			return fmt.Errorf("migrate %s: %w", account, err)
		}
		if !ok {
			continue
		}
		_, exists, err := s.readErr(ctx, s.service, account)
		if err != nil {
			return fmt.Errorf("migrate %s: %w", account, err)
		}
		if !exists {
			if err := s.kc.Set(ctx, s.service, account, value); err != nil {
				return fmt.Errorf("migrate %s: %w", account, err)
			}
			moved++
		}
		if err := s.kc.Delete(ctx, LegacyService, account); err != nil && !errors.Is(err, keychain.ErrNotFound) {
			return fmt.Errorf("delete legacy %s: %w", account, err)
		}
	}

	if err := s.flag.MarkKeychainMigrated(); err != nil {
		return fmt.Errorf("record keychain migration: %w", err)
	}
	s.log(fmt.Sprintf("Keychain migration complete (%d items moved)", moved))
	return nil
}

// read fetches one item, degrading every failure to "absent".
func (s *Store) read(ctx context.Context, service, account string) (string, bool) {
	value, ok, _ := s.readErr(ctx, service, account)
	return value, ok
}

// readErr fetches one item with bounded retry. Not-found short-circuits and
// reports absence with a nil error; any other non-transient error stops
// retrying as well.
func (s *Store) readErr(ctx context.Context, service, account string) (string, bool, error) {
	attempt := 0
	value, err := backoff.Retry(ctx, func() (string, error) {
		attempt++
		v, err := s.kc.Get(ctx, service, account)
		if err == nil {
			return v, nil
		}
		if !keychain.IsTransient(err) {
			return "", backoff.Permanent(err)
		}
		return "", err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(s.interval)),
		backoff.WithMaxTries(s.attempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.log(fmt.Sprintf("Keychain read of %s failed (attempt %d/%d): %v; retrying in %s",
				account, attempt, s.attempts, err, next))
		}),
	)
	switch {
	case err == nil:
		return value, true, nil
	case errors.Is(err, keychain.ErrNotFound):
		return "", false, nil
	case keychain.IsTransient(err):
		core.Critical(fmt.Sprintf("keychain read of %s failed after %d attempts: %v", account, attempt, err))
		return "", false, fmt.Errorf("%w: read %s: %v", ErrUnavailable, account, err)
	default:
		s.log(fmt.Sprintf("Keychain read of %s failed: %v", account, err))
		return "", false, fmt.Errorf("read %s: %w", account, err)
	}
}

func (s *Store) expiry(ctx context.Context, account string) (time.Time, bool) {
	raw, ok := s.read(ctx, s.service, account)
	if !ok || raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		s.log(fmt.Sprintf("Ignoring unparseable %s %q: %v", account, raw, err))
		return time.Time{}, false
	}
	return t, true
}

func describeTTL(d time.Duration) string {
	if d <= 0 {
		return "unknown"
	}
	return d.String()
}
