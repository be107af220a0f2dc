// Package auth owns the session: sign-in, silent token refresh and sign-out.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/colthorp/tempo-cli-go/internal/api"
	"github.com/colthorp/tempo-cli-go/internal/core"
	"github.com/colthorp/tempo-cli-go/internal/token"
)

var (
	// ErrNotAuthenticated is returned when no session exists.
	ErrNotAuthenticated = errors.New("auth: not signed in")

	// ErrRefreshRejected is returned when the refresh token is missing, expired
	// or definitively rejected by the backend. The session has been destroyed.
	ErrRefreshRejected = errors.New("auth: refresh token rejected")
)

// State is the session state.
type State int

const (
	SignedOut State = iota
	SignedIn
)

func (s State) String() string {
	switch s {
	case SignedIn:
		return "signed in"
	default:
		return "signed out"
	}
}

// Backend is the subset of the API used for session management.
type Backend interface {
	SignIn(ctx context.Context, in api.SignInRequest) (*api.TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*api.TokenResponse, error)
}

// Device records per-install identity and sign-in bookkeeping.
type Device interface {
	DeviceID() (string, error)
	RecordSignIn(at time.Time) error
}

// Hook runs after a session transition.
type Hook func(ctx context.Context)

// Controller drives the session lifecycle. It implements api.TokenSource.
type Controller struct {
	tokens  *token.Store
	backend Backend
	device  Device
	buffer  time.Duration
	verbose bool
	now     func() time.Time

	refreshGroup singleflight.Group

	mu        sync.RWMutex
	state     State
	lastErr   error
	onSignIn  []Hook
	onSignOut []Hook
}

// NewController creates a signed-out controller. Call Restore to pick up an
// existing session.
func NewController(tokens *token.Store, backend Backend, device Device, verbose bool) *Controller {
	return &Controller{
		tokens:  tokens,
		backend: backend,
		device:  device,
		buffer:  core.AccessTokenBuffer,
		verbose: verbose,
		now:     time.Now,
	}
}

func (c *Controller) log(msg string) {
	core.Eprint(fmt.Sprintf("[Auth] %s", msg), c.verbose)
}

// OnSignIn registers a hook run after every successful sign-in.
func (c *Controller) OnSignIn(h Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSignIn = append(c.onSignIn, h)
}

// OnSignOut registers a hook run after every sign-out, including sign-outs
// caused by a rejected refresh.
func (c *Controller) OnSignOut(h Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSignOut = append(c.onSignOut, h)
}

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsSignedIn reports whether a session exists.
func (c *Controller) IsSignedIn() bool {
	return c.State() == SignedIn
}

// LastError returns the most recent session error, or nil.
func (c *Controller) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

func (c *Controller) setState(s State, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
	c.lastErr = err
}

func (c *Controller) setLastError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = err
}

func (c *Controller) hooks(signIn bool) []Hook {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if signIn {
		return append([]Hook(nil), c.onSignIn...)
	}
	return append([]Hook(nil), c.onSignOut...)
}

// Restore runs the one-time keychain migration and resumes the stored session
// if its tokens are still usable.
func (c *Controller) Restore(ctx context.Context) State {
	if err := c.tokens.Migrate(ctx); err != nil {
		c.log(fmt.Sprintf("Keychain migration failed: %v", err))
	}
	if c.tokens.HasValidTokens(ctx) {
		c.setState(SignedIn, nil)
	} else {
		c.setState(SignedOut, nil)
	}
	c.log(fmt.Sprintf("Restored session: %s", c.State()))
	return c.State()
}

// SignIn exchanges a provider identity token for a session, stores the tokens
// and runs the sign-in hooks.
func (c *Controller) SignIn(ctx context.Context, provider, idToken string) error {
	req := api.SignInRequest{Provider: provider, IDToken: idToken}
	if c.device != nil {
		if id, err := c.device.DeviceID(); err == nil {
			req.DeviceID = id
		} else {
			c.log(fmt.Sprintf("No device id: %v", err))
		}
	}

	resp, err := c.backend.SignIn(ctx, req)
	if err != nil {
		err = fmt.Errorf("sign in with %s: %w", provider, err)
		c.setLastError(err)
		return err
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		err := fmt.Errorf("sign in with %s: backend returned an incomplete token pair", provider)
		c.setLastError(err)
		return err
	}

	now := c.now()
	accessIn := accessTokenTTL(resp.AccessToken, resp.ExpiresIn, now)
	refreshIn := seconds(resp.RefreshExpiresIn)
	if err := c.tokens.Save(ctx, token.Tokens{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}, accessIn, refreshIn); err != nil {
		err = fmt.Errorf("store tokens: %w", err)
		c.setLastError(err)
		return err
	}
	if c.device != nil {
		if err := c.device.RecordSignIn(now); err != nil {
			c.log(fmt.Sprintf("Failed to record sign-in: %v", err))
		}
	}

	c.setState(SignedIn, nil)
	c.log(fmt.Sprintf("Signed in with %s", provider))
	for _, h := range c.hooks(true) {
		h(ctx)
	}
	return nil
}

// AccessToken returns a usable access token, refreshing it first when it
// expires within the refresh buffer.
func (c *Controller) AccessToken(ctx context.Context) (string, error) {
	tok, ok := c.tokens.AccessToken(ctx)
	if !ok {
		return "", ErrNotAuthenticated
	}
	if c.tokens.IsAccessTokenExpired(ctx, c.buffer) {
		c.log("Access token expired or expiring soon; refreshing")
		return c.Refresh(ctx)
	}
	return tok, nil
}

// Refresh obtains a new access token. Concurrent callers share one backend
// call. A missing, expired or rejected refresh token signs the user out and
// returns ErrRefreshRejected; other failures, including a locked keychain,
// keep the session.
func (c *Controller) Refresh(ctx context.Context) (string, error) {
	v, err, shared := c.refreshGroup.Do("refresh", func() (any, error) {
		return c.refresh(ctx)
	})
	if shared {
		c.log("Joined in-flight token refresh")
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Controller) refresh(ctx context.Context) (string, error) {
	rt, ok, err := c.tokens.LookupRefreshToken(ctx)
	if err != nil {
		err = fmt.Errorf("read refresh token: %w", err)
		c.setLastError(err)
		c.log(fmt.Sprintf("Refresh token unreadable, keeping session: %v", err))
		return "", err
	}
	if !ok {
		return "", c.reject(ctx, errors.New("no refresh token"))
	}
	if c.tokens.IsRefreshTokenExpired(ctx) {
		return "", c.reject(ctx, errors.New("refresh token expired"))
	}

	resp, err := c.backend.Refresh(ctx, rt)
	if err != nil {
		if api.IsInvalidGrant(err) {
			return "", c.reject(ctx, err)
		}
		err = fmt.Errorf("refresh access token: %w", err)
		c.setLastError(err)
		c.log(fmt.Sprintf("Refresh failed, keeping session: %v", err))
		return "", err
	}

	now := c.now()
	accessIn := accessTokenTTL(resp.AccessToken, resp.ExpiresIn, now)
	if resp.RefreshToken != "" {
		err = c.tokens.Save(ctx, token.Tokens{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken},
			accessIn, seconds(resp.RefreshExpiresIn))
	} else {
		err = c.tokens.SaveAccessToken(ctx, resp.AccessToken, accessIn)
	}
	if err != nil {
		err = fmt.Errorf("store refreshed tokens: %w", err)
		c.setLastError(err)
		return "", err
	}

	c.setLastError(nil)
	c.log("Refreshed access token")
	return resp.AccessToken, nil
}

// reject destroys the session after a definitive refresh failure.
func (c *Controller) reject(ctx context.Context, cause error) error {
	err := fmt.Errorf("%w: %v", ErrRefreshRejected, cause)
	c.log(fmt.Sprintf("Signing out: %v", err))
	if signOutErr := c.SignOut(ctx); signOutErr != nil {
		c.log(fmt.Sprintf("Sign-out after rejected refresh failed: %v", signOutErr))
	}
	c.setLastError(err)
	return err
}

// SignOut clears the stored tokens and runs the sign-out hooks. Signing out
// without a session is not an error.
func (c *Controller) SignOut(ctx context.Context) error {
	err := c.tokens.Clear(ctx)
	c.setState(SignedOut, nil)
	for _, h := range c.hooks(false) {
		h(ctx)
	}
	c.log("Signed out")
	return err
}

func seconds(n int64) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
