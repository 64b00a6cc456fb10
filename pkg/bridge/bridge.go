// Package bridge relays OAuth2 results from the detached login popup back to
// the credential store. The popup's callback page writes completion markers
// into the shared KV namespace; the bridge polls for them, and only when the
// full {token, email, state} triple is present does it atomically consume
// all five entries and merge them as an oauth2 credential. Partial writes
// are never committed.
package bridge

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kineviz/graphxr-console/pkg/credential"
	"github.com/kineviz/graphxr-console/pkg/kvstore"
	"github.com/kineviz/graphxr-console/pkg/observability"
)

// Completion marker keys written by the OAuth callback page
const (
	KeyToken        = "g_auth_token"
	KeyState        = "g_auth_state"
	KeyEmail        = "g_auth_email"
	KeyRefreshToken = "g_auth_refresh_token"
	KeyExpiresIn    = "g_auth_expires_in"
)

// LoginPath is the popup target on the console server
const LoginPath = "/google/spanner/login"

// ErrRemoteHost is returned when the console is not running on a loopback
// address. Interactive flows are refused on remote hosts so they cannot be
// leaked to untrusted origins.
var ErrRemoteHost = errors.New("interactive login is only available when the console runs locally")

// Bridge drives the popup login flow
type Bridge struct {
	store    *credential.Store
	kv       kvstore.Store
	baseURL  string
	interval time.Duration
	open     func(url string) error
	logger   *observability.Logger
	now      func() time.Time
}

// Option customizes a Bridge
type Option func(*Bridge)

// WithOpener overrides how the popup window is opened
func WithOpener(open func(url string) error) Option {
	return func(b *Bridge) { b.open = open }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) { b.now = now }
}

// New creates a bridge. interval is the KV polling cadence.
func New(store *credential.Store, kv kvstore.Store, baseURL string, interval time.Duration, logger *observability.Logger, opts ...Option) *Bridge {
	b := &Bridge{
		store:    store,
		kv:       kv,
		baseURL:  strings.TrimRight(baseURL, "/"),
		interval: interval,
		open:     openBrowser,
		logger:   logger.WithComponent("bridge"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BeginInteractiveLogin opens the detached login popup and polls the shared
// KV namespace until the completion markers appear, then merges them into the
// credential store. It returns when the credential is committed or ctx is
// done; there is no other cancellation path, so callers bound the interaction
// with their context.
func (b *Bridge) BeginInteractiveLogin(ctx context.Context) error {
	if err := b.requireLocalHost(); err != nil {
		return err
	}

	if err := b.open(b.baseURL + LoginPath); err != nil {
		return err
	}
	b.logger.Info("login popup opened; waiting for completion markers")

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			committed, err := b.tryConsume(ctx)
			if err != nil {
				b.logger.WithError(err).Warn("polling shared store failed")
				continue
			}
			if committed {
				return nil
			}
		}
	}
}

// tryConsume commits the credential if (and only if) the full triple is
// present. Reads of incomplete marker sets leave the store untouched.
func (b *Bridge) tryConsume(ctx context.Context) (bool, error) {
	for _, key := range []string{KeyToken, KeyEmail, KeyState} {
		if _, err := b.kv.Get(ctx, key); err != nil {
			if errors.Is(err, kvstore.ErrNotFound) {
				return false, nil
			}
			return false, err
		}
	}

	entries, err := b.kv.Consume(ctx, KeyToken, KeyState, KeyEmail, KeyRefreshToken, KeyExpiresIn)
	if err != nil {
		return false, err
	}

	// Re-check after the atomic consume; a concurrent consumer may have won
	token, hasToken := entries[KeyToken]
	email, hasEmail := entries[KeyEmail]
	state, hasState := entries[KeyState]
	if !hasToken || !hasEmail || !hasState {
		return false, nil
	}

	expiresIn, _ := strconv.ParseInt(entries[KeyExpiresIn], 10, 64)
	b.store.MergeOAuth2(&credential.OAuth2Token{
		Token:         token,
		RefreshToken:  entries[KeyRefreshToken],
		ExpiresIn:     expiresIn,
		LastRefreshed: b.now().Unix(),
		Email:         email,
		State:         state,
	})

	b.logger.WithField("email", email).Info("interactive login completed")
	return true, nil
}

// requireLocalHost refuses interactive login unless the console base URL
// points at a loopback address
func (b *Bridge) requireLocalHost() error {
	parsed, err := url.Parse(b.baseURL)
	if err != nil {
		return ErrRemoteHost
	}

	host := parsed.Hostname()
	if host == "localhost" {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return nil
	}
	return ErrRemoteHost
}
