// Package session owns the console's session lifecycle: the startup probe of
// the admin auth status, login/logout, and the one-time bootstrap that
// fetches API-key settings and resolves the initialization barrier.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/kineviz/graphxr-console/pkg/client"
	"github.com/kineviz/graphxr-console/pkg/gateway"
	"github.com/kineviz/graphxr-console/pkg/observability"
	"github.com/kineviz/graphxr-console/pkg/tokenstore"
)

// ErrLoginRequired is returned by Startup when admin auth is enabled and the
// stored token is no longer valid; bootstrap is deferred until Login succeeds.
var ErrLoginRequired = errors.New("admin login required")

// Manager coordinates session bootstrap and admin authentication
type Manager struct {
	client    *client.Client
	transport *gateway.Transport
	tokens    tokenstore.Store
	barrier   *gateway.Barrier
	logger    *observability.Logger

	group       singleflight.Group
	mu          sync.Mutex
	initialized bool
}

// NewManager creates a session manager
func NewManager(c *client.Client, transport *gateway.Transport, tokens tokenstore.Store, barrier *gateway.Barrier, logger *observability.Logger) *Manager {
	return &Manager{
		client:    c,
		transport: transport,
		tokens:    tokens,
		barrier:   barrier,
		logger:    logger.WithComponent("session"),
	}
}

// Initialize runs the one-time session bootstrap: fetch the API-key settings
// through the exempt endpoint, cache the key (or nil), and resolve the
// barrier. It is memoized, so concurrent and repeated callers share a single
// run, and it never fails: an unreachable settings endpoint must not keep
// the UI from loading.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	_, err, _ := m.group.Do("bootstrap", func() (interface{}, error) {
		m.bootstrap(ctx)
		m.mu.Lock()
		m.initialized = true
		m.mu.Unlock()
		return nil, nil
	})
	return err
}

func (m *Manager) bootstrap(ctx context.Context) {
	// The barrier resolves no matter how the settings read went
	defer m.barrier.Resolve()

	settings, err := m.client.GetSettings(ctx)
	if err != nil {
		// Fail open for this step only
		m.logger.WithError(err).Warn("settings fetch failed during bootstrap; proceeding without API key")
		m.transport.SetAPIKey("")
		return
	}

	if settings.APIKeyEnabled && settings.APIKey != nil && *settings.APIKey != "" {
		m.transport.SetAPIKey(*settings.APIKey)
		m.logger.Info("API key cached from settings")
	} else {
		m.transport.SetAPIKey("")
	}
}

// Startup probes the admin auth status with any durably stored token and
// decides whether bootstrap can run now or must wait for an interactive
// login. Three outcomes:
//
//  1. the probe fails entirely: treated as "auth not required", bootstrap runs
//  2. the probe reports authenticated (or auth disabled): bootstrap runs
//  3. auth is enabled and the token is invalid: the stale token is cleared
//     and ErrLoginRequired is returned; bootstrap waits for Login
func (m *Manager) Startup(ctx context.Context) error {
	if token, err := m.tokens.Load(); err == nil && token != "" {
		m.transport.SetAdminToken(token)
	}

	status, err := m.client.AdminStatusCheck(ctx)
	if err != nil {
		m.logger.WithError(err).Warn("admin status probe failed; proceeding unauthenticated")
		return m.Initialize(ctx)
	}

	if status.AdminAuthEnabled && !status.Authenticated {
		m.transport.ClearAdminToken()
		if err := m.tokens.Clear(); err != nil {
			m.logger.WithError(err).Warn("failed to clear stale admin token")
		}
		return ErrLoginRequired
	}

	return m.Initialize(ctx)
}

// Login exchanges the password for an admin session token, persists it, and
// runs the (possibly deferred) bootstrap.
func (m *Manager) Login(ctx context.Context, password string) error {
	result, err := m.client.AdminLogin(ctx, password)
	if err != nil {
		return fmt.Errorf("admin login: %w", err)
	}
	if !result.Success || result.Token == "" {
		return errors.New("admin login rejected")
	}

	m.transport.SetAdminToken(result.Token)
	if err := m.tokens.Save(result.Token); err != nil {
		m.logger.WithError(err).Warn("failed to persist admin token")
	}

	return m.Initialize(ctx)
}

// Logout invalidates the server-side session and clears both token caches
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.client.AdminLogout(ctx); err != nil {
		m.logger.WithError(err).Warn("server-side logout failed")
	}

	m.transport.ClearAdminToken()
	if err := m.tokens.Clear(); err != nil {
		return fmt.Errorf("clearing admin token: %w", err)
	}
	return nil
}
