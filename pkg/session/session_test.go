package session

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kineviz/graphxr-console/pkg/client"
	"github.com/kineviz/graphxr-console/pkg/gateway"
	"github.com/kineviz/graphxr-console/pkg/observability"
	"github.com/kineviz/graphxr-console/pkg/tokenstore"
)

type fixture struct {
	manager   *Manager
	transport *gateway.Transport
	tokens    tokenstore.Store
	barrier   *gateway.Barrier
	client    *client.Client
}

func newFixture(t *testing.T, backendURL string) *fixture {
	t.Helper()
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	barrier := gateway.NewBarrier()
	tokens := tokenstore.NewMemoryStore()
	transport := gateway.NewTransport(barrier, tokens, logger, nil, http.DefaultTransport)
	c := client.New(backendURL, &http.Client{Transport: transport})
	return &fixture{
		manager:   NewManager(c, transport, tokens, barrier, logger),
		transport: transport,
		tokens:    tokens,
		barrier:   barrier,
		client:    c,
	}
}

func TestInitializeCachesAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/settings", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"api_key": "k1", "api_key_enabled": true, "api_key_env_configured": false,
		})
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	require.NoError(t, f.manager.Initialize(context.Background()))

	assert.True(t, f.barrier.Resolved())
	assert.Equal(t, "k1", f.transport.APIKey())
}

func TestInitializeDisabledKeyCachesNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"api_key": "k1", "api_key_enabled": false, "api_key_env_configured": false,
		})
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	require.NoError(t, f.manager.Initialize(context.Background()))
	assert.Empty(t, f.transport.APIKey())
}

func TestInitializeFailOpenResolvesBarrier(t *testing.T) {
	srv := httptest.NewServer(nil)
	srv.Close() // settings endpoint unreachable

	f := newFixture(t, srv.URL)
	require.NoError(t, f.manager.Initialize(context.Background()))

	// The barrier resolves exactly once even when the settings fetch fails
	assert.True(t, f.barrier.Resolved())
	assert.Empty(t, f.transport.APIKey())
}

func TestInitializeIsMemoized(t *testing.T) {
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"api_key": "k1", "api_key_enabled": true, "api_key_env_configured": false,
		})
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.manager.Initialize(context.Background()))
		}()
	}
	wg.Wait()
	require.NoError(t, f.manager.Initialize(context.Background()))

	assert.Equal(t, int32(1), fetches.Load())
}

func TestStartupFailOpenOnProbeError(t *testing.T) {
	// Status endpoint errors entirely; settings succeeds
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/admin/status":
			conn, _, _ := w.(http.Hijacker).Hijack()
			conn.Close() // abort mid-request to force a transport error
		case "/api/settings":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"api_key": "k1", "api_key_enabled": true, "api_key_env_configured": false,
			})
		}
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	require.NoError(t, f.manager.Startup(context.Background()))

	// Treated as "auth not required": bootstrap still ran
	assert.True(t, f.barrier.Resolved())
	assert.Equal(t, "k1", f.transport.APIKey())
}

func TestStartupRequiresLoginWhenTokenInvalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/admin/status", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"admin_auth_enabled": true, "authenticated": false,
		})
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	require.NoError(t, f.tokens.Save("gxr_stale"))

	err := f.manager.Startup(context.Background())
	assert.ErrorIs(t, err, ErrLoginRequired)

	// Stale token cleared, bootstrap deferred
	stored, _ := f.tokens.Load()
	assert.Empty(t, stored)
	assert.False(t, f.barrier.Resolved())
}

func TestStartupAuthenticatedRunsBootstrap(t *testing.T) {
	var seenToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/admin/status":
			seenToken = r.Header.Get(gateway.HeaderAdminToken)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"admin_auth_enabled": true, "authenticated": true,
			})
		case "/api/settings":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"api_key": nil, "api_key_enabled": false, "api_key_env_configured": false,
			})
		}
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	require.NoError(t, f.tokens.Save("gxr_valid"))

	require.NoError(t, f.manager.Startup(context.Background()))

	// The durable token was presented on the probe
	assert.Equal(t, "gxr_valid", seenToken)
	assert.True(t, f.barrier.Resolved())
}

func TestLoginRunsDeferredBootstrap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/admin/login":
			var req map[string]string
			json.NewDecoder(r.Body).Decode(&req)
			if req["password"] != "hunter2" {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"bad password"}`))
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "token": "gxr_fresh"})
		case "/api/settings":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"api_key": "k1", "api_key_enabled": true, "api_key_env_configured": false,
			})
		}
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)

	err := f.manager.Login(context.Background(), "wrong")
	assert.ErrorIs(t, err, client.ErrAuthRequired)
	assert.False(t, f.barrier.Resolved())

	require.NoError(t, f.manager.Login(context.Background(), "hunter2"))

	stored, _ := f.tokens.Load()
	assert.Equal(t, "gxr_fresh", stored)
	assert.True(t, f.barrier.Resolved())
	assert.Equal(t, "k1", f.transport.APIKey())
}

func TestLogoutClearsTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	require.NoError(t, f.tokens.Save("gxr_tok"))
	f.transport.SetAdminToken("gxr_tok")

	require.NoError(t, f.manager.Logout(context.Background()))

	stored, _ := f.tokens.Load()
	assert.Empty(t, stored)
}
