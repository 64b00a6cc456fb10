package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/kineviz/graphxr-console/pkg/bridge"
	"github.com/kineviz/graphxr-console/pkg/config"
	"github.com/kineviz/graphxr-console/pkg/credential"
	"github.com/kineviz/graphxr-console/pkg/gateway"
	"github.com/kineviz/graphxr-console/pkg/kvstore"
	"github.com/kineviz/graphxr-console/pkg/observability"
	"github.com/kineviz/graphxr-console/pkg/spanner"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:    "3002",
			BaseURL: "http://127.0.0.1:3002",
		},
		Admin: config.AdminConfig{
			SessionTTL: 0,
		},
		KV:     config.KVConfig{Backend: "memory"},
		Bridge: config.BridgeConfig{PollInterval: 1},
	}
}

type serverFixture struct {
	server *Server
	kv     kvstore.Store
}

func newTestServer(t *testing.T, mutate func(*config.Config), catalog spanner.Catalog) *serverFixture {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	if catalog == nil {
		catalog = &spanner.StaticCatalog{}
	}

	kv := kvstore.NewMemoryStore()
	t.Cleanup(func() { kv.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	return &serverFixture{
		server: NewServer(cfg, kv, catalog, nil, logger, metrics),
		kv:     kv,
	}
}

func (f *serverFixture) request(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(dest))
}

func (f *serverFixture) login(t *testing.T, password string) string {
	t.Helper()
	w := f.request(t, http.MethodPost, "/api/admin/login", map[string]string{"password": password}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var result loginResponse
	decodeBody(t, w, &result)
	require.True(t, result.Success)
	require.NotEmpty(t, result.Token)
	return result.Token
}

func TestAdminStatusWithAuthDisabled(t *testing.T) {
	f := newTestServer(t, nil, nil)

	w := f.request(t, http.MethodGet, "/api/admin/status", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var status adminStatusResponse
	decodeBody(t, w, &status)
	assert.False(t, status.AdminAuthEnabled)
	assert.False(t, status.Authenticated)
}

func TestAdminLoginLifecycle(t *testing.T) {
	f := newTestServer(t, func(cfg *config.Config) {
		cfg.Admin.Password = "hunter2"
	}, nil)

	// Wrong password is rejected
	w := f.request(t, http.MethodPost, "/api/admin/login", map[string]string{"password": "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token := f.login(t, "hunter2")
	assert.True(t, strings.HasPrefix(token, "gxr_"))

	// Status reflects the valid session
	w = f.request(t, http.MethodGet, "/api/admin/status", nil, map[string]string{gateway.HeaderAdminToken: token})
	var status adminStatusResponse
	decodeBody(t, w, &status)
	assert.True(t, status.AdminAuthEnabled)
	assert.True(t, status.Authenticated)

	// Logout invalidates the session
	w = f.request(t, http.MethodPost, "/api/admin/logout", nil, map[string]string{gateway.HeaderAdminToken: token})
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.request(t, http.MethodGet, "/api/admin/status", nil, map[string]string{gateway.HeaderAdminToken: token})
	decodeBody(t, w, &status)
	assert.False(t, status.Authenticated)
}

func TestAdminLoginDisabledRejected(t *testing.T) {
	f := newTestServer(t, nil, nil)

	w := f.request(t, http.MethodPost, "/api/admin/login", map[string]string{"password": "anything"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSettingsReadIsAlwaysOpen(t *testing.T) {
	f := newTestServer(t, func(cfg *config.Config) {
		cfg.Admin.Password = "hunter2"
	}, nil)

	w := f.request(t, http.MethodGet, "/api/settings", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var doc settingsResponse
	decodeBody(t, w, &doc)
	assert.Nil(t, doc.APIKey)
	assert.False(t, doc.APIKeyEnvConfigured)
}

func TestSettingsMutationRequiresAdmin(t *testing.T) {
	f := newTestServer(t, func(cfg *config.Config) {
		cfg.Admin.Password = "hunter2"
	}, nil)

	enabled := true
	body := settingsUpdateRequest{APIKeyEnabled: &enabled}

	w := f.request(t, http.MethodPut, "/api/settings", body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token := f.login(t, "hunter2")
	w = f.request(t, http.MethodPut, "/api/settings", body, map[string]string{gateway.HeaderAdminToken: token})
	require.Equal(t, http.StatusOK, w.Code)

	var doc settingsResponse
	decodeBody(t, w, &doc)
	assert.True(t, doc.APIKeyEnabled)
}

func TestEnvironmentPinnedKeyLocksSettings(t *testing.T) {
	f := newTestServer(t, func(cfg *config.Config) {
		cfg.Settings.APIKey = "gxrk_pinned"
	}, nil)

	// The pinned key is visible and flagged
	w := f.request(t, http.MethodGet, "/api/settings", nil, nil)
	var doc settingsResponse
	decodeBody(t, w, &doc)
	require.NotNil(t, doc.APIKey)
	assert.Equal(t, "gxrk_pinned", *doc.APIKey)
	assert.True(t, doc.APIKeyEnvConfigured)
	assert.True(t, doc.APIKeyEnabled)

	// Mutations are refused with the machine-readable code. The pinned key
	// itself authenticates the caller, so the refusal is the lock, not auth.
	for _, attempt := range []struct {
		method string
		path   string
		body   interface{}
	}{
		{http.MethodPut, "/api/settings", settingsUpdateRequest{}},
		{http.MethodPost, "/api/settings/generate-key", nil},
	} {
		w := f.request(t, attempt.method, attempt.path, attempt.body, map[string]string{gateway.HeaderAPIKey: "gxrk_pinned"})
		assert.Equal(t, http.StatusForbidden, w.Code, attempt.path)

		var errBody map[string]string
		decodeBody(t, w, &errBody)
		assert.Equal(t, "environment_locked", errBody["code"], attempt.path)
	}
}

func TestGenerateKeyMintsFreshKey(t *testing.T) {
	f := newTestServer(t, nil, nil)

	w := f.request(t, http.MethodPost, "/api/settings/generate-key", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var doc settingsResponse
	decodeBody(t, w, &doc)
	require.NotNil(t, doc.APIKey)
	assert.True(t, strings.HasPrefix(*doc.APIKey, "gxrk_"))
}

func TestAPIKeyGatesListEndpoints(t *testing.T) {
	catalog := &spanner.StaticCatalog{
		Projects: []credential.Project{{ID: "demo", Name: "Demo"}},
	}
	f := newTestServer(t, func(cfg *config.Config) {
		cfg.Settings.APIKey = "gxrk_pinned"
	}, catalog)

	body := listRequest{Auth: json.RawMessage(`{"token":"ya29.t"}`), AuthType: credential.TypeOAuth2}

	w := f.request(t, http.MethodPost, "/api/google/spanner/list_projects", body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.request(t, http.MethodPost, "/api/google/spanner/list_projects", body, map[string]string{gateway.HeaderAPIKey: "gxrk_pinned"})
	require.Equal(t, http.StatusOK, w.Code)

	var projects []credential.Project
	decodeBody(t, w, &projects)
	require.Len(t, projects, 1)
	assert.Equal(t, "demo", projects[0].ID)
}

type erroringCatalog struct {
	err error
}

func (c *erroringCatalog) ListProjects(ctx context.Context, cred credential.Credential) ([]credential.Project, error) {
	return nil, c.err
}

func (c *erroringCatalog) ListDatabases(ctx context.Context, cred credential.Credential, projectID, instanceID string) ([]credential.Database, error) {
	return nil, c.err
}

func TestCatalogErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "adc unavailable carries its code",
			err:        spanner.ErrADCUnavailable,
			wantStatus: http.StatusUnauthorized,
			wantCode:   "adc_unavailable",
		},
		{
			name:       "rejected credential maps to 401",
			err:        spanner.ErrUnauthenticated,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "other upstream failures map to 502",
			err:        io.ErrUnexpectedEOF,
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestServer(t, nil, &erroringCatalog{err: tt.err})

			body := listRequest{Auth: json.RawMessage(`{}`), AuthType: credential.TypeADC}
			w := f.request(t, http.MethodPost, "/api/google/spanner/list_projects", body, nil)
			assert.Equal(t, tt.wantStatus, w.Code)

			if tt.wantCode != "" {
				var errBody map[string]string
				decodeBody(t, w, &errBody)
				assert.Equal(t, tt.wantCode, errBody["code"])
			}
		})
	}
}

func TestListDatabasesRequiresSelection(t *testing.T) {
	f := newTestServer(t, nil, nil)

	body := listRequest{Auth: json.RawMessage(`{}`), AuthType: credential.TypeADC}
	w := f.request(t, http.MethodPost, "/api/google/spanner/list_databases", body, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListProjectsRejectsMalformedServiceAccount(t *testing.T) {
	f := newTestServer(t, nil, nil)

	body := listRequest{Auth: json.RawMessage(`{"type":"user"}`), AuthType: credential.TypeServiceAccount}
	w := f.request(t, http.MethodPost, "/api/google/spanner/list_projects", body, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGoogleLoginUnconfigured(t *testing.T) {
	f := newTestServer(t, nil, nil)

	w := f.request(t, http.MethodGet, "/google/spanner/login", nil, nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestGoogleLoginRedirectStoresState(t *testing.T) {
	f := newTestServer(t, nil, nil)
	f.server.oauth = &GoogleOAuth{config: testOAuthConfig("")}

	w := f.request(t, http.MethodGet, "/google/spanner/login", nil, nil)
	require.Equal(t, http.StatusFound, w.Code)

	location, err := w.Result().Location()
	require.NoError(t, err)
	state := location.Query().Get("state")
	require.NotEmpty(t, state)

	_, err = f.kv.Get(context.Background(), oauthStatePrefix+state)
	assert.NoError(t, err, "state nonce should be stored for the callback")
}

func TestGoogleCallbackRejectsUnknownState(t *testing.T) {
	f := newTestServer(t, nil, nil)
	f.server.oauth = &GoogleOAuth{config: testOAuthConfig("")}

	w := f.request(t, http.MethodGet, "/google/spanner/callback?state=forged&code=abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGoogleCallbackWritesAllMarkers(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "ya29.fresh",
			"refresh_token": "1//refresh",
			"expires_in":    3600,
			"token_type":    "Bearer",
			"id_token":      "header.payload.sig",
		})
	}))
	defer tokenServer.Close()

	f := newTestServer(t, nil, nil)
	f.server.oauth = &GoogleOAuth{
		config: testOAuthConfig(tokenServer.URL),
		verifyEmail: func(ctx context.Context, rawIDToken string) (string, error) {
			return "operator@example.com", nil
		},
	}

	ctx := context.Background()
	require.NoError(t, f.kv.Set(ctx, oauthStatePrefix+"nonce1", "1", oauthStateTTL))

	w := f.request(t, http.MethodGet, "/google/spanner/callback?state=nonce1&code=authcode", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "close this window")

	for key, want := range map[string]string{
		bridge.KeyToken:        "ya29.fresh",
		bridge.KeyEmail:        "operator@example.com",
		bridge.KeyState:        "nonce1",
		bridge.KeyRefreshToken: "1//refresh",
	} {
		value, err := f.kv.Get(ctx, key)
		require.NoError(t, err, key)
		assert.Equal(t, want, value, key)
	}

	// The state nonce is single use
	_, err := f.kv.Get(ctx, oauthStatePrefix+"nonce1")
	assert.ErrorIs(t, err, kvstore.ErrNotFound)
}

func testOAuthConfig(tokenURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://127.0.0.1:3002/google/spanner/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/auth",
			TokenURL: tokenURL,
		},
		Scopes: []string{"openid", "email"},
	}
}
