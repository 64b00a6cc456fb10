// Package client is the typed client for the proxy backend endpoints. Every
// call goes through the authorization gateway transport, so gating and header
// injection apply uniformly.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kineviz/graphxr-console/pkg/credential"
)

// Client calls the proxy backend
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client. The http.Client is expected to carry the gateway
// transport; a nil client falls back to http.DefaultClient (tests only).
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// Settings is the API-key settings document
type Settings struct {
	APIKey              *string `json:"api_key"`
	APIKeyEnabled       bool    `json:"api_key_enabled"`
	APIKeyEnvConfigured bool    `json:"api_key_env_configured"`
}

// AdminStatus reports whether admin auth is enabled and whether the caller's
// token is currently valid
type AdminStatus struct {
	AdminAuthEnabled bool `json:"admin_auth_enabled"`
	Authenticated    bool `json:"authenticated"`
}

// LoginResult is the admin login response
type LoginResult struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
}

// listRequest is the body of both spanner list endpoints
type listRequest struct {
	Auth       json.RawMessage `json:"auth"`
	AuthType   credential.Type `json:"auth_type"`
	ProjectID  string          `json:"project_id,omitempty"`
	InstanceID string          `json:"instance_id,omitempty"`
}

// authPayload serializes the credential material for the list endpoints
func authPayload(cred credential.Credential) (json.RawMessage, error) {
	switch cred.Type {
	case credential.TypeServiceAccount:
		if cred.ServiceAccount == nil {
			return nil, fmt.Errorf("service account credential has no key material")
		}
		// The raw uploaded document, unmodeled fields included
		return cred.ServiceAccount.Raw, nil
	case credential.TypeOAuth2:
		if cred.OAuth2 == nil {
			return nil, fmt.Errorf("oauth2 credential has no token material")
		}
		return json.Marshal(cred.OAuth2)
	case credential.TypeADC:
		// ADC carries no material; the tag alone selects ambient credentials
		return json.RawMessage(`{}`), nil
	default:
		return nil, fmt.Errorf("unknown auth type %q", cred.Type)
	}
}

// AdminStatusCheck probes the admin auth status endpoint (exempt)
func (c *Client) AdminStatusCheck(ctx context.Context) (*AdminStatus, error) {
	var status AdminStatus
	if err := c.do(ctx, http.MethodGet, "/api/admin/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// AdminLogin exchanges the admin password for a session token (exempt)
func (c *Client) AdminLogin(ctx context.Context, password string) (*LoginResult, error) {
	body := map[string]string{"password": password}
	var result LoginResult
	if err := c.do(ctx, http.MethodPost, "/api/admin/login", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// AdminLogout invalidates the current admin session (exempt)
func (c *Client) AdminLogout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/admin/logout", nil, nil)
}

// GetSettings reads the API-key settings (exempt from the barrier)
func (c *Client) GetSettings(ctx context.Context) (*Settings, error) {
	var settings Settings
	if err := c.do(ctx, http.MethodGet, "/api/settings", nil, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

// UpdateSettings writes the API-key settings (gated)
func (c *Client) UpdateSettings(ctx context.Context, enabled bool, apiKey string) (*Settings, error) {
	body := map[string]interface{}{
		"api_key_enabled": enabled,
		"api_key":         apiKey,
	}
	var settings Settings
	if err := c.do(ctx, http.MethodPut, "/api/settings", body, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

// GenerateKey asks the server to mint a fresh API key (gated)
func (c *Client) GenerateKey(ctx context.Context) (*Settings, error) {
	var settings Settings
	if err := c.do(ctx, http.MethodPost, "/api/settings/generate-key", nil, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

// ListProjects lists projects (with nested instances) reachable by the
// credential (gated)
func (c *Client) ListProjects(ctx context.Context, cred credential.Credential) ([]credential.Project, error) {
	auth, err := authPayload(cred)
	if err != nil {
		return nil, err
	}

	var projects []credential.Project
	req := listRequest{Auth: auth, AuthType: cred.Type}
	if err := c.do(ctx, http.MethodPost, "/api/google/spanner/list_projects", req, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// ListDatabases lists databases (with nested property graphs) in the selected
// project and instance (gated)
func (c *Client) ListDatabases(ctx context.Context, cred credential.Credential, projectID, instanceID string) ([]credential.Database, error) {
	auth, err := authPayload(cred)
	if err != nil {
		return nil, err
	}

	var databases []credential.Database
	req := listRequest{Auth: auth, AuthType: cred.Type, ProjectID: projectID, InstanceID: instanceID}
	if err := c.do(ctx, http.MethodPost, "/api/google/spanner/list_databases", req, &databases); err != nil {
		return nil, err
	}
	return databases, nil
}

// do performs one request/response cycle and maps non-2xx responses onto
// APIError
func (c *Client) do(ctx context.Context, method, path string, body, dest interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errBody struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errBody); err == nil {
			apiErr.Message = errBody.Error
			apiErr.Code = errBody.Code
		}
		return apiErr
	}

	if dest == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
