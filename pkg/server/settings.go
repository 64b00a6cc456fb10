package server

import (
	"net/http"

	"github.com/kineviz/graphxr-console/pkg/httputil"
)

const codeEnvironmentLocked = "environment_locked"

type settingsResponse struct {
	APIKey              *string `json:"api_key"`
	APIKeyEnabled       bool    `json:"api_key_enabled"`
	APIKeyEnvConfigured bool    `json:"api_key_env_configured"`
}

type settingsUpdateRequest struct {
	APIKey        *string `json:"api_key"`
	APIKeyEnabled *bool   `json:"api_key_enabled"`
}

func (s *Server) settingsDoc() settingsResponse {
	s.settingsMu.RLock()
	defer s.settingsMu.RUnlock()

	doc := settingsResponse{
		APIKeyEnabled:       s.apiKeyEnabled,
		APIKeyEnvConfigured: s.cfg.APIKeyEnvConfigured(),
	}
	if s.apiKey != "" {
		key := s.apiKey
		doc.APIKey = &key
	}
	return doc
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, s.settingsDoc())
}

// updateSettings mutates the API-key settings. An environment-pinned key
// locks the document; mutations return 403 with a machine-readable code.
func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request) {
	if s.cfg.APIKeyEnvConfigured() {
		httputil.WriteErrorCode(w, http.StatusForbidden, codeEnvironmentLocked,
			"API key is configured via environment and cannot be changed here")
		return
	}

	var req settingsUpdateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	s.settingsMu.Lock()
	if req.APIKey != nil {
		s.apiKey = *req.APIKey
	}
	if req.APIKeyEnabled != nil {
		s.apiKeyEnabled = *req.APIKeyEnabled
	}
	s.settingsMu.Unlock()

	httputil.WriteSuccess(w, s.settingsDoc())
}

// generateKey mints a fresh API key and stores it in the settings document
func (s *Server) generateKey(w http.ResponseWriter, r *http.Request) {
	if s.cfg.APIKeyEnvConfigured() {
		httputil.WriteErrorCode(w, http.StatusForbidden, codeEnvironmentLocked,
			"API key is configured via environment and cannot be changed here")
		return
	}

	key, err := s.tokens.GenerateAPIKey()
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	s.settingsMu.Lock()
	s.apiKey = key
	s.settingsMu.Unlock()

	s.logger.Info("generated new API key")
	httputil.WriteSuccess(w, s.settingsDoc())
}
