package server

import (
	"net/http"

	"github.com/kineviz/graphxr-console/pkg/auth"
	"github.com/kineviz/graphxr-console/pkg/gateway"
	"github.com/kineviz/graphxr-console/pkg/httputil"
)

const adminSessionPrefix = "admin_session:"

type adminStatusResponse struct {
	AdminAuthEnabled bool `json:"admin_auth_enabled"`
	Authenticated    bool `json:"authenticated"`
}

type loginRequest struct {
	Password string `json:"password"`
}

type loginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
}

// adminStatus reports whether admin auth is enabled and whether the caller's
// token (if any) is valid. Never fails; callers use it as a startup probe.
func (s *Server) adminStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, adminStatusResponse{
		AdminAuthEnabled: s.cfg.AdminAuthEnabled(),
		Authenticated:    s.adminAuthenticated(r),
	})
}

// adminLogin exchanges the admin password for a session token. Sessions live
// in the KV store under the token hash so only the client ever holds the
// plaintext token.
func (s *Server) adminLogin(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.AdminAuthEnabled() {
		httputil.WriteBadRequest(w, "admin authentication is not enabled")
		return
	}

	var req loginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if !auth.SecureCompare(req.Password, s.cfg.Admin.Password) {
		httputil.WriteUnauthorized(w, "invalid password")
		return
	}

	token, tokenHash, err := s.tokens.GenerateAdminToken()
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	if err := s.kv.Set(r.Context(), adminSessionPrefix+tokenHash, "1", s.cfg.Admin.SessionTTL); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	s.logger.Info("admin login succeeded")
	httputil.WriteSuccess(w, loginResponse{Success: true, Token: token})
}

// adminLogout invalidates the caller's session token. Always succeeds so a
// client with a stale token still converges to logged out.
func (s *Server) adminLogout(w http.ResponseWriter, r *http.Request) {
	if token := r.Header.Get(gateway.HeaderAdminToken); token != "" {
		if err := s.kv.Delete(r.Context(), adminSessionPrefix+s.tokens.HashToken(token)); err != nil {
			s.logger.WithError(err).Warn("failed to delete admin session")
		}
	}
	httputil.WriteSuccess(w, map[string]bool{"success": true})
}

// adminAuthenticated reports whether the request carries a valid admin token
func (s *Server) adminAuthenticated(r *http.Request) bool {
	if !s.cfg.AdminAuthEnabled() {
		return false
	}
	token := r.Header.Get(gateway.HeaderAdminToken)
	if token == "" || s.tokens.ValidateTokenFormat(token) != nil {
		return false
	}
	_, err := s.kv.Get(r.Context(), adminSessionPrefix+s.tokens.HashToken(token))
	return err == nil
}

// requireAuth gates a handler. With admin auth enabled a valid admin token is
// required; a matching API key also passes when key enforcement is on. With
// neither configured the endpoint is open, which is the local single-operator
// default.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.AdminAuthEnabled() && !s.apiKeyRequired() {
			next(w, r)
			return
		}

		if s.adminAuthenticated(r) {
			next(w, r)
			return
		}

		if s.apiKeyRequired() {
			if key := r.Header.Get(gateway.HeaderAPIKey); key != "" && auth.SecureCompare(key, s.currentAPIKey()) {
				next(w, r)
				return
			}
		}

		httputil.WriteUnauthorized(w, "authentication required")
	}
}

func (s *Server) apiKeyRequired() bool {
	s.settingsMu.RLock()
	defer s.settingsMu.RUnlock()
	return s.apiKeyEnabled && s.apiKey != ""
}

func (s *Server) currentAPIKey() string {
	s.settingsMu.RLock()
	defer s.settingsMu.RUnlock()
	return s.apiKey
}
