package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"

	"github.com/kineviz/graphxr-console/pkg/bridge"
	"github.com/kineviz/graphxr-console/pkg/config"
	"github.com/kineviz/graphxr-console/pkg/httputil"
)

const (
	oauthStatePrefix = "oauth_state:"
	oauthStateTTL    = 10 * time.Minute

	// markerTTL bounds how long completed login markers wait in the KV
	// namespace for the console poller to pick them up
	markerTTL = 5 * time.Minute

	cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"
)

// GoogleOAuth holds the OAuth2 client and ID-token verification used by the
// popup login flow
type GoogleOAuth struct {
	config *oauth2.Config

	// verifyEmail extracts a verified email from the raw ID token. Split out
	// so tests can bypass live OIDC discovery.
	verifyEmail func(ctx context.Context, rawIDToken string) (string, error)
}

// NewGoogleOAuth builds the popup login client against Google's OIDC
// discovery endpoint
func NewGoogleOAuth(ctx context.Context, cfg config.GoogleConfig) (*GoogleOAuth, error) {
	provider, err := oidc.NewProvider(ctx, "https://accounts.google.com")
	if err != nil {
		return nil, fmt.Errorf("google OIDC discovery failed: %w", err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})

	return &GoogleOAuth{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     googleoauth.Endpoint,
			Scopes:       []string{oidc.ScopeOpenID, "email", cloudPlatformScope},
		},
		verifyEmail: func(ctx context.Context, rawIDToken string) (string, error) {
			idToken, err := verifier.Verify(ctx, rawIDToken)
			if err != nil {
				return "", err
			}
			var claims struct {
				Email string `json:"email"`
			}
			if err := idToken.Claims(&claims); err != nil {
				return "", err
			}
			return claims.Email, nil
		},
	}, nil
}

// googleLogin starts the popup flow: mint a state nonce, remember it, and
// send the browser to Google's consent screen
func (s *Server) googleLogin(w http.ResponseWriter, r *http.Request) {
	if s.oauth == nil {
		httputil.WriteErrorMessage(w, http.StatusNotImplemented, "google login is not configured")
		return
	}

	state := uuid.NewString()
	if err := s.kv.Set(r.Context(), oauthStatePrefix+state, "1", oauthStateTTL); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	url := s.oauth.config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
	http.Redirect(w, r, url, http.StatusFound)
}

// googleCallback finishes the popup flow. On success the five login markers
// land in the shared KV namespace as one batch, so the console poller never
// observes a token without its email and state.
func (s *Server) googleCallback(w http.ResponseWriter, r *http.Request) {
	if s.oauth == nil {
		httputil.WriteErrorMessage(w, http.StatusNotImplemented, "google login is not configured")
		return
	}

	state := r.URL.Query().Get("state")
	if state == "" {
		httputil.WriteBadRequest(w, "missing state parameter")
		return
	}
	if _, err := s.kv.Get(r.Context(), oauthStatePrefix+state); err != nil {
		httputil.WriteBadRequest(w, "invalid state parameter")
		return
	}
	if err := s.kv.Delete(r.Context(), oauthStatePrefix+state); err != nil {
		s.logger.WithError(err).Warn("failed to delete oauth state")
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		httputil.WriteBadRequest(w, "missing authorization code")
		return
	}

	token, err := s.oauth.config.Exchange(r.Context(), code)
	if err != nil {
		s.logger.WithError(err).Error("oauth code exchange failed")
		httputil.WriteBadGateway(w, "google token exchange failed")
		return
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		httputil.WriteBadGateway(w, "google response carried no id token")
		return
	}
	email, err := s.oauth.verifyEmail(r.Context(), rawIDToken)
	if err != nil {
		s.logger.WithError(err).Error("id token verification failed")
		httputil.WriteBadGateway(w, "google id token verification failed")
		return
	}

	expiresIn := int64(0)
	if !token.Expiry.IsZero() {
		expiresIn = int64(time.Until(token.Expiry).Seconds())
	}

	markers := map[string]string{
		bridge.KeyToken:        token.AccessToken,
		bridge.KeyState:        state,
		bridge.KeyEmail:        email,
		bridge.KeyRefreshToken: token.RefreshToken,
		bridge.KeyExpiresIn:    strconv.FormatInt(expiresIn, 10),
	}
	if err := s.writeMarkers(r.Context(), markers); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	s.logger.WithField("email", email).Info("google login completed")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(loginCompletePage))
}

// writeMarkers writes the login markers, token last. The poller treats the
// token as the commit signal, so a partially written batch is never consumed.
func (s *Server) writeMarkers(ctx context.Context, markers map[string]string) error {
	order := []string{bridge.KeyExpiresIn, bridge.KeyRefreshToken, bridge.KeyState, bridge.KeyEmail, bridge.KeyToken}
	for _, key := range order {
		if err := s.kv.Set(ctx, key, markers[key], markerTTL); err != nil {
			return fmt.Errorf("writing login marker %s: %w", key, err)
		}
	}
	return nil
}

const loginCompletePage = `<!DOCTYPE html>
<html>
<head><title>Login Complete</title></head>
<body>
<p>Login complete. You may close this window.</p>
<script>window.close();</script>
</body>
</html>`
