// Package server is the console backend: admin sessions, API-key settings,
// Spanner resource listing, and the Google OAuth popup callback that feeds
// the shared KV namespace.
package server

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/kineviz/graphxr-console/pkg/auth"
	"github.com/kineviz/graphxr-console/pkg/config"
	"github.com/kineviz/graphxr-console/pkg/kvstore"
	"github.com/kineviz/graphxr-console/pkg/observability"
	"github.com/kineviz/graphxr-console/pkg/spanner"
)

// Server serves the console API
type Server struct {
	cfg     *config.Config
	router  *mux.Router
	kv      kvstore.Store
	catalog spanner.Catalog
	tokens  *auth.TokenGenerator
	logger  *observability.Logger
	metrics *observability.Metrics
	oauth   *GoogleOAuth

	// Mutable API-key settings. When the key is pinned by environment the
	// mutating endpoints reject with 403 and this state never changes.
	settingsMu    sync.RWMutex
	apiKey        string
	apiKeyEnabled bool
}

// NewServer creates a console server. oauth may be nil when no Google client
// is configured; the popup login endpoints then report that the flow is
// unavailable.
func NewServer(cfg *config.Config, kv kvstore.Store, catalog spanner.Catalog, oauth *GoogleOAuth, logger *observability.Logger, metrics *observability.Metrics) *Server {
	s := &Server{
		cfg:           cfg,
		router:        mux.NewRouter(),
		kv:            kv,
		catalog:       catalog,
		tokens:        auth.NewTokenGenerator(),
		logger:        logger.WithComponent("server"),
		metrics:       metrics,
		oauth:         oauth,
		apiKey:        cfg.Settings.APIKey,
		apiKeyEnabled: cfg.Settings.APIKeyEnabled || cfg.APIKeyEnvConfigured(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all console routes
func (s *Server) setupRoutes() {
	s.router.Use(s.instrument)

	// Admin session routes (exempt from request gating on the client side)
	s.router.HandleFunc("/api/admin/status", s.adminStatus).Methods("GET")
	s.router.HandleFunc("/api/admin/login", s.adminLogin).Methods("POST")
	s.router.HandleFunc("/api/admin/logout", s.adminLogout).Methods("POST")

	// Settings routes; reads are open so startup can probe before login
	s.router.HandleFunc("/api/settings", s.getSettings).Methods("GET")
	s.router.HandleFunc("/api/settings", s.requireAuth(s.updateSettings)).Methods("PUT")
	s.router.HandleFunc("/api/settings/generate-key", s.requireAuth(s.generateKey)).Methods("POST")

	// Spanner resource listing
	s.router.HandleFunc("/api/google/spanner/list_projects", s.requireAuth(s.listProjects)).Methods("POST")
	s.router.HandleFunc("/api/google/spanner/list_databases", s.requireAuth(s.listDatabases)).Methods("POST")

	// Google OAuth popup flow
	s.router.HandleFunc("/google/spanner/login", s.googleLogin).Methods("GET")
	s.router.HandleFunc("/google/spanner/callback", s.googleCallback).Methods("GET")

	s.router.HandleFunc("/health", s.health).Methods("GET")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// instrument records per-request metrics using the route template as the
// path label to keep cardinality bounded
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}
		if s.metrics != nil {
			s.metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(recorder.status)).Inc()
			s.metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
