// Package gateway is the single interception point for every outbound call to
// the proxy backend. Gated requests wait on a one-shot initialization barrier
// before dispatch; exempt endpoints (the ones that supply the API key and
// resolve the barrier) bypass it so bootstrap can never deadlock on itself.
package gateway

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/kineviz/graphxr-console/pkg/observability"
	"github.com/kineviz/graphxr-console/pkg/tokenstore"
)

// Headers injected by the gateway
const (
	HeaderAdminToken = "X-Admin-Token"
	HeaderAPIKey     = "X-API-Key"
)

// exemptPaths never wait on the barrier. The settings read supplies the API
// key and the admin endpoints resolve or precede the barrier; blocking them
// would deadlock bootstrap.
var exemptPaths = map[string]struct{}{
	"/api/admin/status": {},
	"/api/admin/login":  {},
	"/api/admin/logout": {},
}

// Transport is an http.RoundTripper that gates and authorizes outbound
// requests. It owns the in-memory admin-token and API-key caches; the admin
// token additionally falls back to the durable store, the API key never does.
type Transport struct {
	base    http.RoundTripper
	barrier *Barrier
	tokens  tokenstore.Store
	logger  *observability.Logger
	metrics *observability.Metrics

	mu         sync.Mutex
	adminToken string
	apiKey     string
}

// NewTransport creates a gateway transport. A nil base uses
// http.DefaultTransport wrapped with otelhttp instrumentation.
func NewTransport(barrier *Barrier, tokens tokenstore.Store, logger *observability.Logger, metrics *observability.Metrics, base http.RoundTripper) *Transport {
	if base == nil {
		base = otelhttp.NewTransport(http.DefaultTransport)
	}
	return &Transport{
		base:    base,
		barrier: barrier,
		tokens:  tokens,
		logger:  logger.WithComponent("gateway"),
		metrics: metrics,
	}
}

// Exempt reports whether a request bypasses the initialization barrier
func Exempt(r *http.Request) bool {
	if r.URL.Path == "/api/settings" && r.Method == http.MethodGet {
		return true
	}
	_, ok := exemptPaths[r.URL.Path]
	return ok
}

// SetAdminToken caches the admin token in memory
func (t *Transport) SetAdminToken(token string) {
	t.mu.Lock()
	t.adminToken = token
	t.mu.Unlock()
}

// ClearAdminToken drops the in-memory admin token
func (t *Transport) ClearAdminToken() {
	t.SetAdminToken("")
}

// SetAPIKey caches the API key in memory. The key is ephemeral and is only
// (re)populated via session bootstrap or a settings save; there is no durable
// fallback on purpose.
func (t *Transport) SetAPIKey(key string) {
	t.mu.Lock()
	t.apiKey = key
	t.mu.Unlock()
}

// APIKey returns the in-memory API key, or ""
func (t *Transport) APIKey() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.apiKey
}

// resolveAdminToken prefers the in-memory cache and falls back to the durable
// store, caching a hit back into memory. The fallback covers the case where
// the in-memory cache was lost (e.g. a reload) while the store was not.
func (t *Transport) resolveAdminToken() string {
	t.mu.Lock()
	token := t.adminToken
	t.mu.Unlock()
	if token != "" {
		return token
	}

	stored, err := t.tokens.Load()
	if err != nil {
		t.logger.WithError(err).Warn("failed to read durable admin token")
		return ""
	}
	if stored != "" {
		t.mu.Lock()
		t.adminToken = stored
		t.mu.Unlock()
	}
	return stored
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	class := "gated"
	if Exempt(req) {
		class = "exempt"
	} else {
		waitStart := time.Now()
		if err := t.barrier.Wait(req.Context()); err != nil {
			return nil, err
		}
		if t.metrics != nil {
			t.metrics.GatewayBarrierWait.Observe(time.Since(waitStart).Seconds())
		}
	}

	// Clone before mutating headers; RoundTrippers must not modify the
	// caller's request.
	req = req.Clone(req.Context())

	if token := t.resolveAdminToken(); token != "" {
		req.Header.Set(HeaderAdminToken, token)
	}
	if key := t.APIKey(); key != "" {
		req.Header.Set(HeaderAPIKey, key)
	}

	start := time.Now()
	resp, err := t.base.RoundTrip(req)

	if t.metrics != nil {
		status := "error"
		if err == nil {
			status = strconv.Itoa(resp.StatusCode)
		}
		t.metrics.GatewayRequestsTotal.WithLabelValues(req.URL.Path, class, status).Inc()
		t.metrics.GatewayRequestDuration.WithLabelValues(req.URL.Path).Observe(time.Since(start).Seconds())
	}

	// Response errors pass through unmodified; the gateway does not retry
	return resp, err
}
