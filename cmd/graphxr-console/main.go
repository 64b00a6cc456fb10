package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kineviz/graphxr-console/pkg/bridge"
	"github.com/kineviz/graphxr-console/pkg/cascade"
	"github.com/kineviz/graphxr-console/pkg/client"
	"github.com/kineviz/graphxr-console/pkg/config"
	"github.com/kineviz/graphxr-console/pkg/credential"
	"github.com/kineviz/graphxr-console/pkg/gateway"
	"github.com/kineviz/graphxr-console/pkg/kvstore"
	"github.com/kineviz/graphxr-console/pkg/observability"
	"github.com/kineviz/graphxr-console/pkg/server"
	"github.com/kineviz/graphxr-console/pkg/session"
	"github.com/kineviz/graphxr-console/pkg/spanner"
	"github.com/kineviz/graphxr-console/pkg/tokenstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "graphxr-console: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stderr)
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Shared KV namespace, also reachable from the OAuth callback handler
	kv, err := newKVStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer kv.Close()

	catalog, err := spanner.NewGoogleCatalog(logger, metrics)
	if err != nil {
		return err
	}

	var oauth *server.GoogleOAuth
	if cfg.Google.ClientID != "" {
		oauth, err = server.NewGoogleOAuth(ctx, cfg.Google)
		if err != nil {
			return err
		}
	} else {
		logger.Warn("google OAuth client not configured; popup login disabled")
	}

	srv := server.NewServer(cfg, kv, catalog, oauth, logger, metrics)

	credentials := credential.NewStore()
	popup := bridge.New(credentials, kv, cfg.Server.BaseURL, cfg.Bridge.PollInterval, logger)

	mux := http.NewServeMux()
	mux.Handle("/", srv)
	if cfg.Observability.MetricsEnabled {
		mux.Handle("/metrics", observability.Handler(registry))
	}
	// UI hook: kicks off the popup flow and blocks until the markers are
	// consumed or the request is abandoned
	mux.HandleFunc("/api/google/spanner/interactive-login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := popup.BeginInteractiveLogin(r.Context()); err != nil {
			logger.WithError(err).Warn("interactive login failed")
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", httpServer.Addr).Info("console listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Console side: gateway transport, session bootstrap, resource cascade
	var tokenStore tokenstore.Store
	if fileStore, err := tokenstore.NewFileStore(); err != nil {
		logger.WithError(err).Warn("durable token store unavailable; falling back to memory")
		tokenStore = tokenstore.NewMemoryStore()
	} else {
		tokenStore = fileStore
	}

	barrier := gateway.NewBarrier()
	transport := gateway.NewTransport(barrier, tokenStore, logger, metrics, nil)
	httpClient := &http.Client{Transport: transport}
	apiClient := client.New(cfg.Server.BaseURL, httpClient)

	sessions := session.NewManager(apiClient, transport, tokenStore, barrier, logger)

	loader := cascade.NewLoader(ctx, credentials, apiClient, logger, metrics, func(n cascade.Notice) {
		logger.WithField("kind", n.Kind).Info(n.Message)
	})
	loader.Start()

	if err := sessions.Startup(ctx); err != nil {
		if errors.Is(err, session.ErrLoginRequired) {
			logger.Warn("admin login required before gated requests proceed")
		} else {
			logger.WithError(err).Warn("session startup probe failed")
		}
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serverErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func newKVStore(ctx context.Context, cfg *config.Config, logger *observability.Logger) (kvstore.Store, error) {
	switch cfg.KV.Backend {
	case "redis":
		store, err := kvstore.NewRedisStore(ctx, kvstore.RedisOptions{
			Addr:     cfg.KV.RedisURL,
			Password: cfg.KV.RedisPassword,
			DB:       cfg.KV.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		logger.WithField("addr", cfg.KV.RedisURL).Info("using redis KV backend")
		return store, nil
	default:
		logger.Info("using in-memory KV backend")
		return kvstore.NewMemoryStore(), nil
	}
}
