// MeshDrive Server
//
// Features:
// - Peer announcements & hierarchical storage usage trees
// - File search across all peers
// - SSE real-time dashboard refresh
// - Prometheus metrics & structured logging (zap)
// - JWT auth & per-user rate limiting
package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/meshdrive/meshdrive/internal/api"
	"github.com/meshdrive/meshdrive/internal/auth"
	"github.com/meshdrive/meshdrive/internal/config"
	"github.com/meshdrive/meshdrive/internal/events"
	"github.com/meshdrive/meshdrive/internal/logging"
	"github.com/meshdrive/meshdrive/internal/metadata/postgres"
	"github.com/meshdrive/meshdrive/internal/metrics"
	"github.com/meshdrive/meshdrive/internal/peers"
	"github.com/meshdrive/meshdrive/internal/ratelimit"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("MeshDrive Server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize PostgreSQL
	logging.Info("connecting to PostgreSQL...")
	store, err := postgres.New(cfg.DatabaseURL)
	if err != nil {
		logging.Fatal("database connection failed", zap.Error(err))
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		logging.Fatal("schema setup failed", zap.Error(err))
	}

	// Initialize auth
	authHandler := auth.New(store.DB(), cfg.JWTSecret, cfg.TokenTTL)
	if err := authHandler.EnsureDefaultAdmin(ctx); err != nil {
		logging.Error("failed to ensure default admin", zap.Error(err))
	}

	// Initialize SSE broadcaster
	broadcaster := events.NewBroadcaster()
	logging.Info("SSE broadcaster initialized")

	// Peer list cache and rate limiter
	peerCache := peers.NewCache(store, cfg.PeerCacheTTL)
	limiter := ratelimit.NewLimiter()

	// Create API server
	srv := api.NewServer(store, authHandler, broadcaster, peerCache, limiter, cfg)

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	// Start HTTP(S) server
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	useTLS := cfg.TLSCertFile != "" && cfg.TLSKeyFile != ""
	if useTLS {
		httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		httpServer.Close()
		metricsServer.Close()
	}()

	// Start periodic metrics update
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				store.UpdateConnectionMetrics()
			}
		}
	}()

	// Start periodic rate limiter bucket cleanup
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Cleanup(24 * time.Hour)
			}
		}
	}()

	if useTLS {
		logging.Info("HTTPS server listening", zap.String("addr", cfg.ListenAddr))
		err = httpServer.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
	} else {
		logging.Info("HTTP server listening", zap.String("addr", cfg.ListenAddr))
		err = httpServer.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}

	logging.Info("server stopped")
}
