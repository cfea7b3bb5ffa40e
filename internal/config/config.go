// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Database
	DatabaseURL string

	// TLS (optional; if both set, server uses HTTPS)
	TLSCertFile string
	TLSKeyFile  string

	// Auth
	JWTSecret string
	TokenTTL  time.Duration

	// Peers
	PeerCacheTTL time.Duration

	// Rate limiting (requests per minute per user, 0 = unlimited)
	RequestsPerMin int
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:   envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:  envOr("METRICS_ADDR", ":9090"),
		LogLevel:     envOr("LOG_LEVEL", "info"),
		LogFormat:    envOr("LOG_FORMAT", "json"),
		DatabaseURL:  envOr("DATABASE_URL", ""),
		TLSCertFile:  envOr("TLS_CERT_FILE", ""),
		TLSKeyFile:   envOr("TLS_KEY_FILE", ""),
		JWTSecret:    envOr("JWT_SECRET", ""),
		TokenTTL:     envDuration("TOKEN_TTL", 24*time.Hour),
		PeerCacheTTL: envDuration("PEER_CACHE_TTL", 30*time.Second),

		RequestsPerMin: envInt("REQUESTS_PER_MINUTE", 0),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}
