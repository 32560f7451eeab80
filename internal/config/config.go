// Package config loads the Conclave engine's typed configuration from
// environment variables with an optional YAML file overlay, and hot-reloads
// a small subset of non-critical fields.
//
// Grounded on nexus's internal/config (the env-over-file precedence
// convention of loader.go, minus its $include/json5 machinery, which has no
// use here) and internal/skills.Manager's fsnotify watch pattern for the
// hot-reload half.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the engine's top-level configuration. Fields here are the ones
// named across §4/§5/§6: gateway circuit-breaker thresholds, rate-limit
// defaults, session retention, and the transport listen address.
type Config struct {
	// ListenAddr is the address the §6 HTTP/WS transport binds to.
	ListenAddr string `yaml:"listen_addr"`

	// DatabaseDSN is the Postgres/CockroachDB connection string for the
	// Session Store. Empty selects the in-memory store (dev mode).
	DatabaseDSN string `yaml:"database_dsn"`

	// RateLimitMessages and RateLimitWindow configure Session Protection's
	// sliding window (§4.5's "20 messages per 60s" default).
	RateLimitMessages int           `yaml:"rate_limit_messages"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`

	// SessionRetentionDays is prune_old_sessions' age cutoff (SPEC_FULL's
	// Session pruning supplement).
	SessionRetentionDays int `yaml:"session_retention_days"`

	// CircuitBreakerThreshold and CircuitBreakerCooldown configure every
	// per-provider circuit breaker in the LLM Gateway (§4.1).
	CircuitBreakerThreshold int           `yaml:"circuit_breaker_threshold"`
	CircuitBreakerCooldown  time.Duration `yaml:"circuit_breaker_cooldown"`

	// JWTSigningKey verifies bearer tokens ahead of the transport boundary.
	JWTSigningKey string `yaml:"jwt_signing_key"`
}

// Default returns the configuration's zero-input defaults.
func Default() *Config {
	return &Config{
		ListenAddr:              ":8080",
		RateLimitMessages:       20,
		RateLimitWindow:         60 * time.Second,
		SessionRetentionDays:    90,
		CircuitBreakerThreshold: 5,
		CircuitBreakerCooldown:  30 * time.Second,
	}
}

// LoadEnv overlays environment variables onto cfg, following the teacher's
// convention of env values taking precedence over file defaults.
func LoadEnv(cfg *Config) *Config {
	if v := os.Getenv("CONCLAVE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("CONCLAVE_DATABASE_DSN"); v != "" {
		cfg.DatabaseDSN = v
	}
	if v := os.Getenv("CONCLAVE_RATE_LIMIT_MESSAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitMessages = n
		}
	}
	if v := os.Getenv("CONCLAVE_RATE_LIMIT_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RateLimitWindow = d
		}
	}
	if v := os.Getenv("CONCLAVE_SESSION_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SessionRetentionDays = n
		}
	}
	if v := os.Getenv("CONCLAVE_CIRCUIT_BREAKER_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CircuitBreakerThreshold = n
		}
	}
	if v := os.Getenv("CONCLAVE_JWT_SIGNING_KEY"); v != "" {
		cfg.JWTSigningKey = v
	}
	return cfg
}
