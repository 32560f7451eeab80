package config

import (
	"os"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
	if cfg.RateLimitMessages != 20 {
		t.Errorf("RateLimitMessages = %d, want 20", cfg.RateLimitMessages)
	}
	if cfg.RateLimitWindow != 60*time.Second {
		t.Errorf("RateLimitWindow = %v, want 60s", cfg.RateLimitWindow)
	}
	if cfg.CircuitBreakerThreshold != 5 {
		t.Errorf("CircuitBreakerThreshold = %d, want 5", cfg.CircuitBreakerThreshold)
	}
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	for _, k := range []string{
		"CONCLAVE_LISTEN_ADDR", "CONCLAVE_DATABASE_DSN", "CONCLAVE_RATE_LIMIT_MESSAGES",
		"CONCLAVE_RATE_LIMIT_WINDOW", "CONCLAVE_SESSION_RETENTION_DAYS",
		"CONCLAVE_CIRCUIT_BREAKER_THRESHOLD", "CONCLAVE_JWT_SIGNING_KEY",
	} {
		t.Setenv(k, "")
	}

	t.Setenv("CONCLAVE_LISTEN_ADDR", ":9090")
	t.Setenv("CONCLAVE_RATE_LIMIT_MESSAGES", "42")
	t.Setenv("CONCLAVE_RATE_LIMIT_WINDOW", "15s")
	t.Setenv("CONCLAVE_JWT_SIGNING_KEY", "secret")

	cfg := LoadEnv(Default())
	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want :9090", cfg.ListenAddr)
	}
	if cfg.RateLimitMessages != 42 {
		t.Errorf("RateLimitMessages = %d, want 42", cfg.RateLimitMessages)
	}
	if cfg.RateLimitWindow != 15*time.Second {
		t.Errorf("RateLimitWindow = %v, want 15s", cfg.RateLimitWindow)
	}
	if cfg.JWTSigningKey != "secret" {
		t.Errorf("JWTSigningKey = %q, want secret", cfg.JWTSigningKey)
	}
}

func TestLoadEnvIgnoresMalformedValues(t *testing.T) {
	t.Setenv("CONCLAVE_RATE_LIMIT_MESSAGES", "not-a-number")
	t.Setenv("CONCLAVE_RATE_LIMIT_WINDOW", "not-a-duration")

	cfg := LoadEnv(Default())
	if cfg.RateLimitMessages != 20 {
		t.Errorf("RateLimitMessages = %d, want unchanged default 20", cfg.RateLimitMessages)
	}
	if cfg.RateLimitWindow != 60*time.Second {
		t.Errorf("RateLimitWindow = %v, want unchanged default 60s", cfg.RateLimitWindow)
	}
}

func TestLoadFileMissingPathIsNotError(t *testing.T) {
	cfg := Default()
	got, err := LoadFile(cfg, "/nonexistent/path/conclave.yaml")
	if err != nil {
		t.Fatalf("LoadFile: unexpected error: %v", err)
	}
	if got.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want unchanged default", got.ListenAddr)
	}
}

func TestLoadFileOverlaysYAML(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/conclave.yaml"
	yaml := "listen_addr: \":7070\"\nrate_limit_messages: 7\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := LoadFile(Default(), path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.ListenAddr != ":7070" {
		t.Errorf("ListenAddr = %q, want :7070", cfg.ListenAddr)
	}
	if cfg.RateLimitMessages != 7 {
		t.Errorf("RateLimitMessages = %d, want 7", cfg.RateLimitMessages)
	}
	if cfg.CircuitBreakerThreshold != 5 {
		t.Errorf("CircuitBreakerThreshold = %d, want untouched default 5", cfg.CircuitBreakerThreshold)
	}
}

func TestLoadEnvPrecedenceOverFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/conclave.yaml"
	yaml := "listen_addr: \":7070\"\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	t.Setenv("CONCLAVE_LISTEN_ADDR", ":9999")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9999" {
		t.Errorf("ListenAddr = %q, want env override :9999", cfg.ListenAddr)
	}
}
