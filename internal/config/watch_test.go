package config

import (
	"os"
	"testing"
	"time"
)

func TestWatcherSeedsCurrentFromPath(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/conclave.yaml"
	if err := os.WriteFile(path, []byte("rate_limit_messages: 11\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	if got := w.Current().RateLimitMessages; got != 11 {
		t.Errorf("RateLimitMessages = %d, want 11", got)
	}
}

func TestWatcherReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/conclave.yaml"
	if err := os.WriteFile(path, []byte("rate_limit_messages: 11\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config, err error) {
		if err == nil {
			reloaded <- cfg
		}
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("rate_limit_messages: 99\n"), 0o644); err != nil {
		t.Fatalf("rewrite fixture: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.RateLimitMessages != 99 {
			t.Errorf("RateLimitMessages = %d, want 99", cfg.RateLimitMessages)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	if got := w.Current().RateLimitMessages; got != 99 {
		t.Errorf("Current().RateLimitMessages = %d, want 99", got)
	}
}

func TestWatcherEmptyPathIsInert(t *testing.T) {
	w, err := NewWatcher("", nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	if w.Current() == nil {
		t.Fatal("Current() should return the default config")
	}
}
