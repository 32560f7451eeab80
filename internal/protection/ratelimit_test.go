package protection

import (
	"testing"
	"time"
)

func TestSlidingWindowAllowsUpToLimit(t *testing.T) {
	w := newSlidingWindow(3, time.Minute)
	now := time.Now()

	for i := 0; i < 3; i++ {
		ok, _ := w.allow(now)
		if !ok {
			t.Fatalf("event %d should be allowed", i)
		}
	}
	ok, retryAfter := w.allow(now)
	if ok {
		t.Fatal("4th event should be rejected")
	}
	if retryAfter <= 0 {
		t.Fatal("expected positive retry-after")
	}
}

func TestSlidingWindowExpiresOldEvents(t *testing.T) {
	w := newSlidingWindow(1, 10*time.Millisecond)
	now := time.Now()

	ok, _ := w.allow(now)
	if !ok {
		t.Fatal("first event should be allowed")
	}
	if ok, _ := w.allow(now); ok {
		t.Fatal("second event within window should be rejected")
	}
	later := now.Add(20 * time.Millisecond)
	if ok, _ := w.allow(later); !ok {
		t.Fatal("event after window expiry should be allowed")
	}
}

func TestRateLimiterPerKeyIsolation(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	if err := rl.Allow("s1", "a1"); err != nil {
		t.Fatalf("first message on s1/a1: %v", err)
	}
	if err := rl.Allow("s1", "a1"); err == nil {
		t.Fatal("expected second message on s1/a1 to be rate limited")
	}
	if err := rl.Allow("s1", "a2"); err != nil {
		t.Fatalf("different agent on same session should have its own window: %v", err)
	}
	if err := rl.Allow("s2", "a1"); err != nil {
		t.Fatalf("different session should have its own window: %v", err)
	}
}

func TestValidateSendMessageRejectsEmpty(t *testing.T) {
	if _, err := ValidateSendMessage("   "); err == nil {
		t.Fatal("expected validation error for whitespace-only content")
	}
}

func TestValidateSendMessageSanitizes(t *testing.T) {
	clean, err := ValidateSendMessage("hello\x00world")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clean != "helloworld" {
		t.Fatalf("expected control character stripped, got %q", clean)
	}
}
