package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/conclave-run/conclave/internal/domain"
)

func TestMemoryStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	s := &domain.Session{AgentID: "agent-1", Type: domain.SessionChat}
	if err := store.CreateSession(ctx, s); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if s.ID == "" {
		t.Fatal("expected generated ID")
	}

	got, err := store.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.AgentID != "agent-1" {
		t.Fatalf("agent id = %q", got.AgentID)
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.GetSession(context.Background(), "missing")
	var sessErr *domain.SessionError
	if err == nil {
		t.Fatal("expected error")
	}
	if se, ok := err.(*domain.SessionError); !ok || se.Kind != domain.SessionNotFound {
		t.Fatalf("expected SessionError{not_found}, got %v (%T)", err, err)
	}
	_ = sessErr
}

func TestMemoryStoreAppendAndHistory(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := &domain.Session{AgentID: "agent-1"}
	if err := store.CreateSession(ctx, s); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	for i := 0; i < 5; i++ {
		if _, err := store.AppendMessage(ctx, s.ID, &domain.Message{Role: domain.RoleUser, Content: "hi"}); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	history, err := store.GetHistory(ctx, s.ID, 3)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(history))
	}
}

func TestMemoryStorePruneEndedDryRun(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := &domain.Session{AgentID: "agent-1"}
	if err := store.CreateSession(ctx, s); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	ended := time.Now().Add(-100 * 24 * time.Hour)
	if err := store.EndSession(ctx, s.ID, ended); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	count, err := store.PruneEnded(ctx, time.Now().Add(-90*24*time.Hour), true)
	if err != nil {
		t.Fatalf("PruneEnded dry run: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 prunable session, got %d", count)
	}
	if _, err := store.GetSession(ctx, s.ID); err != nil {
		t.Fatal("dry run must not delete the session")
	}

	count, err = store.PruneEnded(ctx, time.Now().Add(-90*24*time.Hour), false)
	if err != nil {
		t.Fatalf("PruneEnded: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 pruned session, got %d", count)
	}
	if _, err := store.GetSession(ctx, s.ID); err == nil {
		t.Fatal("expected session to be pruned")
	}
}

func TestLockManagerSerializesWriters(t *testing.T) {
	mgr := NewLockManager(time.Second)
	release, ok := mgr.TryAcquire("s1", "writer-a")
	if !ok {
		t.Fatal("expected first acquire to succeed")
	}
	if _, ok := mgr.TryAcquire("s1", "writer-b"); ok {
		t.Fatal("expected second acquire to fail while locked")
	}
	release()
	if mgr.IsLocked("s1") {
		t.Fatal("expected lock released")
	}
}
