// Package sessions implements the Session Store (§4.4): durable persistence
// for sessions and their message history, plus the per-session write lock
// that Session Protection acquires around every mutating operation.
package sessions

import (
	"context"
	"time"

	"github.com/conclave-run/conclave/internal/domain"
)

// Store is the interface for session persistence. Implementations must be
// safe for concurrent use; callers needing read-modify-write atomicity
// across Store calls should hold a SessionLockManager lock for the
// duration (see LockingStore).
type Store interface {
	CreateSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	UpdateSession(ctx context.Context, session *domain.Session) error
	EndSession(ctx context.Context, id string, endedAt time.Time) error
	ListSessions(ctx context.Context, agentID string, opts ListOptions) ([]*domain.Session, error)

	AppendMessage(ctx context.Context, sessionID string, msg *domain.Message) (int64, error)
	GetHistory(ctx context.Context, sessionID string, limit int) ([]*domain.Message, error)

	// PruneEnded removes ended sessions (and their messages) whose EndedAt
	// is older than cutoff. When dryRun is true no rows are deleted and
	// the returned count is an estimate of what would be removed.
	PruneEnded(ctx context.Context, cutoff time.Time, dryRun bool) (int, error)
}

// ListOptions configures session listing.
type ListOptions struct {
	Status domain.SessionStatus
	Limit  int
	Offset int
}
