package protection

import (
	"context"

	"github.com/conclave-run/conclave/internal/domain"
	"github.com/conclave-run/conclave/internal/sessions"
)

// Guard is the single entry point the Chat Engine and Roundtable call
// before mutating a session: it validates/sanitizes content, enforces the
// rate limit, and acquires the session's write lock for the duration of
// fn. Combining all three in one place keeps a caller from forgetting one
// of them on a new code path.
type Guard struct {
	limiter *RateLimiter
	locks   *sessions.LockManager
}

// NewGuard builds a Guard over the given rate limiter and lock manager.
func NewGuard(limiter *RateLimiter, locks *sessions.LockManager) *Guard {
	return &Guard{limiter: limiter, locks: locks}
}

// PrepareMessage validates and sanitizes content and checks the
// (session, agent) rate limit, without acquiring the write lock — callers
// that already hold the lock (e.g. mid-Roundtable-round) use this.
func (g *Guard) PrepareMessage(sessionID, agentID, content string) (string, error) {
	clean, err := ValidateSendMessage(content)
	if err != nil {
		return "", err
	}
	if err := g.limiter.Allow(sessionID, agentID); err != nil {
		return "", err
	}
	return clean, nil
}

// WithSessionLock validates content, checks the rate limit, acquires the
// session's write lock, then runs fn while holding it. This is the
// standard entry point for a single send_message call.
func (g *Guard) WithSessionLock(ctx context.Context, sessionID, agentID, content string, fn func(ctx context.Context, sanitized string) error) error {
	clean, err := g.PrepareMessage(sessionID, agentID, content)
	if err != nil {
		return err
	}

	release, err := g.locks.Acquire(ctx, sessionID, agentID, 0)
	if err != nil {
		return err
	}
	defer release()

	return fn(ctx, clean)
}

// CheckEndable returns a SessionError if the session may not accept new
// messages (already ended).
func CheckEndable(s *domain.Session) error {
	if s.IsEnded() {
		return domain.NewSessionError(domain.SessionEndedErr, s.ID, nil)
	}
	return nil
}

// DefaultLockTimeout re-exports sessions.DefaultLockTimeout for callers
// that only import protection.
const DefaultLockTimeout = sessions.DefaultLockTimeout
