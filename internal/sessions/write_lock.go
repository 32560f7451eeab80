package sessions

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/conclave-run/conclave/internal/domain"
)

// ErrLockTimeout is returned when acquiring a session write lock times out,
// the condition behind §5's "one write lock per session" guarantee.
var ErrLockTimeout = errors.New("sessions: write lock acquisition timeout")

// DefaultLockTimeout bounds how long a caller waits for a session's write
// lock before giving up.
const DefaultLockTimeout = 5 * time.Second

// sessionLock is one advisory per-session write lock.
type sessionLock struct {
	mu       sync.Mutex
	cond     *sync.Cond
	locked   bool
	holder   string
	acquired time.Time
}

// LockManager serializes all mutating operations against a given session
// ID: Chat Engine's send_message, Roundtable rounds, and Scheduler-driven
// executions all acquire the same per-session lock before writing, so two
// concurrent callers on one session never interleave writes.
type LockManager struct {
	mu         sync.RWMutex
	locks      map[string]*sessionLock
	defaultTTL time.Duration
}

// NewLockManager builds a lock manager. defaultTTL governs how long an
// idle, unlocked entry is retained before the background sweep reclaims it.
func NewLockManager(defaultTTL time.Duration) *LockManager {
	if defaultTTL <= 0 {
		defaultTTL = 30 * time.Second
	}
	m := &LockManager{
		locks:      make(map[string]*sessionLock),
		defaultTTL: defaultTTL,
	}
	go m.sweepLoop()
	return m
}

func (m *LockManager) entry(sessionID string) *sessionLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[sessionID]
	if !ok {
		lock = &sessionLock{}
		lock.cond = sync.NewCond(&lock.mu)
		m.locks[sessionID] = lock
	}
	return lock
}

// Acquire blocks until the session's write lock is free, ctx is cancelled,
// or timeout elapses, whichever comes first. The returned release func
// must be called exactly once. A non-positive timeout uses the manager's
// default.
func (m *LockManager) Acquire(ctx context.Context, sessionID, holder string, timeout time.Duration) (func(), error) {
	if timeout <= 0 {
		timeout = m.defaultTTL
	}
	lock := m.entry(sessionID)

	lock.mu.Lock()
	defer lock.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for lock.locked {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrLockTimeout
		}

		done := make(chan struct{})
		go func() {
			lock.cond.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(remaining):
			return nil, ErrLockTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	lock.locked = true
	lock.holder = holder
	lock.acquired = time.Now()

	release := func() {
		lock.mu.Lock()
		defer lock.mu.Unlock()
		lock.locked = false
		lock.holder = ""
		lock.cond.Broadcast()
	}
	return release, nil
}

// TryAcquire attempts to take the lock without waiting.
func (m *LockManager) TryAcquire(sessionID, holder string) (func(), bool) {
	lock := m.entry(sessionID)

	lock.mu.Lock()
	defer lock.mu.Unlock()
	if lock.locked {
		return nil, false
	}
	lock.locked = true
	lock.holder = holder
	lock.acquired = time.Now()

	release := func() {
		lock.mu.Lock()
		defer lock.mu.Unlock()
		lock.locked = false
		lock.holder = ""
		lock.cond.Broadcast()
	}
	return release, true
}

// IsLocked reports whether sessionID currently has its write lock held.
func (m *LockManager) IsLocked(sessionID string) bool {
	m.mu.RLock()
	lock, ok := m.locks[sessionID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	lock.mu.Lock()
	defer lock.mu.Unlock()
	return lock.locked
}

func (m *LockManager) sweepLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		m.sweep()
	}
}

func (m *LockManager) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	for id, lock := range m.locks {
		lock.mu.Lock()
		stale := !lock.locked && lock.acquired.Before(cutoff)
		lock.mu.Unlock()
		if stale {
			delete(m.locks, id)
		}
	}
}

// LockingStore wraps a Store so every mutating call runs under that
// session's write lock.
type LockingStore struct {
	Store
	locks  *LockManager
	holder string
}

// NewLockingStore builds a LockingStore. holder identifies this process or
// worker for lock-contention diagnostics.
func NewLockingStore(store Store, locks *LockManager, holder string) *LockingStore {
	return &LockingStore{Store: store, locks: locks, holder: holder}
}

func (s *LockingStore) UpdateSession(ctx context.Context, session *domain.Session) error {
	release, err := s.locks.Acquire(ctx, session.ID, s.holder, 0)
	if err != nil {
		return err
	}
	defer release()
	return s.Store.UpdateSession(ctx, session)
}

func (s *LockingStore) EndSession(ctx context.Context, id string, endedAt time.Time) error {
	release, err := s.locks.Acquire(ctx, id, s.holder, 0)
	if err != nil {
		return err
	}
	defer release()
	return s.Store.EndSession(ctx, id, endedAt)
}

func (s *LockingStore) AppendMessage(ctx context.Context, sessionID string, msg *domain.Message) (int64, error) {
	release, err := s.locks.Acquire(ctx, sessionID, s.holder, 0)
	if err != nil {
		return 0, err
	}
	defer release()
	return s.Store.AppendMessage(ctx, sessionID, msg)
}

// WithLock runs fn while holding sessionID's write lock, for compound
// operations (e.g. append message + update counters) that must appear
// atomic to other writers.
func (s *LockingStore) WithLock(ctx context.Context, sessionID string, fn func(Store) error) error {
	release, err := s.locks.Acquire(ctx, sessionID, s.holder, 0)
	if err != nil {
		return err
	}
	defer release()
	return fn(s.Store)
}
