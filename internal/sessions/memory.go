package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conclave-run/conclave/internal/domain"
)

// maxMessagesPerSession bounds in-memory history to prevent unbounded
// growth when a persistent session runs for a very long time.
const maxMessagesPerSession = 10000

// MemoryStore is an in-memory Store implementation for tests and
// single-process deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	messages map[string][]*domain.Message
	nextMsgID int64
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]*domain.Session{},
		messages: map[string][]*domain.Message{},
	}
}

func (m *MemoryStore) CreateSession(ctx context.Context, session *domain.Session) error {
	if session == nil {
		return domain.NewValidationError("session", "required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := cloneSession(session)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	now := time.Now()
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = clone.CreatedAt
	session.ID = clone.ID
	session.CreatedAt = clone.CreatedAt
	session.UpdatedAt = clone.UpdatedAt
	m.sessions[clone.ID] = clone
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, domain.NewSessionError(domain.SessionNotFound, id, nil)
	}
	return cloneSession(s), nil
}

func (m *MemoryStore) UpdateSession(ctx context.Context, session *domain.Session) error {
	if session == nil {
		return domain.NewValidationError("session", "required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.sessions[session.ID]
	if !ok {
		return domain.NewSessionError(domain.SessionNotFound, session.ID, nil)
	}
	clone := cloneSession(session)
	clone.CreatedAt = existing.CreatedAt
	clone.UpdatedAt = time.Now()
	m.sessions[clone.ID] = clone
	return nil
}

func (m *MemoryStore) EndSession(ctx context.Context, id string, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return domain.NewSessionError(domain.SessionNotFound, id, nil)
	}
	s.Status = domain.SessionEnded
	s.EndedAt = &endedAt
	s.UpdatedAt = endedAt
	return nil
}

func (m *MemoryStore) ListSessions(ctx context.Context, agentID string, opts ListOptions) ([]*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Session
	for _, s := range m.sessions {
		if agentID != "" && s.AgentID != agentID {
			continue
		}
		if opts.Status != "" && s.Status != opts.Status {
			continue
		}
		out = append(out, cloneSession(s))
	}

	start := opts.Offset
	if start < 0 {
		start = 0
	}
	end := len(out)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	if start > len(out) {
		return []*domain.Session{}, nil
	}
	return out[start:end], nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, sessionID string, msg *domain.Message) (int64, error) {
	if msg == nil {
		return 0, domain.NewValidationError("message", "required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return 0, domain.NewSessionError(domain.SessionNotFound, sessionID, nil)
	}
	clone := cloneMessage(msg)
	m.nextMsgID++
	clone.ID = m.nextMsgID
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	m.messages[sessionID] = append(m.messages[sessionID], clone)

	if len(m.messages[sessionID]) > maxMessagesPerSession {
		excess := len(m.messages[sessionID]) - maxMessagesPerSession
		m.messages[sessionID] = m.messages[sessionID][excess:]
	}
	return clone.ID, nil
}

func (m *MemoryStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]*domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	messages := m.messages[sessionID]
	if len(messages) == 0 {
		return []*domain.Message{}, nil
	}
	start := 0
	if limit > 0 && len(messages) > limit {
		start = len(messages) - limit
	}
	out := make([]*domain.Message, 0, len(messages)-start)
	for _, msg := range messages[start:] {
		out = append(out, cloneMessage(msg))
	}
	return out, nil
}

func (m *MemoryStore) PruneEnded(ctx context.Context, cutoff time.Time, dryRun bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for id, s := range m.sessions {
		if s.Status != domain.SessionEnded || s.EndedAt == nil || s.EndedAt.After(cutoff) {
			continue
		}
		count++
		if !dryRun {
			delete(m.sessions, id)
			delete(m.messages, id)
		}
	}
	return count, nil
}

func cloneSession(s *domain.Session) *domain.Session {
	if s == nil {
		return nil
	}
	clone := *s
	if s.Metadata != nil {
		clone.Metadata = deepCloneMap(s.Metadata)
	}
	if s.EndedAt != nil {
		endedAt := *s.EndedAt
		clone.EndedAt = &endedAt
	}
	return &clone
}

func cloneMessage(msg *domain.Message) *domain.Message {
	if msg == nil {
		return nil
	}
	clone := *msg
	if msg.Metadata != nil {
		clone.Metadata = deepCloneMap(msg.Metadata)
	}
	if len(msg.ToolCalls) > 0 {
		clone.ToolCalls = append([]domain.ToolCall{}, msg.ToolCalls...)
	}
	if msg.ToolResult != nil {
		tr := *msg.ToolResult
		clone.ToolResult = &tr
	}
	return &clone
}

func deepCloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	clone := make(map[string]any, len(m))
	for k, v := range m {
		clone[k] = v
	}
	return clone
}
