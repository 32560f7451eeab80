package agentpool

import (
	"context"
	"fmt"
	"time"

	"github.com/conclave-run/conclave/internal/chatengine"
	"github.com/conclave-run/conclave/internal/domain"
	"github.com/google/uuid"
)

// Pool tracks per-agent configuration and runtime state and exposes
// process_with_agent (§4.6).
//
// Grounded on nexus's internal/agent.FailoverOrchestrator: a map of named
// states guarded by one mutex (here, agentpool.Store), a ProviderState-style
// status transition around each call, and ConsecutiveFailures incremented
// on error the way FailoverOrchestrator.recordFailure increments
// ProviderState.Failures.
type Pool struct {
	store  *Store
	engine *chatengine.Engine
	now    func() time.Time
}

// New builds a Pool bound to store and engine.
func New(store *Store, engine *chatengine.Engine) *Pool {
	return &Pool{store: store, engine: engine, now: time.Now}
}

// ProcessWithAgent creates or reuses a session owned by agentID and pushes
// message through the Chat Engine, transitioning the agent's runtime status
// idle -> busy -> idle on success or busy -> error (with
// ConsecutiveFailures += 1) on failure. A disabled agent refuses to process.
func (p *Pool) ProcessWithAgent(ctx context.Context, agentID, sessionID, message string) (string, error) {
	agent, ok := p.store.Get(agentID)
	if !ok {
		return "", domain.NewAgentError(domain.AgentErrDisabled, agentID)
	}
	if agent.Status == domain.AgentDisabled {
		return "", domain.NewAgentError(domain.AgentErrDisabled, agentID)
	}

	p.store.mutate(agentID, func(a *domain.Agent) {
		a.Status = domain.AgentBusy
		a.LastActiveAt = p.now()
	})

	sessionID, err := p.ensureSession(ctx, agentID, sessionID, agent)
	if err != nil {
		p.recordFailure(agentID)
		return "", err
	}

	resp, err := p.engine.SendMessage(ctx, sessionID, message, false, true)
	if err != nil {
		p.recordFailure(agentID)
		return "", fmt.Errorf("agentpool: process_with_agent %s: %w", agentID, err)
	}

	p.store.mutate(agentID, func(a *domain.Agent) {
		a.Status = domain.AgentIdle
		a.ConsecutiveFailures = 0
		a.LastActiveAt = p.now()
	})
	return resp.Content, nil
}

// recordFailure transitions the agent to error and bumps its failure streak,
// mirroring FailoverOrchestrator.recordFailure's "Failures++" bookkeeping.
func (p *Pool) recordFailure(agentID string) {
	p.store.mutate(agentID, func(a *domain.Agent) {
		a.Status = domain.AgentError
		a.ConsecutiveFailures++
	})
}

// ensureSession resolves sessionID to a live session owned by agentID,
// creating one bound to the agent's configured model/prompt if sessionID is
// empty or does not yet exist.
func (p *Pool) ensureSession(ctx context.Context, agentID, sessionID string, agent *domain.Agent) (string, error) {
	if sessionID != "" {
		if _, err := p.engine.ResumeSession(ctx, sessionID); err == nil {
			return sessionID, nil
		} else if se, ok := err.(*domain.SessionError); !ok || se.Kind != domain.SessionNotFound {
			return "", err
		}
	}

	newID := sessionID
	if newID == "" {
		newID = uuid.NewString()
	}
	_, err := p.engine.CreateSession(ctx, newID, chatengine.CreateSessionParams{
		AgentID:         agentID,
		Type:            domain.SessionChat,
		SystemPrompt:    agent.SystemPrompt,
		ModelAlias:      agent.ModelAlias,
		Temperature:     agent.Temperature,
		ContextWindow:   8192,
		MaxOutputTokens: 1024,
	})
	if err != nil {
		return "", err
	}
	return newID, nil
}

// Status returns the live runtime status for agentID.
func (p *Pool) Status(agentID string) (domain.AgentStatus, bool) {
	a, ok := p.store.Get(agentID)
	if !ok {
		return "", false
	}
	return a.Status, true
}
