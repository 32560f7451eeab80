package chatengine

import (
	"context"
	"encoding/json"
	"time"

	gocontext "github.com/conclave-run/conclave/internal/context"
	"github.com/conclave-run/conclave/internal/domain"
	"github.com/conclave-run/conclave/internal/llmgateway"
	"github.com/conclave-run/conclave/internal/observability"
	"github.com/conclave-run/conclave/internal/protection"
	"github.com/conclave-run/conclave/internal/sessions"
	"github.com/conclave-run/conclave/internal/tools"
)

// Engine orchestrates one conversational turn: context packing, the LLM
// Gateway call, the tool-call loop, and persistence through the Session
// Store under Session Protection's write lock.
type Engine struct {
	gateway  *llmgateway.Gateway
	registry *tools.Registry
	store    sessions.Store
	guard    *protection.Guard
	logger   *observability.Logger
	now      func() time.Time
}

// New builds an Engine. logger defaults to a no-op-equivalent logger when nil.
func New(gateway *llmgateway.Gateway, registry *tools.Registry, store sessions.Store, guard *protection.Guard, logger *observability.Logger) *Engine {
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}
	return &Engine{
		gateway:  gateway,
		registry: registry,
		store:    store,
		guard:    guard,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateSession creates and persists a new session.
func (e *Engine) CreateSession(ctx context.Context, id string, p CreateSessionParams) (*domain.Session, error) {
	now := e.now()
	session := &domain.Session{
		ID:              id,
		AgentID:         p.AgentID,
		Type:            p.Type,
		SystemPrompt:    p.SystemPrompt,
		ModelAlias:      p.ModelAlias,
		Temperature:     p.Temperature,
		MaxOutputTokens: p.MaxOutputTokens,
		ContextWindow:   p.ContextWindow,
		Status:          domain.SessionActive,
		Metadata:        p.Metadata,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if session.Type == "" {
		session.Type = domain.SessionChat
	}
	if err := e.store.CreateSession(ctx, session); err != nil {
		return nil, domain.Wrap("chatengine.CreateSession", err)
	}
	return session, nil
}

// ResumeSession loads an existing session, rejecting one that has ended.
func (e *Engine) ResumeSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, domain.Wrap("chatengine.ResumeSession", err)
	}
	if session.IsEnded() {
		return nil, domain.NewSessionError(domain.SessionEndedErr, sessionID, nil)
	}
	return session, nil
}

// EndSession marks a session ended, refusing new messages from then on.
func (e *Engine) EndSession(ctx context.Context, sessionID string) error {
	if err := e.store.EndSession(ctx, sessionID, e.now()); err != nil {
		return domain.Wrap("chatengine.EndSession", err)
	}
	return nil
}

// AskSubQuery implements tools.EngineCapability: a tool may ask the engine
// a one-off question against the same session without tool access, so a
// delegation-style tool cannot recurse into its own tool loop.
func (e *Engine) AskSubQuery(ctx context.Context, sessionID, content string) (string, error) {
	resp, err := e.SendMessage(ctx, sessionID, content, false, false)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// SendMessage runs one non-streaming conversational turn per §4.4.
func (e *Engine) SendMessage(ctx context.Context, sessionID, content string, enableThinking, enableTools bool) (*Response, error) {
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, domain.Wrap("chatengine.SendMessage", err)
	}
	if err := protection.CheckEndable(session); err != nil {
		return nil, err
	}
	if session.MessageCount >= domain.MaxMessagesPerSession {
		return nil, domain.NewSessionError(domain.SessionFull, sessionID, nil)
	}

	var resp *Response
	err = e.guard.WithSessionLock(ctx, sessionID, session.AgentID, content, func(ctx context.Context, sanitized string) error {
		var runErr error
		resp, runErr = e.runTurn(ctx, session, sanitized, enableThinking, enableTools)
		return runErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// runTurn executes the persist-user-message / pack-context / tool-call-loop
// sequence while the caller holds the session's write lock.
func (e *Engine) runTurn(ctx context.Context, session *domain.Session, content string, enableThinking, enableTools bool) (*Response, error) {
	now := e.now()
	userMsg := &domain.Message{
		SessionID: session.ID,
		Role:      domain.RoleUser,
		Content:   content,
		CreatedAt: now,
	}
	if _, err := e.store.AppendMessage(ctx, session.ID, userMsg); err != nil {
		return nil, domain.Wrap("chatengine.SendMessage", err)
	}

	firstTurn := session.MessageCount == 0
	session.MessageCount++

	working, err := e.buildContext(ctx, session)
	if err != nil {
		return nil, err
	}

	var toolDescriptors []llmgateway.ToolDescriptor
	if enableTools {
		toolDescriptors = e.registry.DescriptorsForLLM()
	}

	var totalIn, totalOut, totalCost, totalLatency int64
	var finishReason FinishReason = FinishStop
	var lastResp *llmgateway.Response

	iteration := 0
	for ; iteration < MaxToolIterations; iteration++ {
		req := &llmgateway.Request{
			Model:          session.ModelAlias,
			System:         session.SystemPrompt,
			Messages:       working,
			Tools:          toolDescriptors,
			MaxTokens:      session.MaxOutputTokens,
			Temperature:    session.Temperature,
			EnableThinking: enableThinking,
		}
		resp, err := e.gateway.Complete(ctx, req)
		if err != nil {
			return nil, domain.NewSessionError(domain.SessionLLMFailure, session.ID, err)
		}
		lastResp = resp
		totalIn += resp.InputTokens
		totalOut += resp.OutputTokens
		totalCost += resp.CostMicros
		totalLatency += resp.LatencyMS

		if len(resp.ToolCalls) == 0 {
			finishReason = resp.FinishReason
			assistantMsg := e.persistAssistantMessage(ctx, session, resp, nil)
			working = append(working, gatewayMessageForAssistant(assistantMsg))
			break
		}

		toolCalls := toDomainToolCalls(resp.ToolCalls)
		assistantMsg := e.persistAssistantMessage(ctx, session, resp, toolCalls)
		working = append(working, gatewayMessageForAssistant(assistantMsg))

		for _, tc := range resp.ToolCalls {
			dispatchCtx := tools.WithEngine(ctx, e)
			result := e.registry.Execute(dispatchCtx, tc.ID, tc.Name, json.RawMessage(tc.Input))
			toolMsg := &domain.Message{
				SessionID:  session.ID,
				Role:       domain.RoleTool,
				Content:    result.Content,
				ToolResult: result,
				CreatedAt:  e.now(),
			}
			if _, err := e.store.AppendMessage(ctx, session.ID, toolMsg); err != nil {
				return nil, domain.NewSessionError(domain.SessionLLMFailure, session.ID, err)
			}
			working = append(working, llmgateway.Message{
				Role: string(domain.RoleTool),
				ToolResult: &llmgateway.ToolResultRef{
					ToolCallID: result.ToolCallID,
					Content:    result.Content,
					IsError:    result.IsError,
				},
			})
		}
	}

	if iteration >= MaxToolIterations {
		finishReason = FinishToolLoopExhausted
	}

	session.TotalTokens += totalIn + totalOut
	session.TotalCostMicros += totalCost
	session.UpdatedAt = e.now()
	if firstTurn && session.Title == "" {
		session.Title = domain.DeriveTitle(content)
	}
	if err := e.store.UpdateSession(ctx, session); err != nil {
		e.logger.Error(ctx, "chatengine: update session counters failed", "session_id", session.ID, "error", err)
	}

	finalContent := ""
	finalThinking := ""
	var finalToolCalls []domain.ToolCall
	if lastResp != nil {
		finalContent = lastResp.Content
		finalThinking = lastResp.Thinking
		finalToolCalls = toDomainToolCalls(lastResp.ToolCalls)
	}

	return &Response{
		Content:      finalContent,
		Thinking:     finalThinking,
		ToolCalls:    finalToolCalls,
		InputTokens:  totalIn,
		OutputTokens: totalOut,
		CostMicros:   totalCost,
		LatencyMS:    totalLatency,
		FinishReason: finishReason,
	}, nil
}

func (e *Engine) persistAssistantMessage(ctx context.Context, session *domain.Session, resp *llmgateway.Response, toolCalls []domain.ToolCall) *domain.Message {
	msg := &domain.Message{
		SessionID:  session.ID,
		Role:       domain.RoleAssistant,
		Content:    resp.Content,
		Thinking:   resp.Thinking,
		ToolCalls:  toolCalls,
		ModelAlias: session.ModelAlias,
		TokensIn:   resp.InputTokens,
		TokensOut:  resp.OutputTokens,
		CostMicros: resp.CostMicros,
		LatencyMS:  resp.LatencyMS,
		CreatedAt:  e.now(),
	}
	if _, err := e.store.AppendMessage(ctx, session.ID, msg); err != nil {
		e.logger.Error(ctx, "chatengine: persist assistant message failed", "session_id", session.ID, "error", err)
	}
	return msg
}

// buildContext loads the session's history, packs it per §4.3, and renders
// it into the message list the gateway expects.
func (e *Engine) buildContext(ctx context.Context, session *domain.Session) ([]llmgateway.Message, error) {
	history, err := e.store.GetHistory(ctx, session.ID, 0)
	if err != nil {
		return nil, domain.Wrap("chatengine.buildContext", err)
	}

	candidates := make([]gocontext.Candidate, len(history))
	for i, m := range history {
		candidates[i] = gocontext.Candidate{
			Index:           i,
			Role:            string(m.Role),
			Tokens:          int(estimateMessageTokens(e.gateway, m, session.ModelAlias)),
			HasToolActivity: len(m.ToolCalls) > 0 || m.ToolResult != nil,
			ContentLen:      len(m.Content),
		}
	}

	contextWindow := session.ContextWindow
	if contextWindow <= 0 {
		if known, ok := gocontext.GetModelContextWindow(session.ModelAlias); ok {
			contextWindow = known
		} else {
			contextWindow = gocontext.DefaultContextWindow
		}
	}
	packed := gocontext.Pack(candidates, contextWindow, session.MaxOutputTokens)

	out := make([]llmgateway.Message, 0, len(packed))
	for _, c := range packed {
		out = append(out, gatewayMessageForHistory(history[c.Index]))
	}
	return out, nil
}

func estimateMessageTokens(gateway *llmgateway.Gateway, m *domain.Message, modelAlias string) int64 {
	if m.TokensIn+m.TokensOut > 0 {
		return m.TokensIn + m.TokensOut
	}
	if gateway == nil {
		return int64(gocontext.EstimateTokens(m.Content))
	}
	return gateway.EstimateTokensFor(m.Content, modelAlias)
}

func gatewayMessageForHistory(m *domain.Message) llmgateway.Message {
	gm := llmgateway.Message{
		Role:    string(m.Role),
		Content: m.Content,
	}
	if len(m.ToolCalls) > 0 {
		gm.ToolCalls = toGatewayToolCallRefs(m.ToolCalls)
	}
	if m.ToolResult != nil {
		gm.ToolResult = &llmgateway.ToolResultRef{
			ToolCallID: m.ToolResult.ToolCallID,
			Content:    m.ToolResult.Content,
			IsError:    m.ToolResult.IsError,
		}
	}
	return gm
}

func gatewayMessageForAssistant(m *domain.Message) llmgateway.Message {
	return gatewayMessageForHistory(m)
}

func toDomainToolCalls(refs []llmgateway.ToolCallRef) []domain.ToolCall {
	if len(refs) == 0 {
		return nil
	}
	out := make([]domain.ToolCall, len(refs))
	for i, r := range refs {
		out[i] = domain.ToolCall{ID: r.ID, Name: r.Name, Input: r.Input}
	}
	return out
}

func toGatewayToolCallRefs(calls []domain.ToolCall) []llmgateway.ToolCallRef {
	out := make([]llmgateway.ToolCallRef, len(calls))
	for i, c := range calls {
		out[i] = llmgateway.ToolCallRef{ID: c.ID, Name: c.Name, Input: c.Input}
	}
	return out
}
