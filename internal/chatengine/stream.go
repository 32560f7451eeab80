package chatengine

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/conclave-run/conclave/internal/domain"
	"github.com/conclave-run/conclave/internal/llmgateway"
	"github.com/conclave-run/conclave/internal/protection"
	"github.com/conclave-run/conclave/internal/tools"
)

// streamChunkBufferSize mirrors the buffered-channel sizing nexus's
// AgenticLoop.Run uses for its response-chunk channel, so a slow transport
// consumer can't stall the gateway stream mid-turn.
const streamChunkBufferSize = 32

// StreamMessage runs one send_message turn as a stream, forwarding typed
// chunks per §4.4: stream_start, content, thinking, tool_call, tool_result,
// stream_end, error. The user message is persisted before the first chunk
// is sent; the rest of the turn persists as each iteration of the tool-call
// loop completes.
func (e *Engine) StreamMessage(ctx context.Context, sessionID, content string, enableThinking, enableTools bool) (<-chan *Chunk, error) {
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, domain.Wrap("chatengine.StreamMessage", err)
	}
	if err := protection.CheckEndable(session); err != nil {
		return nil, err
	}
	if session.MessageCount >= domain.MaxMessagesPerSession {
		return nil, domain.NewSessionError(domain.SessionFull, sessionID, nil)
	}

	out := make(chan *Chunk, streamChunkBufferSize)
	go func() {
		defer close(out)
		out <- &Chunk{Kind: ChunkStreamStart}

		err := e.guard.WithSessionLock(ctx, sessionID, session.AgentID, content, func(ctx context.Context, sanitized string) error {
			return e.streamTurn(ctx, session, sanitized, enableThinking, enableTools, out)
		})
		if err != nil {
			out <- &Chunk{Kind: ChunkError, Err: err}
		}
	}()
	return out, nil
}

func (e *Engine) streamTurn(ctx context.Context, session *domain.Session, content string, enableThinking, enableTools bool, out chan<- *Chunk) error {
	userMsg := &domain.Message{
		SessionID: session.ID,
		Role:      domain.RoleUser,
		Content:   content,
		CreatedAt: e.now(),
	}
	if _, err := e.store.AppendMessage(ctx, session.ID, userMsg); err != nil {
		return domain.Wrap("chatengine.StreamMessage", err)
	}

	firstTurn := session.MessageCount == 0
	session.MessageCount++

	working, err := e.buildContext(ctx, session)
	if err != nil {
		return err
	}

	var toolDescriptors []llmgateway.ToolDescriptor
	if enableTools {
		toolDescriptors = e.registry.DescriptorsForLLM()
	}

	var totalIn, totalOut int64
	finishReason := FinishReason(FinishStop)
	var finalContent, finalThinking string
	var finalToolCalls []domain.ToolCall

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
		upstream, err := e.gateway.Stream(ctx, req)
		if err != nil {
			return domain.NewSessionError(domain.SessionLLMFailure, session.ID, err)
		}

		var contentBuf, thinkingBuf strings.Builder
		var toolCallRefs []llmgateway.ToolCallRef
		var iterFinish llmgateway.FinishReason
		var iterIn, iterOut int64

		for c := range upstream {
			if c.Err != nil {
				return domain.NewSessionError(domain.SessionLLMFailure, session.ID, c.Err)
			}
			switch c.Kind {
			case llmgateway.ChunkContent:
				contentBuf.WriteString(c.Delta)
				out <- &Chunk{Kind: ChunkContent, Delta: c.Delta}
			case llmgateway.ChunkThinking:
				thinkingBuf.WriteString(c.Delta)
				out <- &Chunk{Kind: ChunkThinking, Delta: c.Delta}
			case llmgateway.ChunkToolCall:
				if c.ToolCall != nil {
					toolCallRefs = append(toolCallRefs, *c.ToolCall)
					out <- &Chunk{Kind: ChunkToolCall, ToolCall: &domain.ToolCall{
						ID:    c.ToolCall.ID,
						Name:  c.ToolCall.Name,
						Input: c.ToolCall.Input,
					}}
				}
			case llmgateway.ChunkDone:
				iterFinish = c.FinishReason
				iterIn = c.InputTokens
				iterOut = c.OutputTokens
			}
		}

		totalIn += iterIn
		totalOut += iterOut

		resp := &llmgateway.Response{
			Content:      contentBuf.String(),
			Thinking:     thinkingBuf.String(),
			ToolCalls:    toolCallRefs,
			InputTokens:  iterIn,
			OutputTokens: iterOut,
			FinishReason: iterFinish,
		}
		finalContent = resp.Content
		finalThinking = resp.Thinking

		if len(resp.ToolCalls) == 0 {
			finishReason = resp.FinishReason
			assistantMsg := e.persistAssistantMessage(ctx, session, resp, nil)
			working = append(working, gatewayMessageForAssistant(assistantMsg))
			break
		}

		toolCalls := toDomainToolCalls(resp.ToolCalls)
		finalToolCalls = toolCalls
		assistantMsg := e.persistAssistantMessage(ctx, session, resp, toolCalls)
		working = append(working, gatewayMessageForAssistant(assistantMsg))

		for _, tc := range resp.ToolCalls {
			dispatchCtx := tools.WithEngine(ctx, e)
			result := e.registry.Execute(dispatchCtx, tc.ID, tc.Name, json.RawMessage(tc.Input))
			out <- &Chunk{Kind: ChunkToolResult, ToolResult: result}

			toolMsg := &domain.Message{
				SessionID:  session.ID,
				Role:       domain.RoleTool,
				Content:    result.Content,
				ToolResult: result,
				CreatedAt:  e.now(),
			}
			if _, err := e.store.AppendMessage(ctx, session.ID, toolMsg); err != nil {
				return domain.NewSessionError(domain.SessionLLMFailure, session.ID, err)
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
	session.UpdatedAt = e.now()
	if firstTurn && session.Title == "" {
		session.Title = domain.DeriveTitle(content)
	}
	if err := e.store.UpdateSession(ctx, session); err != nil {
		e.logger.Error(ctx, "chatengine: update session counters failed", "session_id", session.ID, "error", err)
	}

	out <- &Chunk{
		Kind: ChunkStreamEnd,
		Response: &Response{
			Content:      finalContent,
			Thinking:     finalThinking,
			ToolCalls:    finalToolCalls,
			InputTokens:  totalIn,
			OutputTokens: totalOut,
			FinishReason: finishReason,
		},
	}
	return nil
}
