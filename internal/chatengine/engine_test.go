package chatengine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/conclave-run/conclave/internal/domain"
	"github.com/conclave-run/conclave/internal/llmgateway"
	"github.com/conclave-run/conclave/internal/protection"
	"github.com/conclave-run/conclave/internal/sessions"
	"github.com/conclave-run/conclave/internal/tools"
)

// scriptedProvider returns one canned Response/Chunk-list per Complete/
// Stream call, in order, so a test can script a tool-call iteration
// followed by a final answer.
type scriptedProvider struct {
	completes []*llmgateway.Response
	call      int
}

func (p *scriptedProvider) Name() string { return "scripted" }
func (p *scriptedProvider) Models() []llmgateway.ModelInfo {
	return []llmgateway.ModelInfo{{ID: "scripted-model"}}
}
func (p *scriptedProvider) SupportsTools() bool { return true }

func (p *scriptedProvider) Complete(ctx context.Context, req *llmgateway.Request) (*llmgateway.Response, error) {
	if p.call >= len(p.completes) {
		return &llmgateway.Response{Content: "", FinishReason: llmgateway.FinishStop}, nil
	}
	resp := p.completes[p.call]
	p.call++
	return resp, nil
}

func (p *scriptedProvider) Stream(ctx context.Context, req *llmgateway.Request) (<-chan *llmgateway.Chunk, error) {
	resp, err := p.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan *llmgateway.Chunk, 4)
	go func() {
		defer close(ch)
		if resp.Content != "" {
			ch <- &llmgateway.Chunk{Kind: llmgateway.ChunkContent, Delta: resp.Content}
		}
		for _, tc := range resp.ToolCalls {
			tcCopy := tc
			ch <- &llmgateway.Chunk{Kind: llmgateway.ChunkToolCall, ToolCall: &tcCopy}
		}
		ch <- &llmgateway.Chunk{Kind: llmgateway.ChunkDone, FinishReason: resp.FinishReason, InputTokens: resp.InputTokens, OutputTokens: resp.OutputTokens}
	}()
	return ch, nil
}

type echoTool struct{}

func (echoTool) Name() string                  { return "search_knowledge" }
func (echoTool) Description() string           { return "search" }
func (echoTool) Schema() json.RawMessage       { return json.RawMessage(`{"type":"object"}`) }
func (echoTool) Execute(ctx context.Context, arguments json.RawMessage) (*domain.ToolResult, error) {
	return &domain.ToolResult{Content: "Based on search…"}, nil
}

func newTestEngine(t *testing.T, completes []*llmgateway.Response) (*Engine, sessions.Store, string) {
	t.Helper()
	provider := &scriptedProvider{completes: completes}
	gw := llmgateway.New(llmgateway.Config{
		DefaultChain: []llmgateway.Candidate{{Provider: "scripted", Model: "scripted-model"}},
		Providers:    []llmgateway.Provider{provider},
	})

	registry := tools.NewRegistry()
	if err := registry.Register(echoTool{}); err != nil {
		t.Fatalf("register tool: %v", err)
	}

	store := sessions.NewMemoryStore()
	limiter := protection.NewRateLimiter(protection.DefaultLimit, protection.DefaultWindow)
	locks := sessions.NewLockManager(0)
	guard := protection.NewGuard(limiter, locks)

	engine := New(gw, registry, store, guard, nil)

	ctx := context.Background()
	session, err := engine.CreateSession(ctx, "sess-1", CreateSessionParams{
		AgentID:         "agent-1",
		ModelAlias:      "scripted-model",
		ContextWindow:   8192,
		MaxOutputTokens: 512,
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return engine, store, session.ID
}

func TestSendMessageSimpleTurn(t *testing.T) {
	engine, _, sessionID := newTestEngine(t, []*llmgateway.Response{
		{Content: "hello there", FinishReason: llmgateway.FinishStop, InputTokens: 10, OutputTokens: 5},
	})

	resp, err := engine.SendMessage(context.Background(), sessionID, "hi", false, false)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if resp.Content != "hello there" {
		t.Fatalf("unexpected content: %q", resp.Content)
	}
	if resp.FinishReason != FinishStop {
		t.Fatalf("expected finish stop, got %s", resp.FinishReason)
	}
	if resp.InputTokens != 10 || resp.OutputTokens != 5 {
		t.Fatalf("unexpected usage: %+v", resp)
	}
}

func TestSendMessageToolLoop(t *testing.T) {
	engine, store, sessionID := newTestEngine(t, []*llmgateway.Response{
		{
			ToolCalls:    []llmgateway.ToolCallRef{{ID: "call-1", Name: "search_knowledge", Input: `{"query":"x"}`}},
			FinishReason: llmgateway.FinishToolCalls,
		},
		{Content: "Based on search…", FinishReason: llmgateway.FinishStop},
	})

	resp, err := engine.SendMessage(context.Background(), sessionID, "what is x?", false, true)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if resp.Content != "Based on search…" {
		t.Fatalf("unexpected content: %q", resp.Content)
	}
	if resp.FinishReason != FinishStop {
		t.Fatalf("expected finish stop, got %s", resp.FinishReason)
	}

	history, err := store.GetHistory(context.Background(), sessionID, 0)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("expected 4 persisted messages (user, assistant+tool_calls, tool, assistant), got %d", len(history))
	}
	wantRoles := []domain.MessageRole{domain.RoleUser, domain.RoleAssistant, domain.RoleTool, domain.RoleAssistant}
	for i, m := range history {
		if m.Role != wantRoles[i] {
			t.Fatalf("message %d: expected role %s, got %s", i, wantRoles[i], m.Role)
		}
	}
	if history[2].ToolResult == nil || history[2].ToolResult.ToolCallID != "call-1" {
		t.Fatalf("expected tool message to echo tool_call_id, got %+v", history[2].ToolResult)
	}
}

func TestSendMessageToolLoopExhausted(t *testing.T) {
	var completes []*llmgateway.Response
	for i := 0; i < MaxToolIterations+2; i++ {
		completes = append(completes, &llmgateway.Response{
			ToolCalls:    []llmgateway.ToolCallRef{{ID: "call-n", Name: "search_knowledge", Input: `{}`}},
			FinishReason: llmgateway.FinishToolCalls,
		})
	}
	engine, _, sessionID := newTestEngine(t, completes)

	resp, err := engine.SendMessage(context.Background(), sessionID, "loop forever", false, true)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if resp.FinishReason != FinishToolLoopExhausted {
		t.Fatalf("expected tool_loop_exhausted, got %s", resp.FinishReason)
	}
}

func TestSendMessageRejectsEndedSession(t *testing.T) {
	engine, _, sessionID := newTestEngine(t, nil)
	if err := engine.EndSession(context.Background(), sessionID); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if _, err := engine.SendMessage(context.Background(), sessionID, "hi", false, false); err == nil {
		t.Fatal("expected error sending to ended session")
	}
}

func TestSendMessageFirstTurnSetsTitle(t *testing.T) {
	engine, store, sessionID := newTestEngine(t, []*llmgateway.Response{
		{Content: "ok", FinishReason: llmgateway.FinishStop},
	})
	if _, err := engine.SendMessage(context.Background(), sessionID, "what is the capital of France?", false, false); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	session, err := store.GetSession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if session.Title != "what is the capital of France?" {
		t.Fatalf("expected derived title, got %q", session.Title)
	}
}

func TestStreamMessageEmitsTypedChunks(t *testing.T) {
	engine, _, sessionID := newTestEngine(t, []*llmgateway.Response{
		{Content: "streamed answer", FinishReason: llmgateway.FinishStop, InputTokens: 3, OutputTokens: 4},
	})

	ch, err := engine.StreamMessage(context.Background(), sessionID, "hi", false, false)
	if err != nil {
		t.Fatalf("StreamMessage: %v", err)
	}

	var kinds []ChunkKind
	var finalResp *Response
	deadline := time.After(2 * time.Second)
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				goto done
			}
			kinds = append(kinds, chunk.Kind)
			if chunk.Kind == ChunkStreamEnd {
				finalResp = chunk.Response
			}
			if chunk.Kind == ChunkError {
				t.Fatalf("unexpected error chunk: %v", chunk.Err)
			}
		case <-deadline:
			t.Fatal("timed out waiting for stream")
		}
	}
done:
	if len(kinds) == 0 || kinds[0] != ChunkStreamStart {
		t.Fatalf("expected first chunk to be stream_start, got %v", kinds)
	}
	if kinds[len(kinds)-1] != ChunkStreamEnd {
		t.Fatalf("expected last chunk to be stream_end, got %v", kinds)
	}
	if finalResp == nil || finalResp.Content != "streamed answer" {
		t.Fatalf("expected final response content, got %+v", finalResp)
	}
}
