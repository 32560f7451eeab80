package agentpool

import (
	"context"
	"testing"

	"github.com/conclave-run/conclave/internal/chatengine"
	"github.com/conclave-run/conclave/internal/domain"
	"github.com/conclave-run/conclave/internal/llmgateway"
	"github.com/conclave-run/conclave/internal/protection"
	"github.com/conclave-run/conclave/internal/sessions"
	"github.com/conclave-run/conclave/internal/tools"
)

type canned struct{ content string }

func (c *canned) Name() string                   { return "canned" }
func (c *canned) Models() []llmgateway.ModelInfo { return []llmgateway.ModelInfo{{ID: "canned-model"}} }
func (c *canned) SupportsTools() bool            { return false }
func (c *canned) Complete(ctx context.Context, req *llmgateway.Request) (*llmgateway.Response, error) {
	return &llmgateway.Response{Content: c.content, FinishReason: llmgateway.FinishStop}, nil
}
func (c *canned) Stream(ctx context.Context, req *llmgateway.Request) (<-chan *llmgateway.Chunk, error) {
	ch := make(chan *llmgateway.Chunk, 2)
	ch <- &llmgateway.Chunk{Kind: llmgateway.ChunkContent, Delta: c.content}
	ch <- &llmgateway.Chunk{Kind: llmgateway.ChunkDone, FinishReason: llmgateway.FinishStop}
	close(ch)
	return ch, nil
}

func newTestPool(t *testing.T, reply string) *Pool {
	t.Helper()
	gw := llmgateway.New(llmgateway.Config{
		DefaultChain: []llmgateway.Candidate{{Provider: "canned", Model: "canned-model"}},
		Providers:    []llmgateway.Provider{&canned{content: reply}},
	})
	registry := tools.NewRegistry()
	store := sessions.NewMemoryStore()
	limiter := protection.NewRateLimiter(protection.DefaultLimit, protection.DefaultWindow)
	locks := sessions.NewLockManager(0)
	guard := protection.NewGuard(limiter, locks)
	engine := chatengine.New(gw, registry, store, guard, nil)

	agentStore := NewStore()
	agentStore.Put(&domain.Agent{
		ID:         "agent-1",
		ModelAlias: "canned-model",
		Status:     domain.AgentIdle,
		Pheromone:  domain.DefaultPheromone,
	})
	return New(agentStore, engine)
}

func TestProcessWithAgentCreatesSessionAndReplies(t *testing.T) {
	pool := newTestPool(t, "hello from agent")
	reply, err := pool.ProcessWithAgent(context.Background(), "agent-1", "", "hi")
	if err != nil {
		t.Fatalf("ProcessWithAgent: %v", err)
	}
	if reply != "hello from agent" {
		t.Fatalf("unexpected reply: %q", reply)
	}
	status, ok := pool.Status("agent-1")
	if !ok || status != domain.AgentIdle {
		t.Fatalf("expected idle status after success, got %v", status)
	}
}

func TestProcessWithAgentRejectsDisabled(t *testing.T) {
	pool := newTestPool(t, "unused")
	pool.store.Put(&domain.Agent{ID: "agent-2", Status: domain.AgentDisabled})
	if _, err := pool.ProcessWithAgent(context.Background(), "agent-2", "", "hi"); err == nil {
		t.Fatal("expected error for disabled agent")
	}
}

func TestProcessWithAgentReusesSession(t *testing.T) {
	pool := newTestPool(t, "ok")
	reply1, err := pool.ProcessWithAgent(context.Background(), "agent-1", "sess-fixed", "first")
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	reply2, err := pool.ProcessWithAgent(context.Background(), "agent-1", "sess-fixed", "second")
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if reply1 != "ok" || reply2 != "ok" {
		t.Fatalf("unexpected replies: %q %q", reply1, reply2)
	}
}
