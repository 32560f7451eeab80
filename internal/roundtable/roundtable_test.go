package roundtable

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/conclave-run/conclave/internal/agentpool"
	"github.com/conclave-run/conclave/internal/chatengine"
	"github.com/conclave-run/conclave/internal/domain"
	"github.com/conclave-run/conclave/internal/llmgateway"
	"github.com/conclave-run/conclave/internal/protection"
	"github.com/conclave-run/conclave/internal/router"
	"github.com/conclave-run/conclave/internal/sessions"
	"github.com/conclave-run/conclave/internal/tools"
)

type staticProvider struct{ prefix string }

func (p *staticProvider) Name() string                   { return "static" }
func (p *staticProvider) Models() []llmgateway.ModelInfo { return []llmgateway.ModelInfo{{ID: "static-model"}} }
func (p *staticProvider) SupportsTools() bool            { return false }
func (p *staticProvider) Complete(ctx context.Context, req *llmgateway.Request) (*llmgateway.Response, error) {
	var last string
	if len(req.Messages) > 0 {
		last = req.Messages[len(req.Messages)-1].Content
	}
	return &llmgateway.Response{Content: p.prefix + ": " + last, FinishReason: llmgateway.FinishStop}, nil
}
func (p *staticProvider) Stream(ctx context.Context, req *llmgateway.Request) (<-chan *llmgateway.Chunk, error) {
	resp, _ := p.Complete(ctx, req)
	ch := make(chan *llmgateway.Chunk, 2)
	ch <- &llmgateway.Chunk{Kind: llmgateway.ChunkContent, Delta: resp.Content}
	ch <- &llmgateway.Chunk{Kind: llmgateway.ChunkDone, FinishReason: llmgateway.FinishStop}
	close(ch)
	return ch, nil
}

func newHarness(t *testing.T) (*Roundtable, *agentpool.Store) {
	t.Helper()
	gw := llmgateway.New(llmgateway.Config{
		DefaultChain: []llmgateway.Candidate{{Provider: "static", Model: "static-model"}},
		Providers:    []llmgateway.Provider{&staticProvider{prefix: "reply"}},
	})
	registry := tools.NewRegistry()
	store := sessions.NewMemoryStore()
	limiter := protection.NewRateLimiter(protection.DefaultLimit, protection.DefaultWindow)
	locks := sessions.NewLockManager(0)
	guard := protection.NewGuard(limiter, locks)
	engine := chatengine.New(gw, registry, store, guard, nil)

	agentStore := agentpool.NewStore()
	for _, id := range []string{"a1", "a2", "synth"} {
		agentStore.Put(&domain.Agent{ID: id, ModelAlias: "static-model", Status: domain.AgentIdle, Pheromone: domain.DefaultPheromone})
	}
	pool := agentpool.New(agentStore, engine)
	r := router.New(agentStore)

	return New(pool, r, store), agentStore
}

func TestDiscussRequiresTwoParticipants(t *testing.T) {
	rt, _ := newHarness(t)
	_, err := rt.Discuss(context.Background(), "topic", []string{"a1"}, 2, "synth", time.Second, 5*time.Second)
	if err == nil {
		t.Fatal("expected error with fewer than 2 participants")
	}
}

func TestDiscussProducesTurnsAndSynthesis(t *testing.T) {
	rt, _ := newHarness(t)
	result, err := rt.Discuss(context.Background(), "plan the release", []string{"a1", "a2"}, 2, "synth", 2*time.Second, 10*time.Second)
	if err != nil {
		t.Fatalf("Discuss: %v", err)
	}
	if len(result.Turns) != 4 { // 2 rounds x 2 agents
		t.Fatalf("expected 4 turns, got %d", len(result.Turns))
	}
	if result.Synthesis == "" {
		t.Fatal("expected non-empty synthesis")
	}
	if !result.Synthesized {
		t.Fatal("expected synthesizer to have succeeded in this harness")
	}
}

func TestDiscussUpdatesParticipantPheromone(t *testing.T) {
	rt, agentStore := newHarness(t)
	before, _ := agentStore.Get("a1")
	_, err := rt.Discuss(context.Background(), "status check", []string{"a1", "a2"}, 1, "synth", time.Second, 5*time.Second)
	if err != nil {
		t.Fatalf("Discuss: %v", err)
	}
	after, _ := agentStore.Get("a1")
	if after.Pheromone == before.Pheromone {
		t.Fatalf("expected pheromone to change after participating, stayed at %f", after.Pheromone)
	}
}

func TestFallbackSynthesisListsContributions(t *testing.T) {
	turns := []Turn{
		{Round: 1, Phase: "EXPLORE", AgentID: "a1", Content: "first idea"},
		{Round: 1, Phase: "EXPLORE", AgentID: "a2", Content: "second idea"},
	}
	out := fallbackSynthesis(turns)
	if !strings.Contains(out, "a1") || !strings.Contains(out, "first idea") {
		t.Fatalf("expected fallback synthesis to list contributions, got %q", out)
	}
}
