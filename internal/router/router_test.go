package router

import (
	"testing"
	"time"

	"github.com/conclave-run/conclave/internal/agentpool"
	"github.com/conclave-run/conclave/internal/domain"
)

func newPoolWithAgents(agents ...*domain.Agent) *agentpool.Store {
	store := agentpool.NewStore()
	for _, a := range agents {
		store.Put(a)
	}
	return store
}

func TestSelectEmptyCandidatesIsError(t *testing.T) {
	r := New(newPoolWithAgents())
	if _, err := r.Select("hi", nil); err != ErrEmptyCandidates {
		t.Fatalf("expected ErrEmptyCandidates, got %v", err)
	}
}

func TestSelectSingleCandidateShortCircuits(t *testing.T) {
	r := New(newPoolWithAgents(&domain.Agent{ID: "a1", Status: domain.AgentIdle}))
	id, err := r.Select("anything", []string{"a1"})
	if err != nil || id != "a1" {
		t.Fatalf("expected a1, got %q err=%v", id, err)
	}
}

func TestSelectPicksHigherPheromoneOnTie(t *testing.T) {
	focus := domain.FocusDevOps
	pool := newPoolWithAgents(
		&domain.Agent{ID: "a-low", Status: domain.AgentIdle, Pheromone: 0.4, Focus: &focus},
		&domain.Agent{ID: "a-high", Status: domain.AgentIdle, Pheromone: 0.9, Focus: &focus},
	)
	r := New(pool)
	id, err := r.Select("deploy the pipeline", []string{"a-low", "a-high"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if id != "a-high" {
		t.Fatalf("expected a-high to win on pheromone, got %q", id)
	}
}

func TestSelectDisabledAgentLosesToIdle(t *testing.T) {
	pool := newPoolWithAgents(
		&domain.Agent{ID: "disabled", Status: domain.AgentDisabled, Pheromone: 1.0},
		&domain.Agent{ID: "idle", Status: domain.AgentIdle, Pheromone: 0.5},
	)
	r := New(pool)
	id, err := r.Select("hello there", []string{"disabled", "idle"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if id != "idle" {
		t.Fatalf("expected idle to win over disabled despite lower pheromone, got %q", id)
	}
}

func TestRecordInteractionRecomputesPheromone(t *testing.T) {
	pool := newPoolWithAgents(&domain.Agent{ID: "a1", Status: domain.AgentIdle, Pheromone: domain.DefaultPheromone})
	r := New(pool)
	r.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	r.RecordInteraction("a1", true, 1000, 0.1)

	agent, _ := pool.Get("a1")
	if agent.Pheromone <= domain.DefaultPheromone {
		t.Fatalf("expected pheromone to rise after a successful fast/cheap interaction, got %f", agent.Pheromone)
	}
	if agent.Pheromone > 1.0 || agent.Pheromone < 0.0 {
		t.Fatalf("pheromone out of [0,1]: %f", agent.Pheromone)
	}
}

func TestRecordInteractionFailureLowersPheromone(t *testing.T) {
	pool := newPoolWithAgents(&domain.Agent{ID: "a1", Status: domain.AgentIdle, Pheromone: domain.DefaultPheromone})
	r := New(pool)
	r.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	r.RecordInteraction("a1", false, 30000, 1.0)

	agent, _ := pool.Get("a1")
	if agent.Pheromone >= domain.DefaultPheromone {
		t.Fatalf("expected pheromone to drop after a failed slow/expensive interaction, got %f", agent.Pheromone)
	}
}

func TestSpecialtyFactorScalesWithKeywordMatches(t *testing.T) {
	focus := domain.FocusResearch
	r := New(newPoolWithAgents())
	agent := &domain.Agent{ID: "a1", Focus: &focus, Status: domain.AgentIdle}

	none := r.specialtyFactor(agent, "hello there")
	one := r.specialtyFactor(agent, "please research this")
	many := r.specialtyFactor(agent, "research this paper and cite the study, investigate further")

	if !(none < one && one < many) {
		t.Fatalf("expected increasing specialty score with more matches: none=%f one=%f many=%f", none, one, many)
	}
}
