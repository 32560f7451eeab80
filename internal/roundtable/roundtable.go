// Package roundtable implements the Roundtable (§4.8): parallel multi-round
// agent discussion with per-agent and total timeouts, followed by a
// synthesis step.
package roundtable

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/conclave-run/conclave/internal/agentpool"
	"github.com/conclave-run/conclave/internal/domain"
	"github.com/conclave-run/conclave/internal/router"
	"github.com/conclave-run/conclave/internal/sessions"
)

// maxTurnContextChars caps how much of a prior turn's content contributes to
// the context string built for the next round.
const maxTurnContextChars = 300

// phases names the three discussion phases a discuss() run cycles through,
// repeating once rounds exceeds len(phases).
var phases = [...]string{"EXPLORE", "WORK", "VALIDATE"}

// Turn is one agent's contribution in one round.
type Turn struct {
	Round    int
	Phase    string
	AgentID  string
	Content  string
	Err      error
	Duration time.Duration
}

// Result is the outcome of one discuss() run.
type Result struct {
	SessionID string
	Turns     []Turn
	Synthesis string
	Synthesized bool // false if the fallback synthesis was used
}

// Roundtable runs discuss() over a pool of agents, persisting every turn to
// a dedicated session and updating Router pheromone for every participant.
//
// Grounded on nexus's internal/multiagent.Swarm: per-stage bounded-parallel
// fan-out with a WaitGroup, a cancelable context shared by all goroutines,
// and a final sort for deterministic result ordering — generalized here
// from Swarm's dependency-graph stages to discuss()'s fixed EXPLORE/WORK/
// VALIDATE round sequence with per-agent and aggregate round timeouts
// instead of a single execution-wide deadline.
type Roundtable struct {
	pool   *agentpool.Pool
	router *router.Router
	store  sessions.Store
	now    func() time.Time
}

// New builds a Roundtable dispatching through pool, updating router
// pheromone, and persisting turns to store.
func New(pool *agentpool.Pool, rt *router.Router, store sessions.Store) *Roundtable {
	return &Roundtable{pool: pool, router: rt, store: store, now: time.Now}
}

// Discuss runs `rounds` rounds of parallel discussion among agentIDs on
// topic, then invokes synthesizerID for a synthesis pass. Requires at least
// two participants.
func (rt *Roundtable) Discuss(ctx context.Context, topic string, agentIDs []string, rounds int, synthesizerID string, agentTimeout, totalTimeout time.Duration) (*Result, error) {
	if len(agentIDs) < 2 {
		return nil, fmt.Errorf("roundtable: discuss requires at least 2 participants, got %d", len(agentIDs))
	}
	if rounds <= 0 {
		rounds = 3
	}
	if agentTimeout <= 0 {
		agentTimeout = 30 * time.Second
	}
	maxRoundTimeout := agentTimeout * time.Duration(len(agentIDs))
	if totalTimeout <= 0 || totalTimeout > maxRoundTimeout {
		totalTimeout = maxRoundTimeout
	}

	sessionID := fmt.Sprintf("roundtable-%d", rt.now().UnixNano())
	if err := rt.store.CreateSession(ctx, &domain.Session{
		ID:        sessionID,
		Type:      domain.SessionRoundtable,
		Status:    domain.SessionActive,
		CreatedAt: rt.now(),
		UpdatedAt: rt.now(),
	}); err != nil {
		return nil, fmt.Errorf("roundtable: create session: %w", err)
	}

	result := &Result{SessionID: sessionID}
	latencies := map[string][]time.Duration{}
	succeeded := map[string]bool{}

	for round := 1; round <= rounds; round++ {
		phase := phases[(round-1)%len(phases)]
		contextStr := buildContext(result.Turns)

		roundCtx, cancel := context.WithTimeout(ctx, totalTimeout)
		turns := rt.runRound(roundCtx, round, phase, topic, contextStr, agentIDs, agentTimeout)
		cancel()

		for _, t := range turns {
			if err := rt.persistTurn(ctx, sessionID, t); err != nil {
				return nil, fmt.Errorf("roundtable: persist turn: %w", err)
			}
			result.Turns = append(result.Turns, t)
			if t.Err == nil {
				latencies[t.AgentID] = append(latencies[t.AgentID], t.Duration)
				succeeded[t.AgentID] = true
			}
		}
	}

	synthesis, synthesized := rt.synthesize(ctx, synthesizerID, topic, result.Turns, agentTimeout)
	result.Synthesis = synthesis
	result.Synthesized = synthesized

	for _, id := range agentIDs {
		rt.router.RecordInteraction(id, succeeded[id], averageMS(latencies[id]), 0)
	}

	return result, nil
}

// runRound dispatches topic+context to every agent in parallel, each bounded
// by agentTimeout, collecting whichever finish within roundCtx's deadline
// and dropping (logging, in a fuller build) the rest.
func (rt *Roundtable) runRound(roundCtx context.Context, round int, phase, topic, contextStr string, agentIDs []string, agentTimeout time.Duration) []Turn {
	var wg sync.WaitGroup
	turnCh := make(chan Turn, len(agentIDs))

	prompt := fmt.Sprintf("[%s] Topic: %s\n\nPrior discussion:\n%s", phase, topic, contextStr)

	for _, id := range agentIDs {
		agentID := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			agentCtx, cancel := context.WithTimeout(roundCtx, agentTimeout)
			defer cancel()

			start := rt.now()
			reply, err := rt.pool.ProcessWithAgent(agentCtx, agentID, "", prompt)
			duration := rt.now().Sub(start)

			select {
			case turnCh <- Turn{Round: round, Phase: phase, AgentID: agentID, Content: reply, Err: err, Duration: duration}:
			case <-roundCtx.Done():
			}
		}()
	}

	go func() {
		wg.Wait()
		close(turnCh)
	}()

	var turns []Turn
	for t := range turnCh {
		if t.Err != nil {
			continue // dropped: timed out or failed within this round
		}
		turns = append(turns, t)
	}
	sort.Slice(turns, func(i, j int) bool { return turns[i].AgentID < turns[j].AgentID })
	return turns
}

func (rt *Roundtable) persistTurn(ctx context.Context, sessionID string, t Turn) error {
	_, err := rt.store.AppendMessage(ctx, sessionID, &domain.Message{
		SessionID: sessionID,
		Role:      domain.RoundRole(t.Round),
		Content:   t.Content,
		Metadata:  map[string]any{"agent_id": t.AgentID, "phase": t.Phase},
		CreatedAt: rt.now(),
	})
	return err
}

// synthesize asks synthesizerID to summarize the final round's
// contributions; on timeout or failure it falls back to a deterministic
// listing of those contributions, per §4.8.
func (rt *Roundtable) synthesize(ctx context.Context, synthesizerID, topic string, turns []Turn, timeout time.Duration) (string, bool) {
	final := finalRoundTurns(turns)
	prompt := fmt.Sprintf("Synthesize the following round-table discussion on %q into a single recommendation:\n\n%s", topic, buildContext(final))

	synCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reply, err := rt.pool.ProcessWithAgent(synCtx, synthesizerID, "", prompt)
	if err != nil {
		return fallbackSynthesis(final), false
	}
	return reply, true
}

func fallbackSynthesis(final []Turn) string {
	var b strings.Builder
	b.WriteString("Synthesis unavailable; final-round contributions:\n")
	for _, t := range final {
		fmt.Fprintf(&b, "- %s: %s\n", t.AgentID, truncate(t.Content, maxTurnContextChars))
	}
	return b.String()
}

func finalRoundTurns(turns []Turn) []Turn {
	if len(turns) == 0 {
		return nil
	}
	last := turns[len(turns)-1].Round
	var out []Turn
	for _, t := range turns {
		if t.Round == last {
			out = append(out, t)
		}
	}
	return out
}

// buildContext renders prior turns into a context string capped at
// maxTurnContextChars per turn, per §4.8.
func buildContext(turns []Turn) string {
	if len(turns) == 0 {
		return "(no prior turns)"
	}
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "[round %d/%s] %s: %s\n", t.Round, t.Phase, t.AgentID, truncate(t.Content, maxTurnContextChars))
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func averageMS(durations []time.Duration) int64 {
	if len(durations) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range durations {
		total += d
	}
	return (total / time.Duration(len(durations))).Milliseconds()
}
