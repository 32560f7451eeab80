// Package router implements the Router (§4.7): pheromone-weighted,
// multi-factor agent selection and the pheromone update that follows each
// interaction.
package router

import (
	"errors"
	"math"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/conclave-run/conclave/internal/agentpool"
	"github.com/conclave-run/conclave/internal/domain"
)

// Weights for the §4.7 weighted sum. Exported so callers/tests can assert
// against the exact constants the spec names.
const (
	WeightPheromone = 0.35
	WeightSpecialty = 0.30
	WeightLoad      = 0.20
	WeightRecency   = 0.15

	recencyWindow = 10
	ageHalfLife   = 0.95 // decay base for d_i = 0.95^age_days_i
)

// focusPatterns maps each focus to the keyword regex used for the specialty
// factor. Grounded on nexus's internal/agent/routing.HeuristicClassifier
// (word-boundary, case-insensitive regex tagging of free-text content).
var focusPatterns = map[domain.AgentFocus]*regexp.Regexp{
	domain.FocusSocial:   regexp.MustCompile(`(?i)\b(chat|friend|hello|hi|talk|feel|feeling|emotion)\b`),
	domain.FocusAnalysis: regexp.MustCompile(`(?i)\b(analy[sz]e|compare|evaluate|metric|report|data|statistic)\b`),
	domain.FocusDevOps:   regexp.MustCompile(`(?i)\b(deploy|server|infra|kubernetes|docker|pipeline|ci\/cd|outage)\b`),
	domain.FocusCreative: regexp.MustCompile(`(?i)\b(write|story|poem|creative|design|brainstorm|draft)\b`),
	domain.FocusResearch: regexp.MustCompile(`(?i)\b(research|paper|study|source|cite|literature|investigate)\b`),
}

// ErrEmptyCandidates is returned when Select is called with no candidate
// agent ids.
var ErrEmptyCandidates = errors.New("router: candidate list is empty")

// Router selects an agent for a free-text message using the §4.7 weighted
// sum over pheromone, specialty match, load, and recency, and maintains the
// in-memory performance-record buffer the pheromone update reads from.
//
// Grounded on nexus's internal/multiagent.Router for the overall "take a
// message, pick an agent id" shape, rewritten from rule/trigger matching to
// the spec's numeric multi-factor scoring — none of the teacher's handoff-
// rule machinery applies here.
type Router struct {
	pool *agentpool.Store

	mu      sync.Mutex
	records map[string][]domain.PerformanceRecord

	now func() time.Time
}

// New builds a Router backed by pool for agent lookups.
func New(pool *agentpool.Store) *Router {
	return &Router{
		pool:    pool,
		records: map[string][]domain.PerformanceRecord{},
		now:     time.Now,
	}
}

// scored pairs an agent id with its computed selection score, for
// deterministic tie-breaking.
type scored struct {
	id        string
	score     float64
	pheromone float64
}

// Select picks the best agent for message among candidateIDs per §4.7:
// weighted sum of pheromone/specialty/load/recency, ties broken by higher
// pheromone then lexicographic agent id. An empty candidate list is an
// error; a single candidate short-circuits without scoring.
func (r *Router) Select(message string, candidateIDs []string) (string, error) {
	if len(candidateIDs) == 0 {
		return "", ErrEmptyCandidates
	}
	if len(candidateIDs) == 1 {
		return candidateIDs[0], nil
	}

	results := make([]scored, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		agent, ok := r.pool.Get(id)
		if !ok {
			continue
		}
		pheromone := agent.Pheromone
		specialty := r.specialtyFactor(agent, message)
		load := loadFactor(agent)
		recency := r.recencyFactor(id)

		score := WeightPheromone*pheromone + WeightSpecialty*specialty + WeightLoad*load + WeightRecency*recency
		results = append(results, scored{id: id, score: score, pheromone: pheromone})
	}
	if len(results) == 0 {
		return "", ErrEmptyCandidates
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		if results[i].pheromone != results[j].pheromone {
			return results[i].pheromone > results[j].pheromone
		}
		return results[i].id < results[j].id
	})
	return results[0].id, nil
}

// specialtyFactor scores 0.1/0.6/0.8/1.0 for 0/1/2/>=3 focus-keyword
// matches; a nil focus yields 0.3 regardless of message content.
func (r *Router) specialtyFactor(agent *domain.Agent, message string) float64 {
	if agent.Focus == nil {
		return 0.3
	}
	pattern, ok := focusPatterns[*agent.Focus]
	if !ok {
		return 0.3
	}
	matches := pattern.FindAllString(message, -1)
	switch {
	case len(matches) == 0:
		return 0.1
	case len(matches) == 1:
		return 0.6
	case len(matches) == 2:
		return 0.8
	default:
		return 1.0
	}
}

// loadFactor applies §4.7's load table keyed on agent status.
func loadFactor(agent *domain.Agent) float64 {
	switch agent.Status {
	case domain.AgentDisabled:
		return 0.0
	case domain.AgentError:
		return 0.1
	case domain.AgentBusy:
		return 0.3
	default: // idle
		v := 1.0 - 0.1*float64(agent.ConsecutiveFailures)
		return math.Max(v, 0.2)
	}
}

// recencyFactor is the success ratio of the agent's last 10 in-memory
// performance records, or 0.5 if the agent has none yet.
func (r *Router) recencyFactor(agentID string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	recs := r.records[agentID]
	if len(recs) == 0 {
		return 0.5
	}
	start := 0
	if len(recs) > recencyWindow {
		start = len(recs) - recencyWindow
	}
	window := recs[start:]
	successes := 0
	for _, rec := range window {
		if rec.Success {
			successes++
		}
	}
	return float64(successes) / float64(len(window))
}

// RecordInteraction appends a performance record for agentID and recomputes
// its pheromone score over the full in-memory buffer, persisting the result
// to the Agent Pool's store, per §4.7's score-update rule.
//
// speedScore = max(0, 1 - durationMS/30000); costScore = max(0, 1 -
// min(tokenCost, 1)); the recomputed pheromone is the duration-decayed
// weighted average `Σ(0.6·success + 0.3·speed + 0.1·cost)·d_i / Σ d_i`
// with `d_i = 0.95^age_days_i`.
func (r *Router) RecordInteraction(agentID string, success bool, durationMS int64, tokenCost float64) {
	speed := math.Max(0, 1-float64(durationMS)/30000)
	cost := math.Max(0, 1-math.Min(tokenCost, 1))
	now := r.now()

	r.mu.Lock()
	recs := append(r.records[agentID], domain.PerformanceRecord{
		Success:    success,
		SpeedScore: speed,
		CostScore:  cost,
		DurationMS: durationMS,
		CreatedAt:  now,
	})
	if len(recs) > domain.MaxRecordsPerAgent {
		recs = recs[len(recs)-domain.MaxRecordsPerAgent:]
	}
	r.records[agentID] = recs
	score := recomputePheromone(recs, now)
	r.mu.Unlock()

	r.pool.Mutate(agentID, func(a *domain.Agent) {
		a.Pheromone = score
	})
}

// Stats is a §6 `/agents/metrics` roll-up for one agent, computed from its
// in-memory performance-record buffer.
type Stats struct {
	MessagesProcessed int
	Errors            int
	ErrorRate         float64
	AvgLatencyMS      int64
}

// Stats aggregates agentID's recorded interactions for the metrics
// endpoint. Returns the zero value if the agent has no recorded
// interactions yet.
func (r *Router) Stats(agentID string) Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	recs := r.records[agentID]
	if len(recs) == 0 {
		return Stats{}
	}
	var errs int
	var totalLatency int64
	for _, rec := range recs {
		if !rec.Success {
			errs++
		}
		totalLatency += rec.DurationMS
	}
	return Stats{
		MessagesProcessed: len(recs),
		Errors:            errs,
		ErrorRate:         float64(errs) / float64(len(recs)),
		AvgLatencyMS:      totalLatency / int64(len(recs)),
	}
}

func recomputePheromone(recs []domain.PerformanceRecord, now time.Time) float64 {
	var numerator, denominator float64
	for _, rec := range recs {
		ageDays := now.Sub(rec.CreatedAt).Hours() / 24
		decay := math.Pow(ageHalfLife, ageDays)
		successVal := 0.0
		if rec.Success {
			successVal = 1.0
		}
		weighted := 0.6*successVal + 0.3*rec.SpeedScore + 0.1*rec.CostScore
		numerator += weighted * decay
		denominator += decay
	}
	if denominator == 0 {
		return domain.DefaultPheromone
	}
	return domain.ClampPheromone(numerator / denominator)
}

