package transport

import (
	"net/http"
	"time"
)

type agentMetrics struct {
	AgentID             string  `json:"agent_id"`
	Pheromone           float64 `json:"pheromone"`
	Status              string  `json:"status"`
	MessagesProcessed   int     `json:"messages_processed"`
	AvgLatencyMS        int64   `json:"avg_latency_ms"`
	Errors              int     `json:"errors"`
	ErrorRate           float64 `json:"error_rate"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	UptimeSeconds       float64 `json:"uptime_seconds"`
	LastActiveAt        *string `json:"last_active_at,omitempty"`
}

// handleAgentMetrics implements GET /agents/metrics: a per-agent roll-up
// of Agent Pool state plus Router-recorded interaction stats.
func (s *Server) handleAgentMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.agents == nil {
		writeJSON(w, http.StatusOK, map[string]any{"agents": []agentMetrics{}})
		return
	}

	agents := s.agents.List(r.Context())
	out := make([]agentMetrics, 0, len(agents))
	now := time.Now()
	for _, a := range agents {
		m := agentMetrics{
			AgentID:             a.ID,
			Pheromone:           a.Pheromone,
			Status:              string(a.Status),
			ConsecutiveFailures: a.ConsecutiveFailures,
			UptimeSeconds:       now.Sub(a.CreatedAt).Seconds(),
		}
		if !a.LastActiveAt.IsZero() {
			last := a.LastActiveAt.Format(time.RFC3339)
			m.LastActiveAt = &last
		}
		if s.router != nil {
			stats := s.router.Stats(a.ID)
			m.MessagesProcessed = stats.MessagesProcessed
			m.AvgLatencyMS = stats.AvgLatencyMS
			m.Errors = stats.Errors
			m.ErrorRate = stats.ErrorRate
		}
		out = append(out, m)
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": out})
}
