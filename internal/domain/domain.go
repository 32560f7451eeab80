// Package domain holds the core entities of the Conclave engine: sessions,
// messages, agent state, cron jobs, performance records, and execution
// history. These types are shared across every component in
// internal/{gateway,context,chatengine,scheduler,agentpool,router,
// roundtable,sessions,protection} and have no behavior of their own beyond
// small invariant-preserving helpers.
package domain

import (
	"strings"
	"time"
)

// SessionType distinguishes how a session was created and what drives it.
type SessionType string

const (
	SessionChat       SessionType = "chat"
	SessionRoundtable SessionType = "roundtable"
	SessionCron       SessionType = "cron"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

// Session is a durable, ordered sequence of messages between a user (or the
// scheduler) and an agent under a single agent/model/temperature
// configuration.
type Session struct {
	ID                string         `json:"id"`
	AgentID           string         `json:"agent_id"`
	Type              SessionType    `json:"type"`
	Title             string         `json:"title,omitempty"`
	SystemPrompt      string         `json:"system_prompt,omitempty"`
	ModelAlias        string         `json:"model_alias,omitempty"`
	Temperature       float64        `json:"temperature"`
	MaxOutputTokens   int            `json:"max_output_tokens"`
	ContextWindow     int            `json:"context_window"`
	Status            SessionStatus  `json:"status"`
	MessageCount      int            `json:"message_count"`
	TotalTokens       int64          `json:"total_tokens"`
	TotalCostMicros   int64          `json:"total_cost_micros"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	EndedAt           *time.Time     `json:"ended_at,omitempty"`
}

// IsEnded reports whether new messages may no longer be appended.
func (s *Session) IsEnded() bool {
	return s != nil && s.Status == SessionEnded
}

// MaxTitleChars is the truncation boundary for auto-derived titles (§8
// boundary behaviors: "titles > 200 chars truncated").
const MaxTitleChars = 200

// MaxMessageContentBytes is the truncation boundary for message content
// (§8: "messages > 100 KiB truncated deterministically to 100 KiB").
const MaxMessageContentBytes = 100 * 1024

// MaxMessagesPerSession is the "session full" boundary Session Protection
// enforces before admitting a new send_message turn (§4.4 step 2, §7's
// SessionError{full}).
const MaxMessagesPerSession = 10000

// DeriveTitle computes the auto-title for a session's first turn: the
// compacted first 80 chars of content, with an ellipsis if truncated.
func DeriveTitle(content string) string {
	const limit = 80
	trimmed := strings.TrimSpace(content)
	runes := []rune(trimmed)
	if len(runes) <= limit {
		return trimmed
	}
	return string(runes[:limit]) + "…"
}

// MessageRole identifies the author type of a message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleTool      MessageRole = "tool"
)

// RoundRole builds the role string used for roundtable turns: "round-N".
func RoundRole(round int) MessageRole {
	return MessageRole("round-" + itoa(round))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// ToolCall is a structured request emitted by the model to invoke a named
// function with JSON arguments.
type ToolCall struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Input string `json:"input"` // raw JSON arguments
}

// ToolResult is the outcome of dispatching a ToolCall through the Tool
// Registry.
type ToolResult struct {
	ToolCallID string        `json:"tool_call_id"`
	Name       string        `json:"name"`
	Content    string        `json:"content"`
	IsError    bool          `json:"is_error,omitempty"`
	DurationMS int64         `json:"duration_ms"`
}

// Message is a single append-only entry in a session's history.
type Message struct {
	ID           int64          `json:"id"` // monotonic within the store
	SessionID    string         `json:"session_id"`
	Role         MessageRole    `json:"role"`
	Content      string         `json:"content"`
	Thinking     string         `json:"thinking,omitempty"`
	ToolCalls    []ToolCall     `json:"tool_calls,omitempty"`
	ToolResult   *ToolResult    `json:"tool_result,omitempty"`
	ModelAlias   string         `json:"model_alias,omitempty"`
	TokensIn     int64          `json:"tokens_in,omitempty"`
	TokensOut    int64          `json:"tokens_out,omitempty"`
	CostMicros   int64          `json:"cost_micros,omitempty"`
	LatencyMS    int64          `json:"latency_ms,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// stripControlChars removes the control characters named in §8's boundary
// behaviors from user-supplied content prior to persistence.
func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 0x00 && r <= 0x08:
			continue
		case r == 0x0b || r == 0x0c:
			continue
		case r >= 0x0e && r <= 0x1f:
			continue
		case r == 0x7f:
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SanitizeContent strips disallowed control characters and truncates to
// MaxMessageContentBytes, matching §8's boundary behavior exactly.
func SanitizeContent(s string) string {
	s = stripControlChars(s)
	if len(s) <= MaxMessageContentBytes {
		return s
	}
	b := []byte(s)[:MaxMessageContentBytes]
	// avoid splitting a multi-byte rune at the boundary
	for len(b) > 0 && !isRuneStart(b[len(b)-1]) {
		b = b[:len(b)-1]
	}
	return string(b)
}

func isRuneStart(c byte) bool {
	return c&0xC0 != 0x80
}

// AgentFocus is the specialty classification used by the Router's specialty
// factor.
type AgentFocus string

const (
	FocusSocial   AgentFocus = "social"
	FocusAnalysis AgentFocus = "analysis"
	FocusDevOps   AgentFocus = "devops"
	FocusCreative AgentFocus = "creative"
	FocusResearch AgentFocus = "research"
)

// AgentStatus is the runtime status of a pooled agent.
type AgentStatus string

const (
	AgentIdle     AgentStatus = "idle"
	AgentBusy     AgentStatus = "busy"
	AgentError    AgentStatus = "error"
	AgentDisabled AgentStatus = "disabled"
)

// DefaultPheromone is the score assigned to an agent with no performance
// history.
const DefaultPheromone = 0.5

// Agent is the persistent configuration and runtime state of a pooled
// agent.
type Agent struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	Focus              *AgentFocus    `json:"focus,omitempty"`
	ModelAlias         string         `json:"model_alias"`
	Temperature        float64        `json:"temperature"`
	SystemPrompt       string         `json:"system_prompt,omitempty"`
	Status             AgentStatus    `json:"status"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Pheromone          float64        `json:"pheromone"`
	LastActiveAt       time.Time      `json:"last_active_at"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

// ClampPheromone enforces the [0,1] invariant from §3/§8 invariant 4.
func ClampPheromone(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// PayloadKind tags a cron job's dynamic-dispatch payload (§9 design note:
// "tagged variant {Prompt(text) | Skill(name) | Pipeline(name)}").
type PayloadKind string

const (
	PayloadPrompt   PayloadKind = "prompt"
	PayloadSkill    PayloadKind = "skill"
	PayloadPipeline PayloadKind = "pipeline"
)

// SessionMode controls how a cron job's session is reused across runs.
type SessionMode string

const (
	SessionIsolated  SessionMode = "isolated"
	SessionShared    SessionMode = "shared"
	SessionPersistent SessionMode = "persistent"
)

// ExecutionStatus is the outcome of one cron job execution.
type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionError   ExecutionStatus = "error"
	ExecutionTimeout ExecutionStatus = "timeout"
)

// CronJob is a scheduled unit of work.
type CronJob struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Schedule          string         `json:"schedule"`
	TargetAgentID     string         `json:"target_agent_id"`
	Enabled           bool           `json:"enabled"`
	PayloadKind       PayloadKind    `json:"payload_kind"`
	Payload           string         `json:"payload"`
	SessionMode       SessionMode    `json:"session_mode"`
	MaxDurationSeconds int           `json:"max_duration_seconds"`
	RetryCount        int            `json:"retry_count"`
	RunCount          int64          `json:"run_count"`
	SuccessCount      int64          `json:"success_count"`
	FailCount         int64          `json:"fail_count"`
	LastRunStatus     ExecutionStatus `json:"last_run_status,omitempty"`
	LastRunDurationMS int64          `json:"last_run_duration_ms,omitempty"`
	LastRunError      string         `json:"last_run_error,omitempty"`
	LastRunAt         *time.Time     `json:"last_run_at,omitempty"`
	NextRunAt         *time.Time     `json:"next_run_at,omitempty"`
	SessionID         string         `json:"session_id,omitempty"` // pinned for shared/persistent modes
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// PerformanceRecord is one router-observed outcome for an agent interaction.
type PerformanceRecord struct {
	Success    bool
	SpeedScore float64
	CostScore  float64
	DurationMS int64
	CreatedAt  time.Time
}

// MaxRecordsPerAgent bounds the in-memory performance buffer per agent.
const MaxRecordsPerAgent = 200

// ExecutionHistoryEntry is one persisted record of a cron job firing.
type ExecutionHistoryEntry struct {
	ID         int64           `json:"id"`
	JobID      string          `json:"job_id"`
	Status     ExecutionStatus `json:"status"`
	DurationMS int64           `json:"duration_ms"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
