// Package chatengine implements the Chat Engine (§4.4): the
// create_session/resume_session/end_session/send_message surface that
// orchestrates one conversational turn against the LLM Gateway and Tool
// Registry, persisting through Sessions and Session Protection.
package chatengine

import (
	"github.com/conclave-run/conclave/internal/domain"
	"github.com/conclave-run/conclave/internal/llmgateway"
)

// MaxToolIterations bounds the tool-call loop per turn (§4.4:
// "MAX_TOOL_ITERATIONS = 10").
const MaxToolIterations = 10

// FinishReason mirrors llmgateway.FinishReason plus the loop-exhaustion
// state the Chat Engine itself produces.
type FinishReason = llmgateway.FinishReason

const (
	FinishStop             = llmgateway.FinishStop
	FinishToolCalls        = llmgateway.FinishToolCalls
	FinishLength           = llmgateway.FinishLength
	FinishCancelled        = llmgateway.FinishCancelled
	FinishToolLoopExhausted = llmgateway.FinishToolLoopExhausted
)

// Response is the result of one send_message turn.
type Response struct {
	Content      string
	Thinking     string
	ToolCalls    []domain.ToolCall
	InputTokens  int64
	OutputTokens int64
	CostMicros   int64
	LatencyMS    int64
	FinishReason FinishReason
}

// ChunkKind tags one element of a streamed send_message turn, per §4.4's
// "typed tags": stream_start, content, thinking, tool_call (begin),
// tool_result (end), stream_end, error.
type ChunkKind string

const (
	ChunkStreamStart ChunkKind = "stream_start"
	ChunkContent     ChunkKind = "content"
	ChunkThinking    ChunkKind = "thinking"
	ChunkToolCall    ChunkKind = "tool_call"
	ChunkToolResult  ChunkKind = "tool_result"
	ChunkStreamEnd   ChunkKind = "stream_end"
	ChunkError       ChunkKind = "error"
)

// Chunk is one element forwarded to the transport during a streaming
// send_message call.
type Chunk struct {
	Kind       ChunkKind
	Delta      string
	ToolCall   *domain.ToolCall
	ToolResult *domain.ToolResult
	Response   *Response // set only on ChunkStreamEnd
	Err        error     // set only on ChunkError
}

// CreateSessionParams configures a new session.
type CreateSessionParams struct {
	AgentID         string
	Type            domain.SessionType
	SystemPrompt    string
	ModelAlias      string
	Temperature     float64
	MaxOutputTokens int
	ContextWindow   int
	Metadata        map[string]any
}
