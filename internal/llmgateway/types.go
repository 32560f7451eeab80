// Package gateway implements the LLM Gateway (§4.1): model alias
// resolution, circuit breaking, fallback chains, and streaming completion
// against one or more upstream providers.
package llmgateway

import "context"

// Provider is the upstream abstraction every model backend implements.
// Grounded on nexus's internal/agent.LLMProvider shape, generalized to
// return the richer Response/Chunk types this gateway exposes to callers.
type Provider interface {
	Name() string
	Models() []ModelInfo
	SupportsTools() bool
	Complete(ctx context.Context, req *Request) (*Response, error)
	Stream(ctx context.Context, req *Request) (<-chan *Chunk, error)
}

// ModelInfo is what a provider reports about one of its served models.
type ModelInfo struct {
	ID            string
	ContextSize   int
	SupportsVision bool
}

// Message is one entry in the conversation sent to a provider.
type Message struct {
	Role        string
	Content     string
	ToolCalls   []ToolCallRef
	ToolResult  *ToolResultRef
}

// ToolCallRef mirrors domain.ToolCall without importing domain, keeping the
// gateway decoupled from storage concerns.
type ToolCallRef struct {
	ID    string
	Name  string
	Input string
}

// ToolResultRef mirrors domain.ToolResult for the same reason.
type ToolResultRef struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// ToolDescriptor is the shape a provider needs to advertise a callable tool
// to the model.
type ToolDescriptor struct {
	Name        string
	Description string
	Schema      []byte // raw JSON schema
}

// Request is one completion or streaming call.
type Request struct {
	Model              string // alias, resolved by the gateway before dispatch
	System             string
	Messages           []Message
	Tools              []ToolDescriptor
	MaxTokens          int
	Temperature        float64
	EnableThinking     bool
	ThinkingBudgetTokens int
}

// FinishReason is the terminal state of a completion.
type FinishReason string

const (
	FinishStop           FinishReason = "stop"
	FinishToolCalls      FinishReason = "tool_calls"
	FinishLength         FinishReason = "length"
	FinishCancelled      FinishReason = "cancelled"
	FinishToolLoopExhausted FinishReason = "tool_loop_exhausted"
)

// Response is the complete, non-streaming result of a completion call.
type Response struct {
	Content      string
	Thinking     string
	ToolCalls    []ToolCallRef
	Model        string // echo of the resolved upstream model id
	InputTokens  int64
	OutputTokens int64
	CostMicros   int64
	LatencyMS    int64
	FinishReason FinishReason
}

// ChunkKind tags a streamed delta.
type ChunkKind string

const (
	ChunkContent  ChunkKind = "content"
	ChunkThinking ChunkKind = "thinking"
	ChunkToolCall ChunkKind = "tool_call"
	ChunkDone     ChunkKind = "done"
)

// Chunk is one element of a streaming response. FinishReason is only set on
// the terminal ChunkDone element.
type Chunk struct {
	Kind         ChunkKind
	Delta        string
	ToolCall     *ToolCallRef
	FinishReason FinishReason
	InputTokens  int64
	OutputTokens int64
	Err          error
}
