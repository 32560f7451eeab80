// Package providers implements llmgateway.Provider against concrete upstream
// LLM services. Grounded on nexus's internal/agent/providers package: the
// same SDKs, the same retry/streaming idioms, generalized to the gateway's
// Request/Response/Chunk shapes instead of nexus's agent.CompletionRequest.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/conclave-run/conclave/internal/llmgateway"
)

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// AnthropicProvider implements llmgateway.Provider for Anthropic's Messages
// API, including thinking blocks and tool-use streaming. Grounded on
// nexus's internal/agent/providers.AnthropicProvider.
type AnthropicProvider struct {
	client       anthropic.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// NewAnthropicProvider validates config and builds a ready-to-use provider.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("providers: anthropic api key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-5-20250929"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) SupportsTools() bool { return true }

func (p *AnthropicProvider) Models() []llmgateway.ModelInfo {
	return []llmgateway.ModelInfo{
		{ID: "claude-opus-4-6-20260115", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-sonnet-4-5-20250929", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-haiku-4-5-20251001", ContextSize: 200000, SupportsVision: true},
	}
}

// Complete drains Stream into a single aggregated Response.
func (p *AnthropicProvider) Complete(ctx context.Context, req *llmgateway.Request) (*llmgateway.Response, error) {
	chunks, err := p.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	resp := &llmgateway.Response{Model: req.Model}
	var toolCalls []llmgateway.ToolCallRef
	for chunk := range chunks {
		if chunk.Err != nil {
			return nil, chunk.Err
		}
		switch chunk.Kind {
		case llmgateway.ChunkContent:
			resp.Content += chunk.Delta
		case llmgateway.ChunkThinking:
			resp.Thinking += chunk.Delta
		case llmgateway.ChunkToolCall:
			toolCalls = append(toolCalls, *chunk.ToolCall)
		case llmgateway.ChunkDone:
			resp.InputTokens = chunk.InputTokens
			resp.OutputTokens = chunk.OutputTokens
			resp.FinishReason = chunk.FinishReason
		}
	}
	resp.ToolCalls = toolCalls
	if resp.FinishReason == "" {
		resp.FinishReason = llmgateway.FinishStop
	}
	if len(toolCalls) > 0 {
		resp.FinishReason = llmgateway.FinishToolCalls
	}
	return resp, nil
}

// Stream opens a Messages streaming call and translates Anthropic SSE
// events into llmgateway.Chunk values. Retries the initial connection with
// exponential backoff; once the stream has started, failures surface as a
// terminal chunk rather than a silent retry (per §4.1: no partial
// responses, streams terminate with an error).
func (p *AnthropicProvider) Stream(ctx context.Context, req *llmgateway.Request) (<-chan *llmgateway.Chunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	params := p.buildParams(model, req)

	var stream *anthropicStream
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * p.retryDelay / time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
		s, err := p.createStream(ctx, params)
		if err == nil {
			stream = s
			break
		}
		lastErr = err
		if !isRetryableAnthropic(err) {
			return nil, err
		}
	}
	if stream == nil {
		return nil, lastErr
	}

	out := make(chan *llmgateway.Chunk)
	go processAnthropicStream(stream, out)
	return out, nil
}

func (p *AnthropicProvider) buildParams(model string, req *llmgateway.Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
		Messages:  convertMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}
	if req.EnableThinking {
		budget := int64(req.ThinkingBudgetTokens)
		if budget < 1024 {
			budget = 10000
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}
	return params
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return 4096
	}
	return n
}

func convertMessages(msgs []llmgateway.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == "system" {
			continue // carried via params.System
		}
		var blocks []anthropic.ContentBlockParamUnion
		if m.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(m.Content))
		}
		for _, tc := range m.ToolCalls {
			var input any
			_ = json.Unmarshal([]byte(tc.Input), &input)
			blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if m.ToolResult != nil {
			blocks = append(blocks, anthropic.NewToolResultBlock(m.ToolResult.ToolCallID, m.ToolResult.Content, m.ToolResult.IsError))
		}
		role := anthropic.MessageParamRoleUser
		if m.Role == "assistant" {
			role = anthropic.MessageParamRoleAssistant
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}
	return out
}

func convertTools(tools []llmgateway.ToolDescriptor) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.Schema, &schema); err != nil {
			continue
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if toolParam.OfTool != nil {
			toolParam.OfTool.Description = anthropic.String(t.Description)
		}
		out = append(out, toolParam)
	}
	return out
}

func isRetryableAnthropic(err error) bool {
	return isRetryableGeneric(err)
}
