package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/conclave-run/conclave/internal/llmgateway"
)

// OpenAIProvider implements llmgateway.Provider for the OpenAI chat completion
// API. Grounded on nexus's internal/agent/providers/openai.go.
type OpenAIProvider struct {
	client     *openai.Client
	maxRetries int
	retryDelay time.Duration
}

// NewOpenAIProvider builds a provider from an API key.
func NewOpenAIProvider(apiKey string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("providers: openai api key is required")
	}
	return &OpenAIProvider{
		client:     openai.NewClient(apiKey),
		maxRetries: 3,
		retryDelay: time.Second,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) SupportsTools() bool { return true }

func (p *OpenAIProvider) Models() []llmgateway.ModelInfo {
	return []llmgateway.ModelInfo{
		{ID: "gpt-5", ContextSize: 400000, SupportsVision: true},
		{ID: "gpt-5-mini", ContextSize: 400000, SupportsVision: true},
	}
}

func (p *OpenAIProvider) Complete(ctx context.Context, req *llmgateway.Request) (*llmgateway.Response, error) {
	chunks, err := p.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	resp := &llmgateway.Response{Model: req.Model, FinishReason: llmgateway.FinishStop}
	var toolCalls []llmgateway.ToolCallRef
	for c := range chunks {
		if c.Err != nil {
			return nil, c.Err
		}
		switch c.Kind {
		case llmgateway.ChunkContent:
			resp.Content += c.Delta
		case llmgateway.ChunkToolCall:
			toolCalls = append(toolCalls, *c.ToolCall)
		case llmgateway.ChunkDone:
			resp.InputTokens = c.InputTokens
			resp.OutputTokens = c.OutputTokens
		}
	}
	resp.ToolCalls = toolCalls
	if len(toolCalls) > 0 {
		resp.FinishReason = llmgateway.FinishToolCalls
	}
	return resp, nil
}

func (p *OpenAIProvider) Stream(ctx context.Context, req *llmgateway.Request) (<-chan *llmgateway.Chunk, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    convertOpenAIMessages(req.Messages, req.System),
		Stream:      true,
		Temperature: float32(req.Temperature),
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	for _, t := range req.Tools {
		var params map[string]any
		_ = json.Unmarshal(t.Schema, &params)
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}
		s, err := p.client.CreateChatCompletionStream(ctx, chatReq)
		if err == nil {
			stream = s
			break
		}
		lastErr = err
		if !isRetryableGeneric(err) {
			return nil, err
		}
	}
	if stream == nil {
		return nil, lastErr
	}

	out := make(chan *llmgateway.Chunk)
	go processOpenAIStream(stream, out)
	return out, nil
}

func processOpenAIStream(stream *openai.ChatCompletionStream, out chan<- *llmgateway.Chunk) {
	defer close(out)
	defer stream.Close()

	toolCalls := make(map[int]*llmgateway.ToolCallRef)

	for {
		resp, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				for _, tc := range toolCalls {
					if tc.ID != "" {
						out <- &llmgateway.Chunk{Kind: llmgateway.ChunkToolCall, ToolCall: tc}
					}
				}
				out <- &llmgateway.Chunk{Kind: llmgateway.ChunkDone, FinishReason: llmgateway.FinishStop}
				return
			}
			out <- &llmgateway.Chunk{Err: err}
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			out <- &llmgateway.Chunk{Kind: llmgateway.ChunkContent, Delta: delta.Content}
		}
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			if toolCalls[idx] == nil {
				toolCalls[idx] = &llmgateway.ToolCallRef{}
			}
			if tc.ID != "" {
				toolCalls[idx].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[idx].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[idx].Input += tc.Function.Arguments
			}
		}
	}
}

func convertOpenAIMessages(msgs []llmgateway.Message, system string) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range msgs {
		oaiMsg := openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
		if m.ToolResult != nil {
			oaiMsg.Role = openai.ChatMessageRoleTool
			oaiMsg.ToolCallID = m.ToolResult.ToolCallID
			oaiMsg.Content = m.ToolResult.Content
		}
		for _, tc := range m.ToolCalls {
			oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Input,
				},
			})
		}
		out = append(out, oaiMsg)
	}
	return out
}
