package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/conclave-run/conclave/internal/llmgateway"
)

// BedrockProvider implements llmgateway.Provider over AWS Bedrock's
// ConverseStream API. Grounded on nexus's internal/agent/providers/bedrock.go.
type BedrockProvider struct {
	client       *bedrockruntime.Client
	defaultModel string
}

// BedrockConfig configures a BedrockProvider.
type BedrockConfig struct {
	Region       string
	DefaultModel string
}

// NewBedrockProvider resolves AWS credentials via the default chain and
// builds a Bedrock runtime client.
func NewBedrockProvider(ctx context.Context, cfg BedrockConfig) (*BedrockProvider, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("providers: loading aws config: %w", err)
	}
	defaultModel := cfg.DefaultModel
	if defaultModel == "" {
		defaultModel = "anthropic.claude-sonnet-4-5-v1:0"
	}
	return &BedrockProvider{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: defaultModel,
	}, nil
}

func (p *BedrockProvider) Name() string { return "bedrock" }

func (p *BedrockProvider) SupportsTools() bool { return true }

func (p *BedrockProvider) Models() []llmgateway.ModelInfo {
	return []llmgateway.ModelInfo{
		{ID: "anthropic.claude-sonnet-4-5-v1:0", ContextSize: 200000, SupportsVision: true},
	}
}

func (p *BedrockProvider) Complete(ctx context.Context, req *llmgateway.Request) (*llmgateway.Response, error) {
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
		}
	}
	resp.ToolCalls = toolCalls
	if len(toolCalls) > 0 {
		resp.FinishReason = llmgateway.FinishToolCalls
	}
	return resp, nil
}

func (p *BedrockProvider) Stream(ctx context.Context, req *llmgateway.Request) (<-chan *llmgateway.Chunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	in := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(model),
		Messages: convertBedrockMessages(req.Messages),
	}
	if req.System != "" {
		in.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.System}}
	}
	if req.MaxTokens > 0 {
		in.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(req.MaxTokens))}
	}

	stream, err := p.client.ConverseStream(ctx, in)
	if err != nil {
		return nil, err
	}

	out := make(chan *llmgateway.Chunk)
	go processBedrockStream(ctx, stream, out)
	return out, nil
}

func processBedrockStream(ctx context.Context, stream *bedrockruntime.ConverseStreamOutput, out chan<- *llmgateway.Chunk) {
	defer close(out)
	events := stream.GetStream()
	defer events.Close()

	var toolID, toolName string
	var toolInput strings.Builder

	for {
		select {
		case <-ctx.Done():
			out <- &llmgateway.Chunk{Err: ctx.Err()}
			return
		case event, ok := <-events.Events():
			if !ok {
				if err := events.Err(); err != nil {
					out <- &llmgateway.Chunk{Err: err}
				} else {
					out <- &llmgateway.Chunk{Kind: llmgateway.ChunkDone, FinishReason: llmgateway.FinishStop}
				}
				return
			}
			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if tu, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					toolID = aws.ToString(tu.Value.ToolUseId)
					toolName = aws.ToString(tu.Value.Name)
					toolInput.Reset()
				}
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if delta.Value != "" {
						out <- &llmgateway.Chunk{Kind: llmgateway.ChunkContent, Delta: delta.Value}
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						toolInput.WriteString(*delta.Value.Input)
					}
				}
			case *types.ConverseStreamOutputMemberContentBlockStop:
				if toolID != "" {
					out <- &llmgateway.Chunk{Kind: llmgateway.ChunkToolCall, ToolCall: &llmgateway.ToolCallRef{
						ID: toolID, Name: toolName, Input: toolInput.String(),
					}}
					toolID, toolName = "", ""
				}
			case *types.ConverseStreamOutputMemberMessageStop:
				out <- &llmgateway.Chunk{Kind: llmgateway.ChunkDone, FinishReason: llmgateway.FinishStop}
				return
			}
		}
	}
}

func convertBedrockMessages(msgs []llmgateway.Message) []types.Message {
	out := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == "system" {
			continue
		}
		var content []types.ContentBlock
		if m.Content != "" {
			content = append(content, &types.ContentBlockMemberText{Value: m.Content})
		}
		for _, tc := range m.ToolCalls {
			var input any
			if err := json.Unmarshal([]byte(tc.Input), &input); err != nil {
				input = map[string]any{}
			}
			content = append(content, &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
				ToolUseId: aws.String(tc.ID),
				Name:      aws.String(tc.Name),
				Input:     document.NewLazyDocument(input),
			}})
		}
		if m.ToolResult != nil {
			content = append(content, &types.ContentBlockMemberToolResult{Value: types.ToolResultBlock{
				ToolUseId: aws.String(m.ToolResult.ToolCallID),
				Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: m.ToolResult.Content}},
			}})
		}
		role := types.ConversationRoleUser
		if m.Role == "assistant" {
			role = types.ConversationRoleAssistant
		}
		out = append(out, types.Message{Role: role, Content: content})
	}
	return out
}
