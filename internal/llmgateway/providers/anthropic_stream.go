package providers

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/conclave-run/conclave/internal/llmgateway"
)

// anthropicStream is the subset of ssestream.Stream this file depends on,
// named so createStream's return type reads clearly at the call site.
type anthropicStream = ssestream.Stream[anthropic.MessageStreamEventUnion]

func (p *AnthropicProvider) createStream(ctx context.Context, params anthropic.MessageNewParams) (*anthropicStream, error) {
	return p.client.Messages.NewStreaming(ctx, params), nil
}

// maxEmptyStreamEvents guards against a malformed upstream stream that
// never emits a terminal event (grounded on nexus's identical guard in
// internal/agent/providers/anthropic.go).
const maxEmptyStreamEvents = 300

// processAnthropicStream translates Anthropic SSE events into
// llmgateway.Chunk values and closes out once message_stop (or an error)
// arrives.
func processAnthropicStream(stream *anthropicStream, out chan<- *llmgateway.Chunk) {
	defer close(out)

	var inputTokens, outputTokens int64
	var currentToolID, currentToolName string
	var toolInputBuf strings.Builder
	emptyEvents := 0

	for stream.Next() {
		event := stream.Current()
		emptyEvents++
		if emptyEvents > maxEmptyStreamEvents {
			out <- &llmgateway.Chunk{Err: errStreamStalled}
			return
		}

		switch event.Type {
		case "message_start":
			messageStart := event.AsMessageStart()
			inputTokens = messageStart.Message.Usage.InputTokens
			emptyEvents = 0

		case "content_block_start":
			emptyEvents = 0
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				tu := block.AsToolUse()
				currentToolID = tu.ID
				currentToolName = tu.Name
				toolInputBuf.Reset()
			}

		case "content_block_delta":
			emptyEvents = 0
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					out <- &llmgateway.Chunk{Kind: llmgateway.ChunkContent, Delta: delta.Text}
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					out <- &llmgateway.Chunk{Kind: llmgateway.ChunkThinking, Delta: delta.Thinking}
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					toolInputBuf.WriteString(delta.PartialJSON)
				}
			}

		case "content_block_stop":
			emptyEvents = 0
			if currentToolID != "" {
				out <- &llmgateway.Chunk{
					Kind: llmgateway.ChunkToolCall,
					ToolCall: &llmgateway.ToolCallRef{
						ID:    currentToolID,
						Name:  currentToolName,
						Input: toolInputBuf.String(),
					},
				}
				currentToolID = ""
				currentToolName = ""
			}

		case "message_delta":
			emptyEvents = 0
			outputTokens = event.AsMessageDelta().Usage.OutputTokens

		case "message_stop":
			out <- &llmgateway.Chunk{
				Kind:         llmgateway.ChunkDone,
				FinishReason: llmgateway.FinishStop,
				InputTokens:  inputTokens,
				OutputTokens: outputTokens,
			}
			return

		case "error":
			out <- &llmgateway.Chunk{Err: errUpstreamStreamEvent}
			return
		}
	}

	if err := stream.Err(); err != nil {
		out <- &llmgateway.Chunk{Err: err}
	}
}
