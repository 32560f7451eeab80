// Package tools implements the Tool Registry (§4.2): a set of declared
// tool schemas dispatched by name, with JSON-schema validation of
// arguments before execution.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/conclave-run/conclave/internal/domain"
	"github.com/conclave-run/conclave/internal/llmgateway"
)

// Tool is one callable function exposed to the model. Grounded on nexus's
// internal/agent.Tool interface shape.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, arguments json.RawMessage) (*domain.ToolResult, error)
}

// Registry holds declared tools and dispatches invocations by name.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool, compiling its JSON schema eagerly so malformed
// schemas fail at registration time rather than at first dispatch.
func (r *Registry) Register(t Tool) error {
	compiler := jsonschema.NewCompiler()
	schemaURL := "tool://" + t.Name()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(t.Schema())); err != nil {
		return fmt.Errorf("tools: invalid schema for %q: %w", t.Name(), err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return fmt.Errorf("tools: compiling schema for %q: %w", t.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
	r.schemas[t.Name()] = schema
	return nil
}

// DescriptorsForLLM returns the tool declarations in the shape the gateway
// passes upstream.
func (r *Registry) DescriptorsForLLM() []llmgateway.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]llmgateway.ToolDescriptor, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, llmgateway.ToolDescriptor{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      t.Schema(),
		})
	}
	return out
}

// Execute validates arguments against the declared schema and dispatches
// to the tool implementation. Unknown names or schema violations produce a
// domain.ToolError — per §7's propagation policy, this error is meant to
// be reported back to the model as a failed tool result by the caller
// (Chat Engine), not surfaced directly.
func (r *Registry) Execute(ctx context.Context, toolCallID, name string, arguments json.RawMessage) *domain.ToolResult {
	start := time.Now()

	r.mu.RLock()
	t, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if !ok {
		return errorResult(toolCallID, name, domain.NewToolError(name, "unknown tool").Error(), start)
	}

	var decoded any
	if len(arguments) == 0 {
		arguments = json.RawMessage("{}")
	}
	if err := json.Unmarshal(arguments, &decoded); err != nil {
		return errorResult(toolCallID, name, domain.NewToolError(name, "malformed arguments: "+err.Error()).Error(), start)
	}
	if schema != nil {
		if err := schema.Validate(decoded); err != nil {
			return errorResult(toolCallID, name, domain.NewToolError(name, "arguments failed schema validation: "+err.Error()).Error(), start)
		}
	}

	result, err := t.Execute(ctx, arguments)
	if err != nil {
		return errorResult(toolCallID, name, err.Error(), start)
	}
	result.ToolCallID = toolCallID
	result.Name = name
	result.DurationMS = time.Since(start).Milliseconds()
	return result
}

func errorResult(toolCallID, name, content string, start time.Time) *domain.ToolResult {
	return &domain.ToolResult{
		ToolCallID: toolCallID,
		Name:       name,
		Content:    content,
		IsError:    true,
		DurationMS: time.Since(start).Milliseconds(),
	}
}

