package tools

import (
	"context"
	"encoding/json"

	"github.com/invopop/jsonschema"

	"github.com/conclave-run/conclave/internal/domain"
)

// schemaFor generates a JSON schema for a parameter struct using
// invopop/jsonschema, the generator nexus's tool declarations are built
// with for in-process tool types (as opposed to jsonschema/v5, which this
// package uses on the validation side).
func schemaFor(v any) json.RawMessage {
	reflector := &jsonschema.Reflector{ExpandedStruct: true}
	schema := reflector.Reflect(v)
	b, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return b
}

// SearchKnowledgeParams is the argument shape for the built-in
// search_knowledge tool.
type SearchKnowledgeParams struct {
	Query string `json:"query" jsonschema:"required,description=Free-text search query"`
}

// KnowledgeSearcher is the collaborator search_knowledge delegates to. It
// is intentionally minimal — the spec names the tool in its test
// scenarios (§8 scenario 2) without prescribing a backing knowledge
// store, so this interface is the seam a deployment plugs a real search
// index into.
type KnowledgeSearcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// SearchKnowledgeTool implements Tool for free-text knowledge lookups.
type SearchKnowledgeTool struct {
	searcher KnowledgeSearcher
}

// NewSearchKnowledgeTool builds the tool over a KnowledgeSearcher.
func NewSearchKnowledgeTool(searcher KnowledgeSearcher) *SearchKnowledgeTool {
	return &SearchKnowledgeTool{searcher: searcher}
}

func (t *SearchKnowledgeTool) Name() string { return "search_knowledge" }

func (t *SearchKnowledgeTool) Description() string {
	return "Searches the knowledge base for passages relevant to a free-text query."
}

func (t *SearchKnowledgeTool) Schema() json.RawMessage {
	return schemaFor(SearchKnowledgeParams{})
}

func (t *SearchKnowledgeTool) Execute(ctx context.Context, arguments json.RawMessage) (*domain.ToolResult, error) {
	var params SearchKnowledgeParams
	if err := json.Unmarshal(arguments, &params); err != nil {
		return nil, domain.NewToolError(t.Name(), "invalid arguments: "+err.Error())
	}
	content, err := t.searcher.Search(ctx, params.Query)
	if err != nil {
		return &domain.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	return &domain.ToolResult{Content: content}, nil
}
