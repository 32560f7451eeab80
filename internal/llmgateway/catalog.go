package llmgateway

import "strings"

// Catalog is the static model-alias table described in §4.1: "the
// requested alias is looked up in a static model catalogue (loaded once,
// readable without locking) and rewritten to the upstream-native
// identifier." Grounded on nexus's internal/models.Model/Aliases shape.
//
// Catalog is built once at startup and never mutated afterward, so no
// locking is needed on the read path (§5: "the model-alias catalogue is
// process-wide, loaded at startup, read-only thereafter").
type Catalog struct {
	byAlias map[string]string // alias (lowercased) -> native upstream id
	native  map[string]struct{}
}

// CatalogEntry declares one upstream model and the aliases that resolve to
// it.
type CatalogEntry struct {
	NativeID string
	Aliases  []string
}

// NewCatalog builds an immutable catalog from a list of entries.
func NewCatalog(entries []CatalogEntry) *Catalog {
	c := &Catalog{
		byAlias: make(map[string]string, len(entries)*2),
		native:  make(map[string]struct{}, len(entries)),
	}
	for _, e := range entries {
		c.native[e.NativeID] = struct{}{}
		c.byAlias[strings.ToLower(e.NativeID)] = e.NativeID
		for _, alias := range e.Aliases {
			c.byAlias[strings.ToLower(alias)] = e.NativeID
		}
	}
	return c
}

// Resolve rewrites an alias to its upstream-native identifier. Unknown
// aliases pass through verbatim, per §4.1.
func (c *Catalog) Resolve(alias string) string {
	if c == nil || alias == "" {
		return alias
	}
	if native, ok := c.byAlias[strings.ToLower(alias)]; ok {
		return native
	}
	return alias
}

// DefaultCatalog is a reasonable out-of-the-box catalog covering the
// providers wired in internal/gateway/providers. Deployments are expected
// to override it via configuration.
func DefaultCatalog() *Catalog {
	return NewCatalog([]CatalogEntry{
		{NativeID: "claude-opus-4-6-20260115", Aliases: []string{"claude-opus", "opus", "claude-best"}},
		{NativeID: "claude-sonnet-4-5-20250929", Aliases: []string{"claude-sonnet", "sonnet", "claude-default"}},
		{NativeID: "claude-haiku-4-5-20251001", Aliases: []string{"claude-haiku", "haiku", "claude-fast"}},
		{NativeID: "gpt-5", Aliases: []string{"gpt5", "openai-best"}},
		{NativeID: "gpt-5-mini", Aliases: []string{"gpt5-mini", "openai-fast"}},
		{NativeID: "gemini-2.5-pro", Aliases: []string{"gemini-pro", "gemini-best"}},
		{NativeID: "anthropic.claude-sonnet-4-5-v1:0", Aliases: []string{"bedrock-sonnet"}},
	})
}

// EstimateTokens implements the token-counting fallback in §4.1: "fall
// back to max(len(content)/4, 1) if the upstream counter is unavailable."
func EstimateTokens(content string) int64 {
	n := int64(len(content) / 4)
	if n < 1 {
		return 1
	}
	return n
}
