package llmgateway

import (
	"context"
	"fmt"
	"time"

	"github.com/conclave-run/conclave/internal/domain"
	"github.com/conclave-run/conclave/internal/observability"
)

// Gateway is the single choke point for upstream LLM calls (§4.1). It owns
// model alias resolution, one circuit breaker per provider, and the
// fallback chain configured per model.
type Gateway struct {
	catalog   *Catalog
	providers map[string]Provider
	breakers  map[string]*CircuitBreaker
	chains    map[string][]Candidate // alias -> ordered candidates
	fallback  []Candidate            // used when no chain is configured for an alias
	logger    *observability.Logger
	metrics   *Metrics
}

// Config wires a Gateway together.
type Config struct {
	Catalog       *Catalog
	Providers     []Provider
	Chains        map[string][]Candidate
	DefaultChain  []Candidate
	ResetInterval time.Duration
	Logger        *observability.Logger
	Metrics       *Metrics
}

// New builds a Gateway from Config.
func New(cfg Config) *Gateway {
	g := &Gateway{
		catalog:   cfg.Catalog,
		providers: make(map[string]Provider, len(cfg.Providers)),
		breakers:  make(map[string]*CircuitBreaker, len(cfg.Providers)),
		chains:    cfg.Chains,
		fallback:  cfg.DefaultChain,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
	if g.catalog == nil {
		g.catalog = DefaultCatalog()
	}
	if g.chains == nil {
		g.chains = make(map[string][]Candidate)
	}
	for _, p := range cfg.Providers {
		g.providers[p.Name()] = p
		g.breakers[p.Name()] = NewCircuitBreaker(cfg.ResetInterval)
	}
	return g
}

// candidatesFor resolves the configured chain for an alias, falling back
// to a single candidate against the primary provider when no explicit
// chain is registered.
func (g *Gateway) candidatesFor(alias string) []Candidate {
	if chain, ok := g.chains[alias]; ok && len(chain) > 0 {
		return chain
	}
	if len(g.fallback) > 0 {
		return g.fallback
	}
	return nil
}

func (g *Gateway) breakerFor(provider string) *CircuitBreaker {
	b, ok := g.breakers[provider]
	if !ok {
		b = NewCircuitBreaker(DefaultResetInterval)
		g.breakers[provider] = b
	}
	return b
}

// Complete issues a non-streaming completion, trying the fallback chain
// configured for req.Model.
func (g *Gateway) Complete(ctx context.Context, req *Request) (*Response, error) {
	candidates := g.candidatesFor(req.Model)
	if len(candidates) == 0 {
		return nil, domain.Wrap("gateway.Complete", fmt.Errorf("no provider configured for model %q", req.Model))
	}

	start := time.Now()
	resp, err := RunWithFallback(ctx, candidates, func(ctx context.Context, c Candidate) (*Response, error) {
		provider, ok := g.providers[c.Provider]
		if !ok {
			return nil, domain.NewLLMError(domain.LLMUpstream5xx, fmt.Errorf("unknown provider %q", c.Provider))
		}
		breaker := g.breakerFor(c.Provider)
		if !breaker.Allow() {
			if g.metrics != nil {
				g.metrics.CircuitRejections.WithLabelValues(c.Provider).Inc()
			}
			return nil, errCircuitOpen()
		}

		resolved := *req
		resolved.Model = g.catalog.Resolve(c.Model)
		resp, err := provider.Complete(ctx, &resolved)
		if err != nil {
			breaker.RecordFailure()
			kind := classify(err)
			if g.metrics != nil {
				g.metrics.GatewayErrors.WithLabelValues(c.Provider, string(kind)).Inc()
			}
			return nil, domain.NewLLMError(kind, err)
		}
		breaker.RecordSuccess()
		return resp, nil
	})
	if err != nil {
		return nil, domain.Wrap("gateway.Complete", err)
	}
	resp.LatencyMS = time.Since(start).Milliseconds()
	if g.metrics != nil {
		g.metrics.GatewayLatency.Observe(float64(resp.LatencyMS))
	}
	return resp, nil
}

// Stream issues a streaming completion against the first healthy candidate
// in the chain. Mid-stream errors are not retried against the next
// candidate — once bytes have started flowing to the caller the gateway
// commits to that stream, per §4.1: "streams either emit only chunks
// strictly received from upstream or terminate with an error."
func (g *Gateway) Stream(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	candidates := g.candidatesFor(req.Model)
	if len(candidates) == 0 {
		return nil, domain.Wrap("gateway.Stream", fmt.Errorf("no provider configured for model %q", req.Model))
	}

	var lastErr error
	for _, c := range candidates {
		provider, ok := g.providers[c.Provider]
		if !ok {
			continue
		}
		breaker := g.breakerFor(c.Provider)
		if !breaker.Allow() {
			lastErr = errCircuitOpen()
			continue
		}

		resolved := *req
		resolved.Model = g.catalog.Resolve(c.Model)
		ch, err := provider.Stream(ctx, &resolved)
		if err != nil {
			breaker.RecordFailure()
			lastErr = domain.NewLLMError(classify(err), err)
			if nonRetryable(lastErr) {
				return nil, domain.Wrap("gateway.Stream", lastErr)
			}
			continue
		}
		return g.watchStream(breaker, ch), nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no provider available for model %q", req.Model)
	}
	return nil, domain.Wrap("gateway.Stream", lastErr)
}

// watchStream forwards chunks from a provider and records the breaker
// outcome once the upstream stream terminates.
func (g *Gateway) watchStream(breaker *CircuitBreaker, upstream <-chan *Chunk) <-chan *Chunk {
	out := make(chan *Chunk)
	go func() {
		defer close(out)
		for chunk := range upstream {
			if chunk.Err != nil {
				breaker.RecordFailure()
			}
			out <- chunk
			if chunk.Kind == ChunkDone && chunk.Err == nil {
				breaker.RecordSuccess()
			}
		}
	}()
	return out
}

// EstimateTokensFor is the Context Manager's hook into the gateway's token
// counting assistance (§4.1).
func (g *Gateway) EstimateTokensFor(content, modelAlias string) int64 {
	return EstimateTokens(content)
}
