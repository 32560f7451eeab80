package llmgateway

import (
	"context"
	"errors"

	"github.com/conclave-run/conclave/internal/domain"
)

// Candidate is one (provider, model) pair in a fallback chain.
type Candidate struct {
	Provider string
	Model    string
}

// RunFunc performs one attempt against a resolved candidate. Grounded on
// nexus's internal/models.RunFunc[T], generalized to the gateway's own
// Request/Response types instead of a generic parameter, since the gateway
// only ever runs completion or streaming attempts.
type RunFunc func(ctx context.Context, candidate Candidate) (*Response, error)

// nonRetryable reports whether an error should abort the fallback chain
// immediately rather than trying the next candidate — "do not retry on
// authentication or argument-shape errors" (§4.1).
func nonRetryable(err error) bool {
	var le *domain.LLMError
	if errors.As(err, &le) {
		return le.Kind == domain.LLMUpstream4xx
	}
	return false
}

// RunWithFallback tries the primary candidate, then each fallback in order,
// stopping at the first success, the first non-retryable error, or when
// the candidate list is exhausted. Circuit-open errors are themselves
// non-retryable failures for THIS candidate's breaker but do not by
// themselves stop the chain — the next candidate is a different provider
// with its own breaker.
//
// Grounded on nexus's internal/models.RunWithModelFallback, adapted to
// return a single error (wrapping every attempt) rather than a generic
// FallbackResult, since the gateway's only caller is internal Complete/
// Stream plumbing.
func RunWithFallback(ctx context.Context, candidates []Candidate, run RunFunc) (*Response, error) {
	if len(candidates) == 0 {
		return nil, domain.NewLLMError(domain.LLMNetwork, errors.New("no candidates configured"))
	}
	var lastErr error
	for _, c := range candidates {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp, err := run(ctx, c)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if nonRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}
