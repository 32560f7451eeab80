package llmgateway

import (
	"context"
	"errors"
	"strings"

	"github.com/conclave-run/conclave/internal/domain"
)

// classify maps a raw provider error into one of the LLMError kinds named
// in §7. Grounded on nexus's internal/agent.classifyProviderError /
// internal/models.classifyErrorReason string-matching approach — upstream
// SDKs rarely expose typed status codes through a common interface, so
// substring classification on the error text is the pattern the teacher
// uses throughout its provider layer.
func classify(err error) domain.LLMErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.LLMTimeout
	}
	if domain.IsCircuitOpen(err) {
		return domain.LLMCircuitOpen
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return domain.LLMTimeout
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"):
		return domain.LLMUpstream4xx
	case strings.Contains(msg, "401"), strings.Contains(msg, "403"),
		strings.Contains(msg, "unauthorized"), strings.Contains(msg, "invalid_request"),
		strings.Contains(msg, "400"), strings.Contains(msg, "422"):
		return domain.LLMUpstream4xx
	case strings.Contains(msg, "500"), strings.Contains(msg, "502"),
		strings.Contains(msg, "503"), strings.Contains(msg, "504"),
		strings.Contains(msg, "internal server error"), strings.Contains(msg, "bad gateway"),
		strings.Contains(msg, "service unavailable"), strings.Contains(msg, "gateway timeout"):
		return domain.LLMUpstream5xx
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"), strings.Contains(msg, "network"):
		return domain.LLMNetwork
	default:
		return domain.LLMUpstream5xx
	}
}
