package providers

import (
	"errors"
	"strings"
)

var errStreamStalled = errors.New("providers: upstream stream produced no terminal event")

var errUpstreamStreamEvent = errors.New("providers: upstream stream error event")

// isRetryableGeneric classifies a raw SDK error by substring, the same
// heuristic used across the gateway's classify.go.
func isRetryableGeneric(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"):
		return true
	case strings.Contains(msg, "500"), strings.Contains(msg, "502"),
		strings.Contains(msg, "503"), strings.Contains(msg, "504"):
		return true
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return true
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"):
		return true
	default:
		return false
	}
}
