package protection

import (
	"strings"

	"github.com/conclave-run/conclave/internal/domain"
)

// MaxTitleLen and MaxContentBytes mirror the domain-level truncation
// boundaries; validation rejects some malformed input outright rather
// than silently truncating it, per §8's boundary-behavior split between
// "truncate" and "reject" cases.
const (
	MaxTitleLen    = domain.MaxTitleChars
	MaxContentBytes = domain.MaxMessageContentBytes
)

// ValidateSendMessage checks a send_message request's content before it
// reaches the Chat Engine. Empty or whitespace-only content is rejected;
// everything else is sanitized (control characters stripped, oversized
// content truncated) rather than rejected, matching §8.
func ValidateSendMessage(content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", domain.NewValidationError("content", "must not be empty")
	}
	return domain.SanitizeContent(content), nil
}

// ValidateTitle sanitizes and bounds a session title.
func ValidateTitle(title string) string {
	title = strings.TrimSpace(title)
	runes := []rune(title)
	if len(runes) > MaxTitleLen {
		return string(runes[:MaxTitleLen])
	}
	return title
}

// ValidateTemperature enforces the [0,2] range used across providers.
func ValidateTemperature(t float64) error {
	if t < 0 || t > 2 {
		return domain.NewValidationError("temperature", "must be between 0 and 2")
	}
	return nil
}
