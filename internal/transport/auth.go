package transport

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrAuthDisabled is returned when no signing key is configured.
var ErrAuthDisabled = errors.New("transport: bearer auth disabled (no signing key configured)")

// ErrInvalidToken is returned for a missing, malformed, or expired token.
var ErrInvalidToken = errors.New("transport: invalid or expired bearer token")

// tokenClaims is the subset of registered claims this transport checks.
type tokenClaims struct {
	jwt.RegisteredClaims
}

// TokenVerifier validates bearer tokens ahead of every REST/WS request,
// grounded on nexus's internal/auth.JWTService but trimmed to
// verification only — issuing tokens is an operator/ops concern outside
// this engine's scope.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier builds a verifier from a signing key. An empty key
// disables auth entirely (useful for local/dev transport instances).
func NewTokenVerifier(signingKey string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(signingKey)}
}

func (v *TokenVerifier) enabled() bool {
	return v != nil && len(v.secret) > 0
}

// Validate parses and validates a bearer token.
func (v *TokenVerifier) Validate(token string) (*tokenClaims, error) {
	if !v.enabled() {
		return nil, ErrAuthDisabled
	}
	parsed, err := jwt.ParseWithClaims(token, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// requireBearer wraps next with a bearer-token check. A nil or disabled
// verifier is a no-op, so a deployment without a signing key runs open.
func requireBearer(verifier *TokenVerifier, next http.HandlerFunc) http.HandlerFunc {
	if !verifier.enabled() {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if _, err := verifier.Validate(token); err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next(w, r)
	}
}
