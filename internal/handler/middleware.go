package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/boddenberg/fleet-invoice-bfa-go/internal/domain"
	"github.com/boddenberg/fleet-invoice-bfa-go/internal/infra/observability"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// SessionMiddleware identifies the caller from the Authorization header and
// stores a domain.Session in the request context. The header value is kept
// as received so it can be forwarded to the invoicing API unchanged.
//
// The session id is the token's subject. With a secret the token must be a
// valid HS256 JWT; without one the claims are read unverified, and tokens
// that are not JWTs at all are keyed by their SHA-256 digest.
func SessionMiddleware(secret string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				logger.Warn("session: missing token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "authentication token not provided")
				return
			}

			id, err := sessionID(stripScheme(raw), secret)
			if err != nil {
				logger.Warn("session: invalid token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			observability.AnnotateRequest(r.Context(), zap.String("session_id", id))
			ctx := domain.WithSession(r.Context(), domain.Session{ID: id, Token: raw})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func stripScheme(header string) string {
	if scheme, rest, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(rest)
	}
	return header
}

func sessionID(token, secret string) (string, error) {
	claims := jwt.MapClaims{}

	if secret != "" {
		_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			return "", err
		}
		return subject(claims)
	}

	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		sum := sha256.Sum256([]byte(token))
		return "tok:" + hex.EncodeToString(sum[:16]), nil
	}
	return subject(claims)
}

// subject reads the caller id from the standard "sub" claim, falling back to
// the "id" and "userId" claims some issuers use instead.
func subject(claims jwt.MapClaims) (string, error) {
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}
	for _, key := range []string{"id", "userId"} {
		switch v := claims[key].(type) {
		case string:
			if v != "" {
				return v, nil
			}
		case float64:
			return fmt.Sprintf("%.0f", v), nil
		}
	}
	return "", fmt.Errorf("token carries no subject")
}
