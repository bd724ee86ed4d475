package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-otp-auth/internal/domain"
)

type contextKey string

const claimsKey contextKey = "claims"

// TokenValidator checks a bearer credential and returns its claims.
type TokenValidator interface {
	Validate(token string) (*domain.Claims, error)
}

// Auth returns middleware that validates the Bearer credential and injects
// claims into context. A missing token is 401, a bad or expired one 403.
func Auth(v TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "Access Denied")
				return
			}
			claims, err := v.Validate(tokenStr)
			if err != nil {
				writeJSONError(w, http.StatusForbidden, "Invalid Token")
				return
			}
			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext extracts credential claims from the request context.
func ClaimsFromContext(ctx context.Context) (*domain.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*domain.Claims)
	return c, ok
}

// WithClaims returns ctx carrying c, as Auth would.
func WithClaims(ctx context.Context, c *domain.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
