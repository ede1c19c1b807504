package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/web8kameleon-hub/tokengate/internal/auth"
	"github.com/web8kameleon-hub/tokengate/internal/httputil"
)

// ClaimsKey is the context key for validated operator claims.
const ClaimsKey = contextKey("claims")

// AuthMiddleware guards operator routes with bearer JWTs.
type AuthMiddleware struct {
	tokens *auth.TokenManager
}

// NewAuthMiddleware validates tokens with tokens.
func NewAuthMiddleware(tokens *auth.TokenManager) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// RequireRole rejects requests without a valid bearer token carrying role.
func (m *AuthMiddleware) RequireRole(role string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.WriteError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			httputil.WriteError(w, http.StatusUnauthorized, "invalid authorization header")
			return
		}

		claims, err := m.tokens.Validate(parts[1])
		if err != nil {
			httputil.WriteError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		if !claims.HasRole(role) {
			httputil.WriteError(w, http.StatusForbidden, auth.ErrForbidden.Error())
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// GetClaims returns the operator claims stored by RequireRole.
func GetClaims(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(ClaimsKey).(*auth.Claims)
	return claims
}
