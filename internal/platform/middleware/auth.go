package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	jwttoken "lifeconnect/internal/jwt_token"
	"lifeconnect/pkg/requestcontext"
)

// JWTValidator validates a bearer token and returns its claims.
type JWTValidator interface {
	ValidateToken(tokenString string) (*jwttoken.Claims, error)
}

type roleKey struct{}

// ContextKeyRole is exported for tests that build contexts directly.
var ContextKeyRole = roleKey{}

// GetCallerID returns the authenticated caller's subject, "" if the request
// was not authenticated.
func GetCallerID(ctx context.Context) string {
	return requestcontext.CallerID(ctx)
}

// GetRole returns the authenticated caller's role.
func GetRole(ctx context.Context) jwttoken.Role {
	if v, ok := ctx.Value(ContextKeyRole).(jwttoken.Role); ok {
		return v
	}
	return ""
}

// RequireAuth rejects requests without a valid bearer token and puts the
// caller's subject and role into the context.
func RequireAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", GetRequestID(ctx),
				)
				writeUnauthorized(w, "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", GetRequestID(ctx),
				)
				writeUnauthorized(w, "Invalid or expired token")
				return
			}

			ctx = requestcontext.WithCallerID(ctx, claims.Subject)
			ctx = context.WithValue(ctx, ContextKeyRole, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`))
}
