package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

type principalKey struct{}

// WithPrincipal stores the principal name in the context.
func WithPrincipal(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, principalKey{}, name)
}

// PrincipalFromContext extracts the principal name from the context.
func PrincipalFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(principalKey{}).(string)
	return name, ok
}

// Authenticate accepts a Bearer token verified by any of validators, tried
// in order, and stores its principal in the request context. It responds 401
// when no validator accepts the token. With no validators every request
// passes unauthenticated.
func Authenticate(logger *slog.Logger, validators ...JWTValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(validators) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || tokenStr == "" {
				writeUnauthorized(w)
				return
			}
			for _, v := range validators {
				claims, err := v.Validate(r.Context(), tokenStr)
				if err != nil {
					logger.Debug("token rejected", "error", err, "request_id", RequestIDFromContext(r.Context()))
					continue
				}
				if principal := claims.Principal(); principal != "" {
					next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
					return
				}
			}
			writeUnauthorized(w)
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"code":    401,
		"message": "unauthorized: provide a valid Bearer token",
	})
}
