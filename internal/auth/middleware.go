package auth

import (
	"context"
	"encoding/json"
	"net/http"
)

type contextKey struct{}

// TokenFromContext returns the bearer token accepted by Middleware.
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(contextKey{}).(string)
	return token
}

// WithToken stores a bearer token in the context.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, contextKey{}, token)
}

// Middleware returns an HTTP middleware that requires a bearer credential.
// Only the presence of "Bearer <token>" is checked; the token is never
// compared against the one issued by Login. Requests to skipPaths and CORS
// preflight requests pass through. onReject, when non-nil, is called for
// every rejected request.
func Middleware(skipPaths []string, onReject func(r *http.Request)) func(http.Handler) http.Handler {
	skipSet := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skipSet[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipSet[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				if onReject != nil {
					onReject(r)
				}
				writeAuthError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithToken(r.Context(), token)))
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": message,
		"code":  "unauthorized",
	})
}
