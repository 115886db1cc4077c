package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"ai_gateway/internal/auth"
	"ai_gateway/internal/storage"
	"ai_gateway/internal/utils"
)

// ContextKey defines the type for context keys to avoid conflicts
type ContextKey string

const (
	// SessionIDKey is the context key for the authenticated demo session ID
	SessionIDKey ContextKey = "sessionID"
)

// SessionTokenMiddleware validates demo session JWTs for protected routes and
// adds the session ID to the request context. Parsed tokens are cached by
// hash; a token always maps to the same session, so entries never go stale.
// Session expiry is still enforced downstream against demo_expires_at, so a
// cache hit on a just-expired token cannot extend a session.
func SessionTokenMiddleware(secret []byte, cache *storage.LRUCache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("X-Session-Token")
			if token == "" {
				// Try Authorization header with "Bearer" prefix
				authHeader := r.Header.Get("Authorization")
				if authHeader != "" && strings.HasPrefix(authHeader, "Bearer ") {
					token = strings.TrimPrefix(authHeader, "Bearer ")
				}
			}

			if token == "" {
				utils.RespondWithError(w, http.StatusUnauthorized, "Missing session token")
				return
			}

			var cacheKey string
			if cache != nil {
				cacheKey = auth.HashToken(token)
				if cached, ok := cache.Get(cacheKey); ok {
					if sessionID, ok := cached.(string); ok {
						ctx := context.WithValue(r.Context(), SessionIDKey, sessionID)
						next.ServeHTTP(w, r.WithContext(ctx))
						return
					}
				}
			}

			sessionID, err := auth.ParseSessionToken(token, secret)
			if err != nil {
				if errors.Is(err, auth.ErrTokenExpired) {
					utils.RespondWithError(w, http.StatusUnauthorized, "Session token expired")
					return
				}
				utils.RespondWithError(w, http.StatusUnauthorized, "Invalid session token")
				return
			}

			if cache != nil {
				cache.Set(cacheKey, sessionID)
			}

			ctx := context.WithValue(r.Context(), SessionIDKey, sessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSessionID retrieves the authenticated session ID from the request context
func GetSessionID(ctx context.Context) (string, bool) {
	sessionID, ok := ctx.Value(SessionIDKey).(string)
	return sessionID, ok
}
